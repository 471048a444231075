package mention

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "partyhub/server/internal/errors"
	"partyhub/server/internal/models"
	"partyhub/server/internal/session"
	"partyhub/server/internal/testutils"
)

const partyID = "party-1"

func newFixture() (*Resolver, *testutils.FakeStore, *session.Cache) {
	store := testutils.NewFakeStore()
	store.Characters["char-1"] = &models.Character{
		ID: "char-1", Name: "Alice", Level: 3, PP: 3, IP: 2, SP: 1,
		DP: 20, MaxDP: 20, Status: models.StatusActive,
	}
	store.Characters["char-2"] = &models.Character{
		ID: "char-2", Name: "Lady Vex", Level: 4, PP: 2, IP: 3, SP: 1,
		DP: 25, MaxDP: 25, Status: models.StatusActive,
	}
	store.NPCs["npc-1"] = &models.NPC{
		ID: "npc-1", PartyID: partyID, Name: "Goblin", Level: 2,
		PP: 2, IP: 2, SP: 2, DP: 10, MaxDP: 10,
		VisibleToPlayers: true, Status: models.StatusActive,
	}
	store.NPCs["npc-2"] = &models.NPC{
		ID: "npc-2", PartyID: partyID, Name: "Shade", Level: 5,
		PP: 3, IP: 2, SP: 1, DP: 30, MaxDP: 30,
		VisibleToPlayers: false, Status: models.StatusActive,
	}
	return NewResolver(store), store, session.NewCache()
}

func TestExtractTokens(t *testing.T) {
	assert.Equal(t, []string{"goblin", "sword"}, ExtractTokens("/attack @goblin with @sword"))
	assert.Empty(t, ExtractTokens("no mentions here"))
	assert.Equal(t, []string{"Lady_Vex"}, ExtractTokens("/heal @Lady_Vex"))
}

func TestResolveCacheFirst(t *testing.T) {
	resolver, _, cache := newFixture()
	live := cache.Install(&session.Snapshot{
		ID: "char-1", Name: "Alice", Kind: session.KindCharacter, DP: 12,
	})

	res, err := resolver.Resolve(context.Background(), "hi @alice", partyID, false, cache)
	require.NoError(t, err)
	require.Len(t, res.Mentions, 1)
	assert.True(t, res.Mentions[0].Live)
	assert.Same(t, live, res.Mentions[0].Snap, "cache hit must return the live snapshot")
}

func TestResolveStoreFallback(t *testing.T) {
	resolver, _, cache := newFixture()

	res, err := resolver.Resolve(context.Background(), "/attack @goblin", partyID, false, cache)
	require.NoError(t, err)
	require.Len(t, res.Mentions, 1)
	target := res.Mentions[0]
	assert.Equal(t, session.KindNPC, target.Kind)
	assert.Equal(t, "npc-1", target.ID)
	assert.False(t, target.Live)
	assert.Equal(t, 10, target.Snap.DP)
}

func TestResolveUnderscoreName(t *testing.T) {
	resolver, _, cache := newFixture()

	res, err := resolver.Resolve(context.Background(), "/heal @Lady_Vex", partyID, false, cache)
	require.NoError(t, err)
	require.Len(t, res.Mentions, 1)
	assert.Equal(t, "Lady Vex", res.Mentions[0].Name)
}

func TestResolveHiddenNPCVisibility(t *testing.T) {
	resolver, _, cache := newFixture()
	ctx := context.Background()

	res, err := resolver.Resolve(ctx, "/attack @shade", partyID, false, cache)
	require.NoError(t, err)
	assert.Empty(t, res.Mentions)
	assert.Equal(t, []string{"shade"}, res.Unresolved)

	res, err = resolver.Resolve(ctx, "/attack @shade", partyID, true, cache)
	require.NoError(t, err)
	require.Len(t, res.Mentions, 1)
	assert.Equal(t, "npc-2", res.Mentions[0].ID)
}

func TestResolveRepairsSparseRecord(t *testing.T) {
	resolver, store, cache := newFixture()
	store.NPCs["npc-4"] = &models.NPC{
		ID: "npc-4", PartyID: partyID, Name: "Wisp", Level: 2,
		PP: 1, IP: 1, SP: 1, VisibleToPlayers: true, Status: models.StatusActive,
	}

	res, err := resolver.Resolve(context.Background(), "/attack @wisp", partyID, false, cache)
	require.NoError(t, err)
	require.Len(t, res.Mentions, 1)

	// Level-derived fields missing from the row are filled from the
	// progression tables so the target can actually defend.
	snap := res.Mentions[0].Snap
	assert.Equal(t, "1d4", snap.DefenseDie)
	assert.Equal(t, 1, snap.Edge)
	assert.Equal(t, 15, snap.MaxDP)
	assert.Equal(t, 15, snap.DP)
}

func TestResolveAmbiguous(t *testing.T) {
	resolver, store, cache := newFixture()
	store.NPCs["npc-3"] = &models.NPC{
		ID: "npc-3", PartyID: partyID, Name: "Alice", VisibleToPlayers: true,
		DP: 8, MaxDP: 8, Status: models.StatusActive,
	}

	res, err := resolver.Resolve(context.Background(), "@alice", partyID, false, cache)
	require.NoError(t, err)
	assert.Empty(t, res.Mentions)
	require.Len(t, res.Ambiguous, 1)
	assert.Equal(t, "alice", res.Ambiguous[0].Token)
	assert.Len(t, res.Ambiguous[0].Candidates, 2)
}

func TestResolveRepeatedToken(t *testing.T) {
	resolver, _, cache := newFixture()

	res, err := resolver.Resolve(context.Background(), "@goblin and @goblin again", partyID, false, cache)
	require.NoError(t, err)
	assert.Len(t, res.Mentions, 2)
}

func TestResolveSingle(t *testing.T) {
	resolver, _, cache := newFixture()
	ctx := context.Background()

	t.Run("happy path", func(t *testing.T) {
		target, err := resolver.ResolveSingle(ctx, "/attack @goblin", partyID, false, cache, "")
		require.NoError(t, err)
		assert.Equal(t, "Goblin", target.Name)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := resolver.ResolveSingle(ctx, "/attack @phantom", partyID, false, cache, "")
		require.Error(t, err)
		assert.True(t, apperrors.IsKind(err, apperrors.KindMention))
		assert.Contains(t, err.Error(), "@phantom")
		assert.Contains(t, err.Error(), "/who")
	})

	t.Run("no mention", func(t *testing.T) {
		_, err := resolver.ResolveSingle(ctx, "/attack", partyID, false, cache, "")
		require.Error(t, err)
		assert.True(t, apperrors.IsKind(err, apperrors.KindMention))
	})

	t.Run("multiple mentions", func(t *testing.T) {
		_, err := resolver.ResolveSingle(ctx, "/attack @goblin @alice", partyID, false, cache, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exactly one target")
	})

	t.Run("type mismatch", func(t *testing.T) {
		_, err := resolver.ResolveSingle(ctx, "/tame @goblin", partyID, false, cache, session.KindCharacter)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "expects a character")
	})
}

func TestResolveDeterministic(t *testing.T) {
	resolver, _, cache := newFixture()
	ctx := context.Background()

	first, err := resolver.Resolve(ctx, "@goblin @nobody", partyID, false, cache)
	require.NoError(t, err)
	second, err := resolver.Resolve(ctx, "@goblin @nobody", partyID, false, cache)
	require.NoError(t, err)

	require.Len(t, first.Mentions, 1)
	require.Len(t, second.Mentions, 1)
	assert.Equal(t, first.Mentions[0].ID, second.Mentions[0].ID)
	assert.Equal(t, first.Unresolved, second.Unresolved)
}
