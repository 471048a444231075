package macro

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partyhub/server/internal/config"
	"partyhub/server/internal/encounter"
	"partyhub/server/internal/events"
	"partyhub/server/internal/models"
	"partyhub/server/internal/session"
	"partyhub/server/internal/testutils"
)

const (
	partyID    = "party-1"
	campaignID = "camp-1"
)

type scriptedRoller struct {
	values []int
	next   int
}

func (s *scriptedRoller) Roll(sides int) int {
	if s.next >= len(s.values) {
		return 1
	}
	v := s.values[s.next]
	s.next++
	return v
}

type fixture struct {
	store      *testutils.FakeStore
	dispatcher *Dispatcher
	cache      *session.Cache
	tracker    *encounter.Tracker
	roller     *scriptedRoller
}

func newFixture(t *testing.T, cfg config.ChatConfig) *fixture {
	t.Helper()
	if cfg.LogVerbosity == "" {
		cfg.LogVerbosity = config.VerbosityMacros
	}
	if cfg.VisibilityPolicy == "" {
		cfg.VisibilityPolicy = config.VisibilityReject
	}
	if cfg.AbilityMaxUsesPerLevel == 0 {
		cfg.AbilityMaxUsesPerLevel = 3
	}

	store := testutils.NewFakeStore()
	store.Characters["char-alice"] = &models.Character{
		ID: "char-alice", Name: "Alice", Level: 5, PP: 3, IP: 2, SP: 1,
		DP: 30, MaxDP: 30, Edge: 2, BAP: 3,
		AttackStyle: "3d4", DefenseDie: "1d8", Status: models.StatusActive,
	}
	store.Characters["char-bob"] = &models.Character{
		ID: "char-bob", Name: "Bob", Level: 3, PP: 3, IP: 2, SP: 1,
		DP: 20, MaxDP: 20, Edge: 2, BAP: 2,
		AttackStyle: "2d4", DefenseDie: "1d6", Status: models.StatusActive,
	}
	store.NPCs["npc-goblin"] = &models.NPC{
		ID: "npc-goblin", PartyID: partyID, Name: "Goblin", Level: 2,
		PP: 2, IP: 2, SP: 2, DP: 10, MaxDP: 10, Edge: 1,
		AttackStyle: "1d4", DefenseDie: "1d8",
		VisibleToPlayers: true, Status: models.StatusActive,
	}
	store.NPCs["npc-shade"] = &models.NPC{
		ID: "npc-shade", PartyID: partyID, Name: "Shade", Level: 4,
		PP: 3, IP: 2, SP: 1, DP: 20, MaxDP: 20, Edge: 2,
		AttackStyle: "2d4", DefenseDie: "1d8",
		VisibleToPlayers: false, Status: models.StatusActive,
	}
	store.Abilities["char-alice"] = []models.Ability{
		{
			ID: "ab-fire", CharacterID: "char-alice", SlotNumber: 1,
			AbilityType: models.AbilityTypeSpell, DisplayName: "Fireball",
			MacroCommand: "/fireball", PowerSource: "IP",
			EffectType: models.EffectDamage, Die: "2d6",
			MaxUses: 15, UsesRemaining: 15,
		},
		{
			ID: "ab-mend", CharacterID: "char-alice", SlotNumber: 2,
			AbilityType: models.AbilityTypeSpell, DisplayName: "Mend",
			MacroCommand: "/mend", PowerSource: "IP",
			EffectType: models.EffectHeal, Die: "1d6",
			MaxUses: 15, UsesRemaining: 15,
		},
	}

	roller := &scriptedRoller{}
	return &fixture{
		store:      store,
		dispatcher: NewDispatcher(store, roller, cfg),
		cache:      session.NewCache(),
		tracker:    encounter.NewTracker(store, partyID),
		roller:     roller,
	}
}

// bind installs a character snapshot with its abilities, as the hub does
// at connect.
func (f *fixture) bind(t *testing.T, characterID string) *session.Snapshot {
	t.Helper()
	c, ok := f.store.Characters[characterID]
	require.True(t, ok)
	abilities := append([]models.Ability(nil), f.store.Abilities[characterID]...)
	return f.cache.Install(session.FromCharacter(c, abilities))
}

func (f *fixture) request(actor, characterID, text string, isSW bool) *Request {
	return &Request{
		PartyID:     partyID,
		CampaignID:  campaignID,
		Actor:       actor,
		CharacterID: characterID,
		IsSW:        isSW,
		Text:        text,
		Cache:       f.cache,
		Encounter:   f.tracker,
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	f := newFixture(t, config.ChatConfig{})
	res := f.dispatcher.Dispatch(context.Background(), f.request("Alice", "", "/dance", false))
	assert.Nil(t, res.Broadcast)
	assert.Equal(t, "Unknown command: /dance", res.Private)
	assert.Empty(t, f.store.Messages)
}

func TestDispatchRoll(t *testing.T) {
	f := newFixture(t, config.ChatConfig{})
	f.roller.values = []int{3, 1}

	res := f.dispatcher.Dispatch(context.Background(), f.request("Alice", "", "/roll 2d6+3", false))

	require.IsType(t, events.DiceRoll{}, res.Broadcast)
	roll := res.Broadcast.(events.DiceRoll)
	assert.Equal(t, "2d6+3", roll.Dice)
	assert.Equal(t, []int{3, 1}, roll.Breakdown)
	assert.Equal(t, 3, roll.Modifier)
	assert.Equal(t, 7, roll.Result)
	assert.Equal(t, "2d6+3 → (3 + 1) + 3 = 7", roll.Text)

	require.Len(t, f.store.Messages, 1)
	assert.Equal(t, models.MessageTypeDiceRoll, f.store.Messages[0].MessageType)
	assert.Equal(t, campaignID, f.store.Messages[0].CampaignID)
}

func TestDispatchRollUsage(t *testing.T) {
	f := newFixture(t, config.ChatConfig{})

	res := f.dispatcher.Dispatch(context.Background(), f.request("Alice", "", "/roll", false))
	assert.Nil(t, res.Broadcast)
	assert.Contains(t, res.Private, "Usage: /roll")

	res = f.dispatcher.Dispatch(context.Background(), f.request("Alice", "", "/roll 2d20", false))
	assert.Nil(t, res.Broadcast)
	assert.Contains(t, res.Private, "die size")
}

func TestDispatchStatCheckBound(t *testing.T) {
	f := newFixture(t, config.ChatConfig{})
	f.bind(t, "char-bob")
	f.roller.values = []int{4}

	res := f.dispatcher.Dispatch(context.Background(), f.request("Bob", "char-bob", "/pp", false))

	require.IsType(t, events.StatRoll{}, res.Broadcast)
	roll := res.Broadcast.(events.StatRoll)
	assert.Equal(t, "PP", roll.Stat)
	assert.Equal(t, "1d6+5", roll.Dice)
	assert.Equal(t, []int{4}, roll.Breakdown)
	assert.Equal(t, 5, roll.Modifier)
	assert.Equal(t, 9, roll.Result)
}

func TestDispatchStatCheckObserver(t *testing.T) {
	f := newFixture(t, config.ChatConfig{})
	f.roller.values = []int{4}

	res := f.dispatcher.Dispatch(context.Background(), f.request("Watcher", "", "/sp", false))

	roll := res.Broadcast.(events.StatRoll)
	assert.Equal(t, "1d6+1", roll.Dice, "observer rolls with edge=1, stat=0")
	assert.Equal(t, 5, roll.Result)
}

func TestDispatchAttackScenario(t *testing.T) {
	f := newFixture(t, config.ChatConfig{})
	f.bind(t, "char-alice")
	// Defense 5 (+2 PP +1 edge = 8); attack rolls 2, 4, 4 (+3 PP +2 edge).
	f.roller.values = []int{5, 2, 4, 4}

	res := f.dispatcher.Dispatch(context.Background(), f.request("Alice", "char-alice", "/attack @Goblin", false))

	require.IsType(t, events.CombatResult{}, res.Broadcast)
	combat := res.Broadcast.(events.CombatResult)
	assert.Equal(t, "Alice", combat.Attacker)
	assert.Equal(t, "Goblin", combat.Defender)
	assert.Equal(t, []events.IndividualRoll{
		{Attack: 7, Defend: 8, Margin: 0, Damage: 0},
		{Attack: 9, Defend: 8, Margin: 1, Damage: 1},
		{Attack: 9, Defend: 8, Margin: 1, Damage: 1},
	}, combat.Rolls)
	assert.Equal(t, 2, combat.TotalDamage)
	assert.Equal(t, "partial_hit", combat.Outcome)
	assert.Equal(t, 8, combat.DefenderNewDP)

	// Write-through hit the store.
	assert.Equal(t, 8, f.store.NPCs["npc-goblin"].DP)
	require.Len(t, f.store.CombatTurns, 1)
	assert.Equal(t, "attack", f.store.CombatTurns[0].ActionType)
}

func TestDispatchAttackUnknownTarget(t *testing.T) {
	f := newFixture(t, config.ChatConfig{})
	f.bind(t, "char-alice")

	res := f.dispatcher.Dispatch(context.Background(), f.request("Alice", "char-alice", "/attack @Phantom", false))

	assert.Nil(t, res.Broadcast)
	assert.Equal(t, "Target not found: @Phantom. Use /who to see available targets.", res.Private)
	assert.Empty(t, f.store.Messages)
	assert.Empty(t, f.store.CombatTurns)
}

func TestDispatchAttackHiddenNPCForPlayer(t *testing.T) {
	f := newFixture(t, config.ChatConfig{})
	f.bind(t, "char-alice")

	res := f.dispatcher.Dispatch(context.Background(), f.request("Alice", "char-alice", "/attack @Shade", false))
	assert.Contains(t, res.Private, "Target not found")
}

func TestDispatchAttackStoreFailureReverts(t *testing.T) {
	f := newFixture(t, config.ChatConfig{})
	f.bind(t, "char-alice")
	goblin := f.cache.Install(session.FromNPC(f.store.NPCs["npc-goblin"]))
	f.store.FailWrites = true
	f.roller.values = []int{1, 4, 4, 4}

	res := f.dispatcher.Dispatch(context.Background(), f.request("Alice", "char-alice", "/attack @Goblin", false))

	assert.Nil(t, res.Broadcast)
	assert.Contains(t, res.Private, "ref:")
	assert.Equal(t, 10, goblin.DP, "in-memory damage reverted")
}

func TestDispatchAttackLogFailureReverts(t *testing.T) {
	t.Run("combat turn append fails", func(t *testing.T) {
		f := newFixture(t, config.ChatConfig{})
		f.bind(t, "char-alice")
		goblin := f.cache.Install(session.FromNPC(f.store.NPCs["npc-goblin"]))
		f.store.FailCombatTurns = true
		f.roller.values = []int{5, 2, 4, 4}

		res := f.dispatcher.Dispatch(context.Background(), f.request("Alice", "char-alice", "/attack @Goblin", false))

		assert.Nil(t, res.Broadcast)
		assert.Contains(t, res.Private, "Could not record the combat turn")
		assert.Equal(t, 10, goblin.DP, "damage nobody saw must not stick")
		assert.Equal(t, 10, f.store.NPCs["npc-goblin"].DP, "store write-through rolled back")
	})

	t.Run("message append fails", func(t *testing.T) {
		f := newFixture(t, config.ChatConfig{})
		f.bind(t, "char-alice")
		goblin := f.cache.Install(session.FromNPC(f.store.NPCs["npc-goblin"]))
		f.store.FailMessages = true
		f.roller.values = []int{5, 2, 4, 4}

		res := f.dispatcher.Dispatch(context.Background(), f.request("Alice", "char-alice", "/attack @Goblin", false))

		assert.Nil(t, res.Broadcast)
		assert.Equal(t, 10, goblin.DP)
		assert.Equal(t, 10, f.store.NPCs["npc-goblin"].DP)
	})
}

func TestDispatchAbilityLogFailureReverts(t *testing.T) {
	f := newFixture(t, config.ChatConfig{})
	alice := f.bind(t, "char-alice")
	goblin := f.cache.Install(session.FromNPC(f.store.NPCs["npc-goblin"]))
	f.store.FailCombatTurns = true
	f.roller.values = []int{4, 5, 6}

	res := f.dispatcher.Dispatch(context.Background(), f.request("Alice", "char-alice", "/fireball @Goblin", false))

	assert.Nil(t, res.Broadcast)
	assert.Contains(t, res.Private, "Could not record the combat turn")
	assert.Equal(t, 10, goblin.DP, "target damage rolled back")
	assert.Equal(t, 10, f.store.NPCs["npc-goblin"].DP)
	assert.Equal(t, 15, alice.AbilityByCommand("/fireball").UsesRemaining, "use refunded in cache")
	assert.Equal(t, 15, f.store.Abilities["char-alice"][0].UsesRemaining, "use refunded in store")
}

func TestDispatchAbilityDamage(t *testing.T) {
	f := newFixture(t, config.ChatConfig{})
	alice := f.bind(t, "char-alice")
	// Defense 4 (+2 +1 = 7); ability dice 5, 6 (+2 IP +2 edge each... shared bonus).
	f.roller.values = []int{4, 5, 6}

	res := f.dispatcher.Dispatch(context.Background(), f.request("Alice", "char-alice", "/fireball @Goblin", false))

	require.IsType(t, events.AbilityCast{}, res.Broadcast)
	cast := res.Broadcast.(events.AbilityCast)
	assert.Equal(t, "Fireball", cast.Ability)
	assert.Equal(t, []string{"Goblin"}, cast.Targets)
	assert.Equal(t, 14, cast.UsesRemaining)
	require.Len(t, cast.Resolution, 1)
	// 5+4=9 and 6+4=10 vs 7: margins 2 and 3.
	assert.Equal(t, 5, cast.Resolution[0].Damage)
	assert.Equal(t, 5, f.store.NPCs["npc-goblin"].DP)

	// Budget decremented in cache and store.
	assert.Equal(t, 14, alice.AbilityByCommand("/fireball").UsesRemaining)
	assert.Equal(t, 14, f.store.Abilities["char-alice"][0].UsesRemaining)
}

func TestDispatchAbilityHealClamps(t *testing.T) {
	f := newFixture(t, config.ChatConfig{})
	f.bind(t, "char-alice")
	bob := f.cache.Install(session.FromCharacter(f.store.Characters["char-bob"], nil))
	bob.ApplyDamage(3)
	f.roller.values = []int{6} // 6 + 2 IP + 2 edge = 10 healed, clamped to 3

	res := f.dispatcher.Dispatch(context.Background(), f.request("Alice", "char-alice", "/mend @Bob", false))

	cast := res.Broadcast.(events.AbilityCast)
	require.Len(t, cast.Resolution, 1)
	assert.Equal(t, 3, cast.Resolution[0].Healed)
	assert.Equal(t, bob.MaxDP, bob.DP)
	assert.Equal(t, bob.MaxDP, f.store.Characters["char-bob"].DP)
}

func TestDispatchAbilityBudgetExhausted(t *testing.T) {
	f := newFixture(t, config.ChatConfig{})
	alice := f.bind(t, "char-alice")
	alice.AbilityByCommand("/fireball").UsesRemaining = 0

	res := f.dispatcher.Dispatch(context.Background(), f.request("Alice", "char-alice", "/fireball @Goblin", false))

	assert.Nil(t, res.Broadcast)
	assert.Contains(t, res.Private, "no uses left")
}

func TestDispatchAbilityTargetCount(t *testing.T) {
	f := newFixture(t, config.ChatConfig{})
	f.bind(t, "char-alice")
	f.cache.Install(session.FromCharacter(f.store.Characters["char-bob"], nil))

	res := f.dispatcher.Dispatch(context.Background(), f.request("Alice", "char-alice", "/fireball @Goblin @Bob", false))
	assert.Contains(t, res.Private, "exactly one target")

	res = f.dispatcher.Dispatch(context.Background(), f.request("Alice", "char-alice", "/fireball", false))
	assert.Contains(t, res.Private, "Usage: /fireball")
}

func TestDispatchInitiativeSelf(t *testing.T) {
	f := newFixture(t, config.ChatConfig{})
	f.bind(t, "char-alice")
	f.roller.values = []int{4} // 4 + 2 edge = 6

	res := f.dispatcher.Dispatch(context.Background(), f.request("Alice", "char-alice", "/initiative", false))

	require.IsType(t, events.Initiative{}, res.Broadcast)
	init := res.Broadcast.(events.Initiative)
	assert.Equal(t, "Alice", init.CombatantName)
	assert.Equal(t, 6, init.Result)
	assert.False(t, init.Silent)
	assert.True(t, f.tracker.Active())
}

func TestDispatchInitiativeForTargetRequiresSW(t *testing.T) {
	f := newFixture(t, config.ChatConfig{})
	f.bind(t, "char-alice")

	res := f.dispatcher.Dispatch(context.Background(), f.request("Alice", "char-alice", "/initiative @Goblin", false))
	assert.Nil(t, res.Broadcast)
	assert.Contains(t, res.Private, "Only the Story Weaver")
	assert.False(t, f.tracker.Active())
}

func TestDispatchInitiativeSilent(t *testing.T) {
	f := newFixture(t, config.ChatConfig{})
	f.roller.values = []int{5}

	res := f.dispatcher.Dispatch(context.Background(), f.request("Weaver", "", "/initiative silent @Shade", true))

	assert.Nil(t, res.Broadcast, "silent rolls are not announced")
	assert.Contains(t, res.Private, "Shade")
	assert.True(t, f.tracker.Active())

	// Player view omits the hidden NPC; SW view has it.
	assert.Empty(t, f.tracker.Roster("char-alice", false))
	assert.Len(t, f.tracker.Roster("", true), 1)
}

func TestDispatchInitiativeShowAndEnd(t *testing.T) {
	f := newFixture(t, config.ChatConfig{})
	alice := f.bind(t, "char-alice")
	ctx := context.Background()

	res := f.dispatcher.Dispatch(ctx, f.request("Alice", "char-alice", "/initiative show", false))
	assert.Contains(t, res.Private, "No active encounter")

	f.roller.values = []int{4}
	f.dispatcher.Dispatch(ctx, f.request("Alice", "char-alice", "/initiative", false))

	res = f.dispatcher.Dispatch(ctx, f.request("Alice", "char-alice", "/initiative show", false))
	assert.Contains(t, res.Private, "Alice (6)")

	// Spend a use, then end: budgets restore to 3 x level everywhere.
	alice.AbilityByCommand("/fireball").UsesRemaining = 1
	res = f.dispatcher.Dispatch(ctx, f.request("Weaver", "", "/initiative end", true))
	require.IsType(t, events.System{}, res.Broadcast)
	assert.Equal(t, "Encounter ended. Abilities restored.", res.Broadcast.(events.System).Text)
	assert.False(t, f.tracker.Active())
	assert.Equal(t, 15, alice.AbilityByCommand("/fireball").UsesRemaining)
	assert.Equal(t, 15, f.store.Abilities["char-alice"][0].UsesRemaining)

	// Idempotent: ending again is a private state error, no state change.
	res = f.dispatcher.Dispatch(ctx, f.request("Weaver", "", "/initiative end", true))
	assert.Nil(t, res.Broadcast)
	assert.Contains(t, res.Private, "No active encounter")
}

func TestDispatchInitiativeClearSkipsRestore(t *testing.T) {
	f := newFixture(t, config.ChatConfig{})
	alice := f.bind(t, "char-alice")
	ctx := context.Background()

	f.roller.values = []int{4}
	f.dispatcher.Dispatch(ctx, f.request("Alice", "char-alice", "/initiative", false))
	alice.AbilityByCommand("/fireball").UsesRemaining = 1

	res := f.dispatcher.Dispatch(ctx, f.request("Weaver", "", "/initiative clear", true))
	require.IsType(t, events.System{}, res.Broadcast)
	assert.Equal(t, 1, alice.AbilityByCommand("/fireball").UsesRemaining)
	assert.Empty(t, f.store.BudgetResets)
}

func TestDispatchWhoVisibility(t *testing.T) {
	f := newFixture(t, config.ChatConfig{})
	f.bind(t, "char-alice")
	ctx := context.Background()

	res := f.dispatcher.Dispatch(ctx, f.request("Alice", "char-alice", "/who", false))
	assert.Contains(t, res.Private, "Alice")
	assert.Contains(t, res.Private, "Bob", "offline members listed")
	assert.Contains(t, res.Private, "Goblin")
	assert.NotContains(t, res.Private, "Shade")

	res = f.dispatcher.Dispatch(ctx, f.request("Weaver", "", "/who", true))
	assert.Contains(t, res.Private, "Shade (hidden)")
}

func TestDispatchNarrate(t *testing.T) {
	f := newFixture(t, config.ChatConfig{})
	ctx := context.Background()

	res := f.dispatcher.Dispatch(ctx, f.request("Weaver", "", "/narrate The door creaks open.", true))
	require.IsType(t, events.Narration{}, res.Broadcast)
	assert.Equal(t, "The door creaks open.", res.Broadcast.(events.Narration).Text)

	res = f.dispatcher.Dispatch(ctx, f.request("Alice", "", "/narrate nope", false))
	assert.Contains(t, res.Private, "Only the Story Weaver")
}

func TestDispatchPermissionIgnorePolicy(t *testing.T) {
	f := newFixture(t, config.ChatConfig{VisibilityPolicy: config.VisibilityIgnore})

	res := f.dispatcher.Dispatch(context.Background(), f.request("Alice", "", "/narrate nope", false))
	assert.Nil(t, res.Broadcast)
	assert.Empty(t, res.Private, "ignore policy drops the command silently")
}

func TestDispatchThrottle(t *testing.T) {
	f := newFixture(t, config.ChatConfig{MacroThrottleMS: 700})
	now := time.Now()
	f.dispatcher.now = func() time.Time { return now }
	f.roller.values = []int{1, 1, 1}
	ctx := context.Background()

	res := f.dispatcher.Dispatch(ctx, f.request("Alice", "", "/roll 1d6", false))
	assert.NotNil(t, res.Broadcast)

	res = f.dispatcher.Dispatch(ctx, f.request("Alice", "", "/roll 1d6", false))
	assert.Nil(t, res.Broadcast)
	assert.Contains(t, res.Private, "too quickly")
	assert.Len(t, f.store.Messages, 1, "throttled macro is not persisted")

	// Another actor in the same party is unaffected.
	res = f.dispatcher.Dispatch(ctx, f.request("Bob", "", "/roll 1d6", false))
	assert.NotNil(t, res.Broadcast)

	// Past the window the original actor is admitted again.
	now = now.Add(701 * time.Millisecond)
	res = f.dispatcher.Dispatch(ctx, f.request("Alice", "", "/roll 1d6", false))
	assert.NotNil(t, res.Broadcast)
}

func TestDispatchVerbosityPolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("minimal keeps dice and initiative only", func(t *testing.T) {
		f := newFixture(t, config.ChatConfig{LogVerbosity: config.VerbosityMinimal})
		f.bind(t, "char-alice")
		f.roller.values = []int{3, 5, 2, 4, 4, 2}

		res := f.dispatcher.Dispatch(ctx, f.request("Alice", "char-alice", "/roll 1d6", false))
		assert.NotNil(t, res.Broadcast)
		res = f.dispatcher.Dispatch(ctx, f.request("Alice", "char-alice", "/initiative", false))
		assert.NotNil(t, res.Broadcast)
		res = f.dispatcher.Dispatch(ctx, f.request("Alice", "char-alice", "/attack @Goblin", false))
		assert.NotNil(t, res.Broadcast, "broadcast still goes out")

		assert.Len(t, f.store.Messages, 2, "attack row filtered in minimal mode")
	})

	t.Run("off persists nothing", func(t *testing.T) {
		f := newFixture(t, config.ChatConfig{LogVerbosity: config.VerbosityOff})
		f.roller.values = []int{3}

		res := f.dispatcher.Dispatch(ctx, f.request("Alice", "", "/roll 1d6", false))
		assert.NotNil(t, res.Broadcast)
		assert.Empty(t, f.store.Messages)
	})
}

func TestSplitCommand(t *testing.T) {
	cmd, args := splitCommand("/attack @Goblin now")
	assert.Equal(t, "/attack", cmd)
	assert.Equal(t, "@Goblin now", args)

	cmd, _ = splitCommand("/ROLL 2d6")
	assert.Equal(t, "/roll", cmd)

	cmd, _ = splitCommand("hello")
	assert.Empty(t, cmd)
}
