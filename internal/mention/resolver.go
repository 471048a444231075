package mention

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	apperrors "partyhub/server/internal/errors"
	"partyhub/server/internal/interfaces"
	"partyhub/server/internal/session"
)

var mentionPattern = regexp.MustCompile(`@(\w+)`)

// Target is a resolved @mention: a character or NPC with its combat
// snapshot. Snap is the live cache entry when the combatant is online,
// otherwise a copy built from the store record.
type Target struct {
	Kind string
	ID   string
	Name string
	Snap *session.Snapshot
	Live bool
}

// Candidate names one possible match for an ambiguous token.
type Candidate struct {
	Name string
	Kind string
}

// Ambiguous reports a token that matched more than one combatant.
type Ambiguous struct {
	Token      string
	Candidates []Candidate
}

// Resolution is the full outcome of parsing a text's mentions. The same
// token mentioned twice yields two entries; callers dedupe as needed.
type Resolution struct {
	Mentions   []Target
	Unresolved []string
	Ambiguous  []Ambiguous
}

// Resolver resolves @tokens against the live cache first, then the party's
// characters, then its NPCs (visibility-filtered for players).
type Resolver struct {
	store interfaces.Store
}

func NewResolver(store interfaces.Store) *Resolver {
	return &Resolver{store: store}
}

// ExtractTokens returns the raw @mention tokens in order of appearance.
func ExtractTokens(text string) []string {
	matches := mentionPattern.FindAllStringSubmatch(text, -1)
	tokens := make([]string, 0, len(matches))
	for _, m := range matches {
		tokens = append(tokens, m[1])
	}
	return tokens
}

// Resolve parses all @tokens in text and resolves each against the party.
func (r *Resolver) Resolve(ctx context.Context, text, partyID string, senderIsSW bool, cache *session.Cache) (Resolution, error) {
	var res Resolution
	tokens := ExtractTokens(text)
	if len(tokens) == 0 {
		return res, nil
	}

	for _, token := range tokens {
		target, candidates, err := r.resolveToken(ctx, token, partyID, senderIsSW, cache)
		if err != nil {
			return Resolution{}, err
		}
		switch {
		case target != nil:
			res.Mentions = append(res.Mentions, *target)
		case len(candidates) > 1:
			res.Ambiguous = append(res.Ambiguous, Ambiguous{Token: token, Candidates: candidates})
		default:
			res.Unresolved = append(res.Unresolved, token)
		}
	}
	return res, nil
}

func (r *Resolver) resolveToken(ctx context.Context, token, partyID string, senderIsSW bool, cache *session.Cache) (*Target, []Candidate, error) {
	// Priority 1: live cache, first hit wins.
	if cache != nil {
		if snap := cache.ByName(token); snap != nil {
			return &Target{Kind: snap.Kind, ID: snap.ID, Name: snap.Name, Snap: snap, Live: true}, nil, nil
		}
	}

	want := session.NormalizeName(token)
	var candidates []Candidate
	var target *Target

	// Priority 2: the party's characters, online or not.
	characters, err := r.store.ListPartyCharacters(ctx, partyID)
	if err != nil {
		return nil, nil, apperrors.WrapWithKind(err, apperrors.KindStore, "could not look up party characters")
	}
	for i := range characters {
		c := &characters[i]
		if session.NormalizeName(c.Name) != want {
			continue
		}
		snap := session.FromCharacter(c, nil)
		snap.FillLevelDefaults()
		candidates = append(candidates, Candidate{Name: c.Name, Kind: session.KindCharacter})
		target = &Target{Kind: session.KindCharacter, ID: c.ID, Name: c.Name, Snap: snap}
	}

	// Priority 3: the party's NPCs; players never see hidden ones.
	npcs, err := r.store.ListPartyNPCs(ctx, partyID, senderIsSW)
	if err != nil {
		return nil, nil, apperrors.WrapWithKind(err, apperrors.KindStore, "could not look up party NPCs")
	}
	for i := range npcs {
		n := &npcs[i]
		if session.NormalizeName(n.Name) != want {
			continue
		}
		snap := session.FromNPC(n)
		snap.FillLevelDefaults()
		candidates = append(candidates, Candidate{Name: n.Name, Kind: session.KindNPC})
		target = &Target{Kind: session.KindNPC, ID: n.ID, Name: n.Name, Snap: snap}
	}

	if len(candidates) == 1 {
		return target, nil, nil
	}
	return nil, candidates, nil
}

// ResolveSingle is the strict form for commands expecting exactly one
// target. expectedKind is optional ("" accepts either).
func (r *Resolver) ResolveSingle(ctx context.Context, text, partyID string, senderIsSW bool, cache *session.Cache, expectedKind string) (Target, error) {
	res, err := r.Resolve(ctx, text, partyID, senderIsSW, cache)
	if err != nil {
		return Target{}, err
	}

	if len(res.Unresolved) > 0 {
		return Target{}, apperrors.Mentionf(
			"Target not found: @%s. Use /who to see available targets.", res.Unresolved[0])
	}
	if len(res.Ambiguous) > 0 {
		amb := res.Ambiguous[0]
		names := make([]string, 0, len(amb.Candidates))
		for _, c := range amb.Candidates {
			names = append(names, fmt.Sprintf("%s (%s)", c.Name, c.Kind))
		}
		return Target{}, apperrors.Mentionf(
			"@%s is ambiguous. Found: %s. Please be more specific.", amb.Token, strings.Join(names, ", "))
	}
	if len(res.Mentions) == 0 {
		return Target{}, apperrors.Mention("No target specified. Use @name to target a character or NPC.")
	}
	if len(res.Mentions) > 1 {
		names := make([]string, 0, len(res.Mentions))
		for _, m := range res.Mentions {
			names = append(names, m.Name)
		}
		return Target{}, apperrors.Mentionf(
			"Multiple targets found: %s. This command expects exactly one target.", strings.Join(names, ", "))
	}

	target := res.Mentions[0]
	if expectedKind != "" && target.Kind != expectedKind {
		return Target{}, apperrors.Mentionf(
			"@%s is a %s, but this command expects a %s.", target.Name, target.Kind, expectedKind)
	}
	return target, nil
}
