package encounter

import (
	"context"
	"sort"

	apperrors "partyhub/server/internal/errors"
	"partyhub/server/internal/interfaces"
)

// Combatant is one roster entry. Exactly one of CharacterID/NPCID is set.
type Combatant struct {
	CharacterID string
	NPCID       string
	Name        string
	Roll        int
	PP          int
	IP          int
	SP          int
	Silent      bool
	RolledBySW  bool
	Hidden      bool
}

// Entry is a role-filtered roster row for /initiative show.
type Entry struct {
	Name   string `json:"name"`
	Roll   int    `json:"roll"`
	Silent bool   `json:"silent,omitempty"`
}

// Tracker is the per-party encounter state machine: no encounter, one open
// encounter, back to none when it ends. The party room goroutine is the
// only caller, so no locking is needed here.
type Tracker struct {
	store       interfaces.Store
	partyID     string
	encounterID string
	combatants  []Combatant
}

func NewTracker(store interfaces.Store, partyID string) *Tracker {
	return &Tracker{store: store, partyID: partyID}
}

// Load resumes an open encounter from the store after a restart. Stats for
// tiebreaks are not recoverable from the roll rows; loaded entries sort on
// roll alone.
func (t *Tracker) Load(ctx context.Context) error {
	enc, err := t.store.ActiveEncounter(ctx, t.partyID)
	if err != nil {
		return apperrors.WrapWithKind(err, apperrors.KindStore, "could not load encounter state")
	}
	if enc == nil {
		return nil
	}
	rolls, err := t.store.ListInitiativeRolls(ctx, enc.ID)
	if err != nil {
		return apperrors.WrapWithKind(err, apperrors.KindStore, "could not load initiative rolls")
	}
	t.encounterID = enc.ID
	t.combatants = t.combatants[:0]
	for _, r := range rolls {
		t.combatants = append(t.combatants, Combatant{
			CharacterID: r.CharacterID,
			NPCID:       r.NPCID,
			Name:        r.CombatantName,
			Roll:        r.RollResult,
			Silent:      r.Silent,
			RolledBySW:  r.RolledBySW,
		})
	}
	return nil
}

// Active reports whether an encounter is open.
func (t *Tracker) Active() bool {
	return t.encounterID != ""
}

// EncounterID returns the open encounter's id, or "".
func (t *Tracker) EncounterID() string {
	return t.encounterID
}

// Register adds a combatant's roll, opening a new encounter when none is
// active. A re-roll for the same combatant replaces the prior entry.
func (t *Tracker) Register(ctx context.Context, c Combatant) error {
	if t.encounterID == "" {
		id, err := t.store.StartEncounter(ctx, t.partyID)
		if err != nil {
			return apperrors.WrapWithKind(err, apperrors.KindStore, "could not start encounter")
		}
		t.encounterID = id
	}

	if err := t.store.UpsertInitiativeRoll(ctx, interfaces.InitiativeRollRow{
		EncounterID:   t.encounterID,
		CharacterID:   c.CharacterID,
		NPCID:         c.NPCID,
		CombatantName: c.Name,
		RollResult:    c.Roll,
		Silent:        c.Silent,
		RolledBySW:    c.RolledBySW,
	}); err != nil {
		return apperrors.WrapWithKind(err, apperrors.KindStore, "could not save initiative roll")
	}

	for i := range t.combatants {
		if t.combatants[i].same(c) {
			t.combatants[i] = c
			return nil
		}
	}
	t.combatants = append(t.combatants, c)
	return nil
}

func (a Combatant) same(b Combatant) bool {
	if a.CharacterID != "" {
		return a.CharacterID == b.CharacterID
	}
	return a.NPCID != "" && a.NPCID == b.NPCID
}

// Roster returns the turn order for a viewer, highest roll first with
// PP, IP, SP breaking ties. Players do not see silent rolls they don't own
// or hidden NPCs; the SW sees everything.
func (t *Tracker) Roster(viewerCharacterID string, viewerIsSW bool) []Entry {
	sorted := append([]Combatant(nil), t.combatants...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Roll != b.Roll {
			return a.Roll > b.Roll
		}
		if a.PP != b.PP {
			return a.PP > b.PP
		}
		if a.IP != b.IP {
			return a.IP > b.IP
		}
		return a.SP > b.SP
	})

	entries := make([]Entry, 0, len(sorted))
	for _, c := range sorted {
		if !viewerIsSW {
			if c.Silent && c.CharacterID != viewerCharacterID {
				continue
			}
			if c.Hidden {
				continue
			}
		}
		entries = append(entries, Entry{Name: c.Name, Roll: c.Roll, Silent: c.Silent})
	}
	return entries
}

// Size returns the roster length, unfiltered.
func (t *Tracker) Size() int {
	return len(t.combatants)
}

// End closes the open encounter. With restore=true ability budgets for
// every character in the party reset to 3 x level.
func (t *Tracker) End(ctx context.Context, restore bool) error {
	if t.encounterID == "" {
		return apperrors.State("No active encounter.")
	}

	if err := t.store.EndEncounter(ctx, t.encounterID, restore); err != nil {
		return apperrors.WrapWithKind(err, apperrors.KindStore, "could not end encounter")
	}
	if restore {
		if err := t.store.ResetAbilityBudgets(ctx, t.partyID); err != nil {
			return apperrors.WrapWithKind(err, apperrors.KindStore, "could not restore ability budgets")
		}
	}

	t.encounterID = ""
	t.combatants = t.combatants[:0]
	return nil
}
