package testutils

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"partyhub/server/internal/interfaces"
	"partyhub/server/internal/models"
)

// FakeStore is an in-memory Store for handler and resolver tests. It
// records appended rows so tests can assert on persistence without a
// database.
type FakeStore struct {
	mu sync.Mutex

	Parties    map[string]*models.Party
	Characters map[string]*models.Character
	NPCs       map[string]*models.NPC
	Abilities  map[string][]models.Ability // keyed by character id

	Encounters      map[string]*models.Encounter
	InitiativeRolls map[string][]models.InitiativeRoll // keyed by encounter id

	Messages    []interfaces.MessageRow
	CombatTurns []interfaces.CombatTurnRow

	BudgetResets []string // party ids passed to ResetAbilityBudgets

	// FailWrites makes every write return an error, for revert-path tests.
	// FailCombatTurns and FailMessages fail only that append, so tests can
	// exercise failures after the combat mutations committed.
	FailWrites      bool
	FailCombatTurns bool
	FailMessages    bool
}

func NewFakeStore() *FakeStore {
	return &FakeStore{
		Parties:         make(map[string]*models.Party),
		Characters:      make(map[string]*models.Character),
		NPCs:            make(map[string]*models.NPC),
		Abilities:       make(map[string][]models.Ability),
		Encounters:      make(map[string]*models.Encounter),
		InitiativeRolls: make(map[string][]models.InitiativeRoll),
	}
}

var errWriteFailed = fmt.Errorf("fake store: write failed")

func (f *FakeStore) LoadParty(_ context.Context, id string) (*models.Party, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.Parties[id]; ok {
		return p, nil
	}
	return nil, nil
}

func (f *FakeStore) LoadCharacter(_ context.Context, id string) (*models.Character, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.Characters[id]; ok {
		return c, nil
	}
	return nil, nil
}

func (f *FakeStore) LoadNPC(_ context.Context, id string) (*models.NPC, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n, ok := f.NPCs[id]; ok {
		return n, nil
	}
	return nil, nil
}

func (f *FakeStore) ListPartyCharacters(_ context.Context, partyID string) ([]models.Character, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Character
	for _, c := range f.Characters {
		out = append(out, *c)
	}
	_ = partyID
	return out, nil
}

func (f *FakeStore) ListPartyNPCs(_ context.Context, partyID string, includeHidden bool) ([]models.NPC, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.NPC
	for _, n := range f.NPCs {
		if n.PartyID != partyID {
			continue
		}
		if !includeHidden && !n.VisibleToPlayers {
			continue
		}
		out = append(out, *n)
	}
	return out, nil
}

func (f *FakeStore) ListAbilities(_ context.Context, characterID string) ([]models.Ability, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Ability(nil), f.Abilities[characterID]...), nil
}

func (f *FakeStore) AppendMessage(_ context.Context, row interfaces.MessageRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWrites || f.FailMessages {
		return errWriteFailed
	}
	f.Messages = append(f.Messages, row)
	return nil
}

func (f *FakeStore) AppendCombatTurn(_ context.Context, row interfaces.CombatTurnRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWrites || f.FailCombatTurns {
		return errWriteFailed
	}
	f.CombatTurns = append(f.CombatTurns, row)
	return nil
}

func (f *FakeStore) StartEncounter(_ context.Context, partyID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWrites {
		return "", errWriteFailed
	}
	id := uuid.NewString()
	f.Encounters[id] = &models.Encounter{
		ID: id, PartyID: partyID, Active: true, StartedAt: time.Now(),
	}
	return id, nil
}

func (f *FakeStore) ActiveEncounter(_ context.Context, partyID string) (*models.Encounter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.Encounters {
		if e.PartyID == partyID && e.Active {
			return e, nil
		}
	}
	return nil, nil
}

func (f *FakeStore) EndEncounter(_ context.Context, encounterID string, restoreBudgets bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWrites {
		return errWriteFailed
	}
	e, ok := f.Encounters[encounterID]
	if !ok {
		return fmt.Errorf("fake store: encounter %s not found", encounterID)
	}
	now := time.Now()
	e.Active = false
	e.EndedAt = &now
	_ = restoreBudgets
	return nil
}

func (f *FakeStore) UpsertInitiativeRoll(_ context.Context, row interfaces.InitiativeRollRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWrites {
		return errWriteFailed
	}
	rolls := f.InitiativeRolls[row.EncounterID]
	for i := range rolls {
		same := (row.CharacterID != "" && rolls[i].CharacterID == row.CharacterID) ||
			(row.NPCID != "" && rolls[i].NPCID == row.NPCID)
		if same {
			rolls[i].RollResult = row.RollResult
			rolls[i].Silent = row.Silent
			rolls[i].RolledBySW = row.RolledBySW
			f.InitiativeRolls[row.EncounterID] = rolls
			return nil
		}
	}
	f.InitiativeRolls[row.EncounterID] = append(rolls, models.InitiativeRoll{
		ID:            uuid.NewString(),
		EncounterID:   row.EncounterID,
		CharacterID:   row.CharacterID,
		NPCID:         row.NPCID,
		CombatantName: row.CombatantName,
		RollResult:    row.RollResult,
		Silent:        row.Silent,
		RolledBySW:    row.RolledBySW,
	})
	return nil
}

func (f *FakeStore) ListInitiativeRolls(_ context.Context, encounterID string) ([]models.InitiativeRoll, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.InitiativeRoll(nil), f.InitiativeRolls[encounterID]...), nil
}

func (f *FakeStore) ResetAbilityBudgets(_ context.Context, partyID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWrites {
		return errWriteFailed
	}
	f.BudgetResets = append(f.BudgetResets, partyID)
	for charID, abilities := range f.Abilities {
		c, ok := f.Characters[charID]
		if !ok {
			continue
		}
		for i := range abilities {
			abilities[i].MaxUses = 3 * c.Level
			abilities[i].UsesRemaining = abilities[i].MaxUses
		}
		f.Abilities[charID] = abilities
	}
	return nil
}

func (f *FakeStore) UpdateCharacterDP(_ context.Context, id string, newDP int, newStatus string, inCalling bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWrites {
		return errWriteFailed
	}
	c, ok := f.Characters[id]
	if !ok {
		return fmt.Errorf("fake store: character %s not found", id)
	}
	c.DP = newDP
	c.Status = newStatus
	c.InCalling = inCalling
	return nil
}

func (f *FakeStore) UpdateNPCDP(_ context.Context, id string, newDP int, newStatus string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWrites {
		return errWriteFailed
	}
	n, ok := f.NPCs[id]
	if !ok {
		return fmt.Errorf("fake store: npc %s not found", id)
	}
	n.DP = newDP
	n.Status = newStatus
	return nil
}

func (f *FakeStore) DecrementAbilityUse(_ context.Context, abilityID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailWrites {
		return errWriteFailed
	}
	for charID, abilities := range f.Abilities {
		for i := range abilities {
			if abilities[i].ID == abilityID {
				abilities[i].UsesRemaining--
				f.Abilities[charID] = abilities
				return nil
			}
		}
	}
	return fmt.Errorf("fake store: ability %s not found", abilityID)
}

func (f *FakeStore) RestoreAbilityUse(_ context.Context, abilityID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for charID, abilities := range f.Abilities {
		for i := range abilities {
			if abilities[i].ID == abilityID {
				if abilities[i].UsesRemaining < abilities[i].MaxUses {
					abilities[i].UsesRemaining++
				}
				f.Abilities[charID] = abilities
				return nil
			}
		}
	}
	return fmt.Errorf("fake store: ability %s not found", abilityID)
}

var _ interfaces.Store = (*FakeStore)(nil)
