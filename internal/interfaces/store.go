package interfaces

import (
	"context"
	"time"

	"partyhub/server/internal/models"
)

// MessageRow is the shape handed to AppendMessage. ExtraData carries a
// JSON-serialized structured breakdown (dice rolls, combat detail) when the
// frame had one.
type MessageRow struct {
	PartyID     string
	CampaignID  string
	SenderID    string
	SenderName  string
	MessageType string
	Mode        string
	Content     string
	ExtraData   string
	CreatedAt   time.Time
}

// CombatTurnRow is the shape handed to AppendCombatTurn. TurnNumber and
// MessageID are assigned by the store.
type CombatTurnRow struct {
	PartyID       string
	CombatantID   string
	CombatantName string
	ActionType    string
	ResultData    string
	BAPApplied    bool
}

// InitiativeRollRow upserts one combatant's roll; exactly one of
// CharacterID/NPCID must be set and a re-roll for the same combatant
// replaces the prior row.
type InitiativeRollRow struct {
	EncounterID   string
	CharacterID   string
	NPCID         string
	CombatantName string
	RollResult    int
	Silent        bool
	RolledBySW    bool
}

// Store is the narrow persistence surface the hub and dispatcher consume.
// The core never depends on a particular storage technology.
type Store interface {
	LoadParty(ctx context.Context, id string) (*models.Party, error)
	LoadCharacter(ctx context.Context, id string) (*models.Character, error)
	LoadNPC(ctx context.Context, id string) (*models.NPC, error)

	ListPartyCharacters(ctx context.Context, partyID string) ([]models.Character, error)
	ListPartyNPCs(ctx context.Context, partyID string, includeHidden bool) ([]models.NPC, error)
	ListAbilities(ctx context.Context, characterID string) ([]models.Ability, error)

	AppendMessage(ctx context.Context, row MessageRow) error
	AppendCombatTurn(ctx context.Context, row CombatTurnRow) error

	StartEncounter(ctx context.Context, partyID string) (string, error)
	ActiveEncounter(ctx context.Context, partyID string) (*models.Encounter, error)
	EndEncounter(ctx context.Context, encounterID string, restoreBudgets bool) error
	UpsertInitiativeRoll(ctx context.Context, row InitiativeRollRow) error
	ListInitiativeRolls(ctx context.Context, encounterID string) ([]models.InitiativeRoll, error)

	ResetAbilityBudgets(ctx context.Context, partyID string) error
	UpdateCharacterDP(ctx context.Context, id string, newDP int, newStatus string, inCalling bool) error
	UpdateNPCDP(ctx context.Context, id string, newDP int, newStatus string) error
	DecrementAbilityUse(ctx context.Context, abilityID string) error
	RestoreAbilityUse(ctx context.Context, abilityID string) error
}
