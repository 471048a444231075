package models

import (
	"time"

	"gorm.io/gorm"
)

// Party types. The hub treats all four uniformly; routing differences are
// administrative.
const (
	PartyTypeStory    = "story"
	PartyTypeOOC      = "ooc"
	PartyTypeStandard = "standard"
	PartyTypeWhisper  = "whisper"
)

// Character status values. Status derives from DP thresholds.
const (
	StatusActive      = "active"
	StatusUnconscious = "unconscious"
	StatusDead        = "dead"
)

// NPC dispositions.
const (
	NPCTypeHostile = "hostile"
	NPCTypeNeutral = "neutral"
	NPCTypeAlly    = "ally"
)

// Ability classification.
const (
	AbilityTypeSpell     = "spell"
	AbilityTypeTechnique = "technique"
	AbilityTypeSpecial   = "special"

	EffectDamage  = "damage"
	EffectHeal    = "heal"
	EffectBuff    = "buff"
	EffectDebuff  = "debuff"
	EffectUtility = "utility"
)

// Message types and modes.
const (
	MessageTypeChat      = "chat"
	MessageTypeCombat    = "combat"
	MessageTypeSystem    = "system"
	MessageTypeNarration = "narration"
	MessageTypeDiceRoll  = "dice_roll"

	ModeIC  = "IC"
	ModeOOC = "OOC"
)

// Party is a chat/play channel within a campaign.
type Party struct {
	ID               string         `gorm:"primaryKey;size:36" json:"id"`
	Name             string         `gorm:"size:255;not null" json:"name"`
	CampaignID       string         `gorm:"index;size:36" json:"campaign_id"`
	PartyType        string         `gorm:"size:16;not null;default:standard" json:"party_type"`
	StoryWeaverUserID string        `gorm:"index;size:36" json:"story_weaver_user_id"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"-"`
}

// PartyMembership joins characters to parties. left_at IS NULL means the
// membership is still active.
type PartyMembership struct {
	ID          string     `gorm:"primaryKey;size:36" json:"id"`
	PartyID     string     `gorm:"index;size:36;not null" json:"party_id"`
	CharacterID string     `gorm:"index;size:36;not null" json:"character_id"`
	JoinedAt    time.Time  `json:"joined_at"`
	LeftAt      *time.Time `json:"left_at"`
}

// Character is a persisted player character. PP+IP+SP must sum to 6 with
// each stat in [1,3]; edge, BAP and max DP are fixed by level.
type Character struct {
	ID      string `gorm:"primaryKey;size:36" json:"id"`
	Name    string `gorm:"size:128;not null;index" json:"name"`
	OwnerID string `gorm:"size:36;not null;index" json:"owner_id"`

	Level int `gorm:"not null;default:1" json:"level"`
	PP    int `gorm:"not null" json:"pp"`
	IP    int `gorm:"not null" json:"ip"`
	SP    int `gorm:"not null" json:"sp"`

	DP    int `gorm:"not null" json:"dp"`
	MaxDP int `gorm:"not null" json:"max_dp"`
	Edge  int `gorm:"not null;default:0" json:"edge"`
	BAP   int `gorm:"not null;default:1" json:"bap"`

	AttackStyle string `gorm:"size:8;not null" json:"attack_style"`
	DefenseDie  string `gorm:"size:8;not null" json:"defense_die"`

	WeaponBonus int `gorm:"not null;default:0" json:"weapon_bonus"`
	ArmorBonus  int `gorm:"not null;default:0" json:"armor_bonus"`

	Status    string `gorm:"size:16;not null;default:active" json:"status"`
	InCalling bool   `gorm:"not null;default:false" json:"in_calling"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NPC is a party-scoped combatant controlled by the Story Weaver. Hidden
// NPCs (visible_to_players=false) only resolve for the SW.
type NPC struct {
	ID      string `gorm:"primaryKey;size:36" json:"id"`
	PartyID string `gorm:"index;size:36;not null" json:"party_id"`
	Name    string `gorm:"size:128;not null;index" json:"name"`

	Level int `gorm:"not null;default:1" json:"level"`
	PP    int `gorm:"not null;default:2" json:"pp"`
	IP    int `gorm:"not null;default:2" json:"ip"`
	SP    int `gorm:"not null;default:2" json:"sp"`
	DP    int `gorm:"not null;default:10" json:"dp"`
	MaxDP int `gorm:"not null;default:10" json:"max_dp"`
	Edge  int `gorm:"not null;default:0" json:"edge"`
	BAP   int `gorm:"not null;default:1" json:"bap"`

	AttackStyle string `gorm:"size:8;not null;default:1d4" json:"attack_style"`
	DefenseDie  string `gorm:"size:8;not null;default:1d4" json:"defense_die"`

	VisibleToPlayers bool   `gorm:"not null;default:true" json:"visible_to_players"`
	NPCType          string `gorm:"size:16;not null;default:neutral" json:"npc_type"`
	CreatedBy        string `gorm:"size:36;not null;index" json:"created_by"`

	Status string `gorm:"size:16;not null;default:active" json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Ability is a custom spell/technique bound to one of a character's five
// slots and triggered by its macro command.
type Ability struct {
	ID          string `gorm:"primaryKey;size:36" json:"id"`
	CharacterID string `gorm:"index;size:36;not null" json:"character_id"`
	SlotNumber  int    `gorm:"not null" json:"slot_number"`
	AbilityType string `gorm:"size:16;not null" json:"ability_type"`
	DisplayName string `gorm:"size:128;not null" json:"display_name"`

	MacroCommand string `gorm:"size:64;not null;index" json:"macro_command"`
	PowerSource  string `gorm:"size:4;not null" json:"power_source"`
	EffectType   string `gorm:"size:16;not null" json:"effect_type"`
	Die          string `gorm:"size:8;not null" json:"die"`
	IsAOE        bool   `gorm:"not null;default:false" json:"is_aoe"`

	MaxUses       int `gorm:"not null;default:3" json:"max_uses"`
	UsesRemaining int `gorm:"not null;default:3" json:"uses_remaining"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Encounter tracks one combat per party. At most one row per party has
// Active=true.
type Encounter struct {
	ID        string     `gorm:"primaryKey;size:36" json:"id"`
	PartyID   string     `gorm:"index;size:36;not null" json:"party_id"`
	Active    bool       `gorm:"not null;default:true" json:"active"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at"`
}

// InitiativeRoll records one combatant's place in an encounter. Exactly one
// of CharacterID/NPCID is set; re-rolls replace the prior row.
type InitiativeRoll struct {
	ID          string `gorm:"primaryKey;size:36" json:"id"`
	EncounterID string `gorm:"index;size:36;not null" json:"encounter_id"`
	CharacterID string `gorm:"index;size:36" json:"character_id"`
	NPCID       string `gorm:"index;size:36" json:"npc_id"`

	CombatantName string `gorm:"size:128;not null" json:"combatant_name"`
	RollResult    int    `gorm:"not null" json:"roll_result"`
	Silent        bool   `gorm:"not null;default:false" json:"silent"`
	RolledBySW    bool   `gorm:"not null;default:false" json:"rolled_by_sw"`

	CreatedAt time.Time `json:"created_at"`
}

// Message is one persisted chat/combat/system row. ContentHash backs the
// idempotent append.
type Message struct {
	ID         string `gorm:"primaryKey;size:36" json:"id"`
	CampaignID string `gorm:"index;size:36" json:"campaign_id"`
	PartyID    string `gorm:"index;size:36;not null" json:"party_id"`

	SenderID   string `gorm:"index;size:36" json:"sender_id"`
	SenderName string `gorm:"size:128;not null" json:"sender_name"`

	MessageType string `gorm:"size:16;not null;default:chat" json:"message_type"`
	Mode        string `gorm:"size:4" json:"mode"`
	Content     string `gorm:"type:text;not null" json:"content"`
	ExtraData   string `gorm:"type:text" json:"extra_data,omitempty"`
	ContentHash string `gorm:"size:64;index" json:"-"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// CombatTurn logs one combat action for replay and audit.
type CombatTurn struct {
	ID      string `gorm:"primaryKey;size:36" json:"id"`
	PartyID string `gorm:"index;size:36;not null" json:"party_id"`

	CombatantID   string `gorm:"index;size:36;not null" json:"combatant_id"`
	CombatantName string `gorm:"size:128;not null" json:"combatant_name"`

	TurnNumber int    `gorm:"not null;index" json:"turn_number"`
	ActionType string `gorm:"size:16;not null" json:"action_type"`
	ResultData string `gorm:"type:text;not null" json:"result_data"`
	BAPApplied bool   `gorm:"not null;default:false" json:"bap_applied"`
	MessageID  string `gorm:"size:160;not null;index" json:"message_id"`

	Timestamp time.Time `gorm:"index" json:"timestamp"`
}
