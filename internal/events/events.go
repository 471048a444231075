package events

import (
	"encoding/json"
	"time"
)

// Outbound frame types. The top-level "type" field discriminates on the
// wire.
const (
	TypeChat         = "chat"
	TypeSystem       = "system"
	TypeNarration    = "narration"
	TypeDiceRoll     = "dice_roll"
	TypeStatRoll     = "stat_roll"
	TypeInitiative   = "initiative"
	TypeCombatResult = "combat_result"
	TypeAbilityCast  = "ability_cast"
)

// Event is any outbound frame payload.
type Event interface {
	EventType() string
}

// Marshal serializes an event for the socket write pump.
func Marshal(e Event) ([]byte, error) {
	return json.Marshal(e)
}

// Chat is a plain IC/OOC chat line.
type Chat struct {
	Type      string    `json:"type"`
	Actor     string    `json:"actor"`
	Text      string    `json:"text"`
	Mode      string    `json:"mode"`
	PartyID   string    `json:"party_id"`
	Timestamp time.Time `json:"timestamp"`
}

func (Chat) EventType() string { return TypeChat }

// System carries join/leave notices when broadcast and error replies when
// unicast.
type System struct {
	Type      string    `json:"type"`
	Text      string    `json:"text"`
	PartyID   string    `json:"party_id"`
	Timestamp time.Time `json:"timestamp"`
}

func (System) EventType() string { return TypeSystem }

// Narration is Story Weaver scene-setting text.
type Narration struct {
	Type      string    `json:"type"`
	Actor     string    `json:"actor"`
	Text      string    `json:"text"`
	PartyID   string    `json:"party_id"`
	Timestamp time.Time `json:"timestamp"`
}

func (Narration) EventType() string { return TypeNarration }

// DiceRoll is the result of /roll.
type DiceRoll struct {
	Type      string `json:"type"`
	Actor     string `json:"actor"`
	Dice      string `json:"dice"`
	Breakdown []int  `json:"breakdown"`
	Modifier  int    `json:"modifier"`
	Result    int    `json:"result"`
	Text      string `json:"text"`
}

func (DiceRoll) EventType() string { return TypeDiceRoll }

// StatRoll is a /pp, /ip, /sp check or a /defend roll.
type StatRoll struct {
	Type      string `json:"type"`
	Actor     string `json:"actor"`
	Stat      string `json:"stat"`
	Dice      string `json:"dice"`
	Breakdown []int  `json:"breakdown"`
	Modifier  int    `json:"modifier"`
	Result    int    `json:"result"`
	Text      string `json:"text"`
}

func (StatRoll) EventType() string { return TypeStatRoll }

// Initiative reports one combatant's entry into the turn order.
type Initiative struct {
	Type          string `json:"type"`
	Actor         string `json:"actor"`
	CombatantName string `json:"combatant_name"`
	Dice          string `json:"dice"`
	Breakdown     []int  `json:"breakdown"`
	Modifier      int    `json:"modifier"`
	Result        int    `json:"result"`
	Silent        bool   `json:"silent"`
	RolledBySW    bool   `json:"rolled_by_sw"`
	Text          string `json:"text"`
}

func (Initiative) EventType() string { return TypeInitiative }

// IndividualRoll mirrors dice.IndividualRoll on the wire.
type IndividualRoll struct {
	Attack int `json:"a"`
	Defend int `json:"d"`
	Margin int `json:"margin"`
	Damage int `json:"damage"`
}

// CombatResult is the resolution of /attack.
type CombatResult struct {
	Type          string           `json:"type"`
	Attacker      string           `json:"attacker"`
	Defender      string           `json:"defender"`
	Rolls         []IndividualRoll `json:"individual_rolls"`
	TotalDamage   int              `json:"total_damage"`
	Outcome       string           `json:"outcome"`
	DefenderNewDP int              `json:"defender_new_dp"`
	Narrative     string           `json:"narrative"`
}

func (CombatResult) EventType() string { return TypeCombatResult }

// TargetResolution is the per-target outcome of an ability cast.
type TargetResolution struct {
	Target      string `json:"target"`
	AttackRoll  int    `json:"attack_roll,omitempty"`
	DefendRoll  int    `json:"defend_roll,omitempty"`
	Margin      int    `json:"margin,omitempty"`
	Damage      int    `json:"damage,omitempty"`
	Healed      int    `json:"healed,omitempty"`
	NewDP       int    `json:"new_dp,omitempty"`
	Success     bool   `json:"success"`
	Description string `json:"description,omitempty"`
}

// AbilityCast is the resolution of an ability macro.
type AbilityCast struct {
	Type          string             `json:"type"`
	Caster        string             `json:"caster"`
	Ability       string             `json:"ability"`
	EffectType    string             `json:"effect_type"`
	Targets       []string           `json:"targets"`
	Resolution    []TargetResolution `json:"resolution"`
	UsesRemaining int                `json:"uses_remaining"`
	Text          string             `json:"text"`
}

func (AbilityCast) EventType() string { return TypeAbilityCast }
