package session

import (
	"partyhub/server/internal/models"
	"partyhub/server/internal/rules"
)

// Combatant kinds held in the cache and returned by mention resolution.
const (
	KindCharacter = "character"
	KindNPC       = "npc"
)

// CallingThreshold is the DP floor below which a character enters the
// Calling. Only the flag transition is tracked here.
const CallingThreshold = -10

// Snapshot is a point-in-time copy of a character or NPC installed at
// socket connect. Handlers mutate DP, status and ability budgets directly
// on it; every mutation is written through to the store before broadcast.
type Snapshot struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Kind string `json:"type"`

	PP    int `json:"pp"`
	IP    int `json:"ip"`
	SP    int `json:"sp"`
	Edge  int `json:"edge"`
	BAP   int `json:"bap"`
	Level int `json:"level"`

	DP    int `json:"dp"`
	MaxDP int `json:"max_dp"`

	AttackStyle string `json:"attack_style"`
	DefenseDie  string `json:"defense_die"`

	WeaponBonus int `json:"weapon_bonus"`
	ArmorBonus  int `json:"armor_bonus"`

	Status    string `json:"status"`
	InCalling bool   `json:"in_calling"`

	// Abilities are loaded once at connect so macro lookup never hits the
	// store on the hot path.
	Abilities []models.Ability `json:"-"`
}

// Stat returns the value for a power source key ("PP", "IP", "SP").
func (s *Snapshot) Stat(source string) int {
	switch source {
	case "PP":
		return s.PP
	case "IP":
		return s.IP
	case "SP":
		return s.SP
	default:
		return 0
	}
}

// ApplyDamage reduces DP and re-derives status. Returns the new DP.
func (s *Snapshot) ApplyDamage(damage int) int {
	s.DP -= damage
	if s.DP <= 0 && s.Status == models.StatusActive {
		s.Status = models.StatusUnconscious
	}
	if s.DP <= CallingThreshold {
		s.InCalling = true
	}
	return s.DP
}

// Heal raises DP, clamped at MaxDP. Returns the amount actually healed.
func (s *Snapshot) Heal(amount int) int {
	before := s.DP
	s.DP += amount
	if s.DP > s.MaxDP {
		s.DP = s.MaxDP
	}
	if s.DP > 0 && s.Status == models.StatusUnconscious {
		s.Status = models.StatusActive
	}
	return s.DP - before
}

// FillLevelDefaults fills level-derived combat fields left empty on older
// records, from the progression tables. Every snapshot built from a store
// record goes through this so sparse rows still defend and attack properly.
func (s *Snapshot) FillLevelDefaults() {
	stats, err := rules.StatsForLevel(s.Level)
	if err != nil {
		return
	}
	if s.MaxDP == 0 {
		s.MaxDP = stats.MaxDP
		if s.DP == 0 {
			s.DP = stats.MaxDP
		}
	}
	if s.Edge == 0 {
		s.Edge = stats.Edge
	}
	if s.BAP == 0 {
		s.BAP = stats.BAP
	}
	if s.DefenseDie == "" {
		s.DefenseDie = rules.DefenseDie(s.Level)
	}
	if s.AttackStyle == "" {
		s.AttackStyle = rules.AttackStyles(s.Level)[0]
	}
}

// AbilityByCommand looks up one of the snapshot's abilities by its macro
// command (with leading slash).
func (s *Snapshot) AbilityByCommand(command string) *models.Ability {
	for i := range s.Abilities {
		if s.Abilities[i].MacroCommand == command {
			return &s.Abilities[i]
		}
	}
	return nil
}

// FromCharacter builds a snapshot of a character record.
func FromCharacter(c *models.Character, abilities []models.Ability) *Snapshot {
	return &Snapshot{
		ID:          c.ID,
		Name:        c.Name,
		Kind:        KindCharacter,
		PP:          c.PP,
		IP:          c.IP,
		SP:          c.SP,
		Edge:        c.Edge,
		BAP:         c.BAP,
		Level:       c.Level,
		DP:          c.DP,
		MaxDP:       c.MaxDP,
		AttackStyle: c.AttackStyle,
		DefenseDie:  c.DefenseDie,
		WeaponBonus: c.WeaponBonus,
		ArmorBonus:  c.ArmorBonus,
		Status:      c.Status,
		InCalling:   c.InCalling,
		Abilities:   abilities,
	}
}

// FromNPC builds a snapshot of an NPC record.
func FromNPC(n *models.NPC) *Snapshot {
	return &Snapshot{
		ID:          n.ID,
		Name:        n.Name,
		Kind:        KindNPC,
		PP:          n.PP,
		IP:          n.IP,
		SP:          n.SP,
		Edge:        n.Edge,
		BAP:         n.BAP,
		Level:       n.Level,
		DP:          n.DP,
		MaxDP:       n.MaxDP,
		AttackStyle: n.AttackStyle,
		DefenseDie:  n.DefenseDie,
		Status:      n.Status,
	}
}
