package dice

import (
	"fmt"
)

// Attack outcomes by how many attacker dice beat the defense total.
const (
	OutcomeMiss       = "miss"
	OutcomePartialHit = "partial_hit"
	OutcomeFullHit    = "full_hit"
)

// AttackInput carries everything a basic-attack resolution needs. The
// defender rolls defense once; every attacker die is compared against that
// shared total.
type AttackInput struct {
	AttackStyle  string
	AttackerStat int
	AttackerEdge int
	AttackerBAP  int
	BAPTriggered bool
	WeaponBonus  int

	DefenseDie   string
	DefenderPP   int
	DefenderEdge int
	ArmorBonus   int
}

// IndividualRoll is one attacker die resolved against the defense total.
type IndividualRoll struct {
	Attack int `json:"a"`
	Defend int `json:"d"`
	Margin int `json:"margin"`
	Damage int `json:"damage"`
}

// AttackResult is the full resolution of a multi-die attack.
type AttackResult struct {
	DefenseRoll  int              `json:"defense_roll"`
	DefenseTotal int              `json:"defense_total"`
	Rolls        []IndividualRoll `json:"individual_rolls"`
	TotalDamage  int              `json:"total_damage"`
	Outcome      string           `json:"outcome"`
}

// ResolveAttack rolls the attacker's weapon dice against a single defense
// total and sums the positive margins as damage.
func ResolveAttack(in AttackInput, roller Roller) (AttackResult, error) {
	attack, err := Parse(in.AttackStyle)
	if err != nil {
		return AttackResult{}, fmt.Errorf("invalid attack style: %w", err)
	}
	if attack.Count == 0 {
		return AttackResult{}, fmt.Errorf("attack style %q has no dice", in.AttackStyle)
	}

	defense, err := Parse(in.DefenseDie)
	if err != nil {
		return AttackResult{}, fmt.Errorf("invalid defense die: %w", err)
	}
	if defense.Count == 0 {
		return AttackResult{}, fmt.Errorf("defense die %q has no dice", in.DefenseDie)
	}

	defenseRoll := 0
	for i := 0; i < defense.Count; i++ {
		defenseRoll += roller.Roll(defense.Sides)
	}
	defenseTotal := defenseRoll + defense.Modifier + in.DefenderPP + in.DefenderEdge + in.ArmorBonus

	attackBonus := attack.Modifier + in.AttackerStat + in.AttackerEdge + in.WeaponBonus
	if in.BAPTriggered {
		attackBonus += in.AttackerBAP
	}

	result := AttackResult{
		DefenseRoll:  defenseRoll,
		DefenseTotal: defenseTotal,
		Rolls:        make([]IndividualRoll, 0, attack.Count),
	}

	hits := 0
	for i := 0; i < attack.Count; i++ {
		atk := roller.Roll(attack.Sides) + attackBonus
		margin := atk - defenseTotal
		if margin < 0 {
			margin = 0
		}
		if margin > 0 {
			hits++
		}
		result.Rolls = append(result.Rolls, IndividualRoll{
			Attack: atk,
			Defend: defenseTotal,
			Margin: margin,
			Damage: margin,
		})
		result.TotalDamage += margin
	}

	switch {
	case hits == 0:
		result.Outcome = OutcomeMiss
	case hits == attack.Count:
		result.Outcome = OutcomeFullHit
	default:
		result.Outcome = OutcomePartialHit
	}

	return result, nil
}

// Narrative renders a one-line summary for the combat_result broadcast.
func (r AttackResult) Narrative(attacker, defender string) string {
	switch r.Outcome {
	case OutcomeMiss:
		return fmt.Sprintf("%s's attack glances off %s's defense.", attacker, defender)
	case OutcomeFullHit:
		return fmt.Sprintf("%s lands every blow on %s for %d damage!", attacker, defender, r.TotalDamage)
	default:
		return fmt.Sprintf("%s breaks through %s's guard for %d damage.", attacker, defender, r.TotalDamage)
	}
}
