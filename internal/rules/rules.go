package rules

import (
	"fmt"
)

// Level progression tables for TBA v1.5. Levels run 1..10; Edge and BAP are
// fixed per level, max DP climbs in steps of 5.

const (
	MinLevel = 1
	MaxLevel = 10

	StatMin = 1
	StatMax = 3
	StatSum = 6
)

var edgeByLevel = [MaxLevel + 1]int{0, 0, 1, 1, 2, 2, 3, 3, 4, 4, 5}

var bapByLevel = [MaxLevel + 1]int{0, 1, 1, 2, 2, 3, 3, 4, 4, 5, 5}

var maxDPByLevel = [MaxLevel + 1]int{0, 10, 15, 20, 25, 30, 35, 40, 45, 50, 55}

// LevelStats bundles the derived values for a level.
type LevelStats struct {
	Edge  int
	BAP   int
	MaxDP int
}

func StatsForLevel(level int) (LevelStats, error) {
	if level < MinLevel || level > MaxLevel {
		return LevelStats{}, fmt.Errorf("level must be %d-%d, got %d", MinLevel, MaxLevel, level)
	}
	return LevelStats{
		Edge:  edgeByLevel[level],
		BAP:   bapByLevel[level],
		MaxDP: maxDPByLevel[level],
	}, nil
}

// AttackStyles returns the weapon die options available at a level.
func AttackStyles(level int) []string {
	switch {
	case level <= 2:
		return []string{"1d4"}
	case level <= 4:
		return []string{"2d4", "1d6"}
	case level <= 6:
		return []string{"3d4", "2d6", "1d8"}
	case level <= 8:
		return []string{"4d4", "3d6", "2d8", "1d10"}
	default:
		return []string{"5d4", "4d6", "3d8", "2d10", "1d12"}
	}
}

// DefenseDie returns the fixed defense die for a level.
func DefenseDie(level int) string {
	switch {
	case level <= 2:
		return "1d4"
	case level <= 4:
		return "1d6"
	case level <= 6:
		return "1d8"
	case level <= 8:
		return "1d10"
	default:
		return "1d12"
	}
}

// ValidateStats enforces the TBA stat distribution: each of PP/IP/SP in
// [1,3] and the three summing to 6.
func ValidateStats(pp, ip, sp int) error {
	for _, stat := range []int{pp, ip, sp} {
		if stat < StatMin || stat > StatMax {
			return fmt.Errorf("each stat must be between %d and %d", StatMin, StatMax)
		}
	}
	if pp+ip+sp != StatSum {
		return fmt.Errorf("stats must sum to %d, got %d", StatSum, pp+ip+sp)
	}
	return nil
}

// ValidateAttackStyle checks the chosen weapon die against the level-gated
// options.
func ValidateAttackStyle(level int, style string) error {
	for _, s := range AttackStyles(level) {
		if s == style {
			return nil
		}
	}
	return fmt.Errorf("attack style %q not available at level %d", style, level)
}
