package dice

import (
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Roller produces individual die results. The seeded constructor exists so
// combat resolution can be replayed deterministically in tests.
type Roller interface {
	Roll(sides int) int
}

type randRoller struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewRoller() Roller {
	return &randRoller{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func NewSeededRoller(seed int64) Roller {
	return &randRoller{rng: rand.New(rand.NewSource(seed))}
}

func (r *randRoller) Roll(sides int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Intn(sides) + 1
}

var (
	notationPattern = regexp.MustCompile(`^\s*(\d+)?[dD](\d+)(\s*[+\-]\s*\d+)?\s*$`)
	integerPattern  = regexp.MustCompile(`^-?\d+$`)
)

const maxDice = 20

var validSides = map[int]bool{4: true, 6: true, 8: true, 10: true, 12: true}

// Notation is a parsed dice expression: Count dice of Sides faces plus a
// flat Modifier. A bare integer parses to Count=0 with the value in
// Modifier.
type Notation struct {
	Count    int
	Sides    int
	Modifier int
}

// Parse validates dice notation ("2d6+3", "d8", "-2"). Count defaults to 1
// when omitted and die sizes outside {4,6,8,10,12} are rejected.
func Parse(notation string) (Notation, error) {
	trimmed := strings.TrimSpace(notation)

	if integerPattern.MatchString(trimmed) {
		value, err := strconv.Atoi(trimmed)
		if err != nil {
			return Notation{}, fmt.Errorf("invalid dice notation: %s", notation)
		}
		return Notation{Modifier: value}, nil
	}

	match := notationPattern.FindStringSubmatch(trimmed)
	if match == nil {
		return Notation{}, fmt.Errorf("invalid dice notation: %s", notation)
	}

	count := 1
	if match[1] != "" {
		count, _ = strconv.Atoi(match[1])
	}
	if count < 1 || count > maxDice {
		return Notation{}, fmt.Errorf("number of dice must be between 1 and %d, got %d", maxDice, count)
	}

	sides, _ := strconv.Atoi(match[2])
	if !validSides[sides] {
		return Notation{}, fmt.Errorf("die size must be one of 4, 6, 8, 10, 12, got %d", sides)
	}

	modifier := 0
	if match[3] != "" {
		mod := strings.ReplaceAll(match[3], " ", "")
		modifier, _ = strconv.Atoi(mod)
	}

	return Notation{Count: count, Sides: sides, Modifier: modifier}, nil
}

func (n Notation) String() string {
	if n.Count == 0 {
		return strconv.Itoa(n.Modifier)
	}
	base := fmt.Sprintf("%dd%d", n.Count, n.Sides)
	switch {
	case n.Modifier > 0:
		return fmt.Sprintf("%s+%d", base, n.Modifier)
	case n.Modifier < 0:
		return fmt.Sprintf("%s%d", base, n.Modifier)
	default:
		return base
	}
}

// Result holds one evaluated expression with per-die detail.
type Result struct {
	Formula   string `json:"formula"`
	Rolls     []int  `json:"rolls"`
	Modifier  int    `json:"modifier"`
	Total     int    `json:"total"`
	Breakdown string `json:"breakdown"`
}

// Evaluate parses and rolls a dice expression.
func Evaluate(notation string, roller Roller) (Result, error) {
	parsed, err := Parse(notation)
	if err != nil {
		return Result{}, err
	}
	return parsed.Roll(roller), nil
}

// Roll evaluates an already-parsed notation.
func (n Notation) Roll(roller Roller) Result {
	rolls := make([]int, 0, n.Count)
	sum := 0
	for i := 0; i < n.Count; i++ {
		r := roller.Roll(n.Sides)
		rolls = append(rolls, r)
		sum += r
	}
	total := sum + n.Modifier
	return Result{
		Formula:   n.String(),
		Rolls:     rolls,
		Modifier:  n.Modifier,
		Total:     total,
		Breakdown: breakdown(rolls, n.Modifier, total),
	}
}

func breakdown(rolls []int, modifier, total int) string {
	if len(rolls) == 0 {
		return strconv.Itoa(total)
	}

	var left string
	if len(rolls) == 1 {
		left = strconv.Itoa(rolls[0])
	} else {
		parts := make([]string, len(rolls))
		for i, r := range rolls {
			parts[i] = strconv.Itoa(r)
		}
		left = "(" + strings.Join(parts, " + ") + ")"
	}

	switch {
	case modifier > 0:
		return fmt.Sprintf("%s + %d = %d", left, modifier, total)
	case modifier < 0:
		return fmt.Sprintf("%s - %d = %d", left, -modifier, total)
	default:
		return fmt.Sprintf("%s = %d", left, total)
	}
}
