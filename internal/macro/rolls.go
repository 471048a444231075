package macro

import (
	"context"
	"fmt"
	"time"

	"partyhub/server/internal/dice"
	apperrors "partyhub/server/internal/errors"
	"partyhub/server/internal/events"
)

// Placeholder values for unbound senders running stat checks.
const (
	observerEdge = 1
	observerStat = 0
)

func (d *Dispatcher) handleRoll(ctx context.Context, req *Request, args string) (Result, error) {
	if args == "" {
		return Result{}, apperrors.Usage("Usage: /roll <notation> (e.g., /roll 2d6+3)")
	}

	result, err := dice.Evaluate(args, d.roller)
	if err != nil {
		return Result{}, apperrors.WrapWithKind(err, apperrors.KindUsage, err.Error())
	}

	broadcast := events.DiceRoll{
		Type:      events.TypeDiceRoll,
		Actor:     req.Actor,
		Dice:      result.Formula,
		Breakdown: result.Rolls,
		Modifier:  result.Modifier,
		Result:    result.Total,
		Text:      fmt.Sprintf("%s → %s", result.Formula, result.Breakdown),
	}

	if err := d.persist(ctx, req, events.TypeDiceRoll, broadcast.Text, result); err != nil {
		return Result{}, err
	}
	return Result{Broadcast: broadcast}, nil
}

// handleStatCheck runs /pp, /ip or /sp: 1d6 + stat + edge. Unbound senders
// roll with placeholder values so observers can still participate.
func (d *Dispatcher) handleStatCheck(ctx context.Context, req *Request, stat string) (Result, error) {
	statValue, edge := observerStat, observerEdge
	if snap := req.Snapshot(); snap != nil {
		statValue = snap.Stat(stat)
		edge = snap.Edge
	}

	modifier := statValue + edge
	notation := dice.Notation{Count: 1, Sides: 6, Modifier: modifier}
	result := notation.Roll(d.roller)

	broadcast := events.StatRoll{
		Type:      events.TypeStatRoll,
		Actor:     req.Actor,
		Stat:      stat,
		Dice:      result.Formula,
		Breakdown: result.Rolls,
		Modifier:  result.Modifier,
		Result:    result.Total,
		Text:      fmt.Sprintf("%s check: %s", stat, result.Breakdown),
	}

	if err := d.persist(ctx, req, events.TypeStatRoll, broadcast.Text, result); err != nil {
		return Result{}, err
	}
	return Result{Broadcast: broadcast}, nil
}

// handleDefend rolls the sender's defense die + PP + edge as an open
// defensive stance.
func (d *Dispatcher) handleDefend(ctx context.Context, req *Request, _ string) (Result, error) {
	snap := req.Snapshot()
	if snap == nil {
		return Result{}, apperrors.Usage("You need a bound character to defend.")
	}

	parsed, err := dice.Parse(snap.DefenseDie)
	if err != nil {
		return Result{}, apperrors.WrapWithKind(err, apperrors.KindInternal, "Your defense die is misconfigured.")
	}
	parsed.Modifier += snap.PP + snap.Edge + snap.ArmorBonus
	result := parsed.Roll(d.roller)

	broadcast := events.StatRoll{
		Type:      events.TypeStatRoll,
		Actor:     req.Actor,
		Stat:      "DEF",
		Dice:      result.Formula,
		Breakdown: result.Rolls,
		Modifier:  result.Modifier,
		Result:    result.Total,
		Text:      fmt.Sprintf("%s defends: %s", snap.Name, result.Breakdown),
	}

	if err := d.persist(ctx, req, events.TypeStatRoll, broadcast.Text, result); err != nil {
		return Result{}, err
	}
	return Result{Broadcast: broadcast}, nil
}

// handleNarrate lets the Story Weaver push scene-setting text.
func (d *Dispatcher) handleNarrate(ctx context.Context, req *Request, args string) (Result, error) {
	if err := requireSW(req, "narrate"); err != nil {
		return Result{}, err
	}
	if args == "" {
		return Result{}, apperrors.Usage("Usage: /narrate <text>")
	}

	broadcast := events.Narration{
		Type:      events.TypeNarration,
		Actor:     req.Actor,
		Text:      args,
		PartyID:   req.PartyID,
		Timestamp: time.Now(),
	}

	if err := d.persist(ctx, req, events.TypeNarration, args, nil); err != nil {
		return Result{}, err
	}
	return Result{Broadcast: broadcast}, nil
}
