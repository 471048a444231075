package macro

import (
	"context"
	"fmt"
	"strings"
	"time"

	"partyhub/server/internal/dice"
	"partyhub/server/internal/encounter"
	apperrors "partyhub/server/internal/errors"
	"partyhub/server/internal/events"
	"partyhub/server/internal/session"
)

// handleInitiative routes the /initiative sub-commands: bare (roll for
// self), @target and silent @target (SW rolls on behalf), show, end,
// clear.
func (d *Dispatcher) handleInitiative(ctx context.Context, req *Request, args string) (Result, error) {
	if req.Encounter == nil {
		return Result{}, apperrors.State("Initiative is not available here.")
	}

	fields := strings.Fields(args)
	sub := ""
	if len(fields) > 0 {
		sub = strings.ToLower(fields[0])
	}

	switch {
	case sub == "show":
		return d.initiativeShow(req)
	case sub == "end":
		return d.initiativeEnd(ctx, req, true)
	case sub == "clear":
		return d.initiativeEnd(ctx, req, false)
	case sub == "silent":
		if err := requireSW(req, "roll silent initiative"); err != nil {
			return Result{}, err
		}
		rest := strings.TrimSpace(strings.TrimPrefix(args, fields[0]))
		return d.initiativeFor(ctx, req, rest, true)
	case strings.Contains(args, "@"):
		if err := requireSW(req, "roll initiative for others"); err != nil {
			return Result{}, err
		}
		return d.initiativeFor(ctx, req, args, false)
	case sub == "":
		return d.initiativeSelf(ctx, req)
	default:
		return Result{}, apperrors.Usage("Usage: /initiative [@target | silent @target | show | end | clear]")
	}
}

// initiativeSelf rolls 1d6 + edge for the sender's bound character and
// registers it, opening an encounter when none is active.
func (d *Dispatcher) initiativeSelf(ctx context.Context, req *Request) (Result, error) {
	snap := req.Snapshot()
	if snap == nil {
		return Result{}, apperrors.Usage("You need a bound character to roll initiative.")
	}
	if snap.Kind != session.KindCharacter {
		return Result{}, apperrors.Usage("Only characters roll their own initiative.")
	}

	return d.registerInitiative(ctx, req, snap, false, false)
}

// initiativeFor resolves a target and rolls on its behalf (SW only).
func (d *Dispatcher) initiativeFor(ctx context.Context, req *Request, args string, silent bool) (Result, error) {
	target, err := d.resolver.ResolveSingle(ctx, args, req.PartyID, req.IsSW, req.Cache, "")
	if err != nil {
		return Result{}, err
	}
	return d.registerInitiative(ctx, req, target.Snap, silent, true)
}

func (d *Dispatcher) registerInitiative(ctx context.Context, req *Request, snap *session.Snapshot, silent, bySW bool) (Result, error) {
	notation := dice.Notation{Count: 1, Sides: 6, Modifier: snap.Edge}
	result := notation.Roll(d.roller)

	combatant := encounter.Combatant{
		Name:       snap.Name,
		Roll:       result.Total,
		PP:         snap.PP,
		IP:         snap.IP,
		SP:         snap.SP,
		Silent:     silent,
		RolledBySW: bySW,
	}
	if snap.Kind == session.KindNPC {
		combatant.NPCID = snap.ID
		combatant.Hidden = d.npcHidden(ctx, req, snap.ID)
	} else {
		combatant.CharacterID = snap.ID
	}

	if err := req.Encounter.Register(ctx, combatant); err != nil {
		return Result{}, err
	}

	broadcast := events.Initiative{
		Type:          events.TypeInitiative,
		Actor:         req.Actor,
		CombatantName: snap.Name,
		Dice:          result.Formula,
		Breakdown:     result.Rolls,
		Modifier:      result.Modifier,
		Result:        result.Total,
		Silent:        silent,
		RolledBySW:    bySW,
		Text:          fmt.Sprintf("%s rolls initiative: %s", snap.Name, result.Breakdown),
	}

	if err := d.persist(ctx, req, events.TypeInitiative, broadcast.Text, broadcast); err != nil {
		return Result{}, err
	}

	if silent {
		// Silent rolls enter the roster without announcing themselves;
		// only the SW gets the confirmation.
		return Result{Private: fmt.Sprintf("Silent initiative for %s: %d", snap.Name, result.Total)}, nil
	}
	return Result{Broadcast: broadcast}, nil
}

// npcHidden checks visibility so hidden NPCs stay off player rosters.
func (d *Dispatcher) npcHidden(ctx context.Context, req *Request, npcID string) bool {
	npc, err := d.store.LoadNPC(ctx, npcID)
	if err != nil || npc == nil {
		return false
	}
	return !npc.VisibleToPlayers
}

// initiativeShow replies with the roster filtered by the viewer's role.
func (d *Dispatcher) initiativeShow(req *Request) (Result, error) {
	if !req.Encounter.Active() {
		return Result{}, apperrors.State("No active encounter. Roll /initiative to start one.")
	}

	entries := req.Encounter.Roster(req.CharacterID, req.IsSW)
	if len(entries) == 0 {
		return Result{}, apperrors.State("No initiative rolls visible to you yet.")
	}

	var b strings.Builder
	b.WriteString("Turn order:")
	for i, e := range entries {
		b.WriteString(fmt.Sprintf("\n%d. %s (%d)", i+1, e.Name, e.Roll))
		if e.Silent {
			b.WriteString(" [silent]")
		}
	}
	return Result{Private: b.String()}, nil
}

// initiativeEnd closes the encounter; restore=true also resets ability
// budgets to 3 x level, in the store and on every live snapshot.
func (d *Dispatcher) initiativeEnd(ctx context.Context, req *Request, restore bool) (Result, error) {
	what := "end the encounter"
	if !restore {
		what = "clear the encounter"
	}
	if err := requireSW(req, what); err != nil {
		return Result{}, err
	}

	if err := req.Encounter.End(ctx, restore); err != nil {
		return Result{}, err
	}

	text := "Encounter cleared."
	if restore {
		d.restoreCachedBudgets(req.Cache)
		text = "Encounter ended. Abilities restored."
	}

	broadcast := events.System{
		Type:      events.TypeSystem,
		Text:      text,
		PartyID:   req.PartyID,
		Timestamp: time.Now(),
	}
	if err := d.persist(ctx, req, events.TypeSystem, text, nil); err != nil {
		return Result{}, err
	}
	return Result{Broadcast: broadcast}, nil
}

// restoreCachedBudgets mirrors the store-side budget reset onto live
// snapshots so online characters see fresh uses immediately.
func (d *Dispatcher) restoreCachedBudgets(cache *session.Cache) {
	if cache == nil {
		return
	}
	for _, snap := range cache.All() {
		if snap.Kind != session.KindCharacter {
			continue
		}
		budget := d.cfg.AbilityMaxUsesPerLevel * snap.Level
		for i := range snap.Abilities {
			snap.Abilities[i].MaxUses = budget
			snap.Abilities[i].UsesRemaining = budget
		}
	}
}
