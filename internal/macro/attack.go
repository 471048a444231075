package macro

import (
	"context"
	"encoding/json"

	"partyhub/server/internal/dice"
	apperrors "partyhub/server/internal/errors"
	"partyhub/server/internal/events"
	"partyhub/server/internal/interfaces"
	"partyhub/server/internal/session"
)

// handleAttack resolves a basic attack: the sender's attack_style dice
// against one target's defense total. The target's DP mutation is written
// through before the broadcast; on store failure it is reverted and no
// broadcast goes out.
func (d *Dispatcher) handleAttack(ctx context.Context, req *Request, args string) (Result, error) {
	snap := req.Snapshot()
	if snap == nil {
		return Result{}, apperrors.Usage("You need a bound character to attack.")
	}
	if args == "" {
		return Result{}, apperrors.Usage("Usage: /attack @target")
	}

	target, err := d.resolver.ResolveSingle(ctx, args, req.PartyID, req.IsSW, req.Cache, "")
	if err != nil {
		return Result{}, err
	}

	result, err := dice.ResolveAttack(dice.AttackInput{
		AttackStyle:  snap.AttackStyle,
		AttackerStat: snap.PP,
		AttackerEdge: snap.Edge,
		AttackerBAP:  snap.BAP,
		WeaponBonus:  snap.WeaponBonus,
		DefenseDie:   target.Snap.DefenseDie,
		DefenderPP:   target.Snap.PP,
		DefenderEdge: target.Snap.Edge,
		ArmorBonus:   target.Snap.ArmorBonus,
	}, d.roller)
	if err != nil {
		return Result{}, apperrors.WrapWithKind(err, apperrors.KindInternal, "Attack resolution failed.")
	}

	revert := saveVitals(target.Snap)
	newDP := target.Snap.ApplyDamage(result.TotalDamage)
	if err := d.writeVitals(ctx, target.Snap); err != nil {
		revert(target.Snap)
		return Result{}, err
	}

	rolls := make([]events.IndividualRoll, len(result.Rolls))
	for i, r := range result.Rolls {
		rolls[i] = events.IndividualRoll(r)
	}
	broadcast := events.CombatResult{
		Type:          events.TypeCombatResult,
		Attacker:      snap.Name,
		Defender:      target.Name,
		Rolls:         rolls,
		TotalDamage:   result.TotalDamage,
		Outcome:       result.Outcome,
		DefenderNewDP: newDP,
		Narrative:     result.Narrative(snap.Name, target.Name),
	}

	// A failed log append after the DP write-through also rolls the damage
	// back; the clients never saw it, so it must not stick.
	if err := d.appendCombatTurn(ctx, req, snap, "attack", broadcast); err != nil {
		revert(target.Snap)
		_ = d.writeVitals(ctx, target.Snap)
		return Result{}, err
	}
	if err := d.persist(ctx, req, events.TypeCombatResult, broadcast.Narrative, broadcast); err != nil {
		revert(target.Snap)
		_ = d.writeVitals(ctx, target.Snap)
		return Result{}, err
	}
	return Result{Broadcast: broadcast}, nil
}

// saveVitals captures DP/status for revert-on-store-failure.
func saveVitals(snap *session.Snapshot) func(*session.Snapshot) {
	dp, status, calling := snap.DP, snap.Status, snap.InCalling
	return func(s *session.Snapshot) {
		s.DP, s.Status, s.InCalling = dp, status, calling
	}
}

// writeVitals flushes a snapshot's DP and status to the store.
func (d *Dispatcher) writeVitals(ctx context.Context, snap *session.Snapshot) error {
	var err error
	if snap.Kind == session.KindNPC {
		err = d.store.UpdateNPCDP(ctx, snap.ID, snap.DP, snap.Status)
	} else {
		err = d.store.UpdateCharacterDP(ctx, snap.ID, snap.DP, snap.Status, snap.InCalling)
	}
	if err != nil {
		return apperrors.WrapWithKind(err, apperrors.KindStore, "Could not save the result.")
	}
	return nil
}

// appendCombatTurn logs the action to the combat turn history.
func (d *Dispatcher) appendCombatTurn(ctx context.Context, req *Request, actor *session.Snapshot, action string, result interface{}) error {
	data, err := json.Marshal(result)
	if err != nil {
		return apperrors.WrapWithKind(err, apperrors.KindInternal, "Could not record the combat turn.")
	}
	if err := d.store.AppendCombatTurn(ctx, interfaces.CombatTurnRow{
		PartyID:       req.PartyID,
		CombatantID:   actor.ID,
		CombatantName: actor.Name,
		ActionType:    action,
		ResultData:    string(data),
	}); err != nil {
		return apperrors.WrapWithKind(err, apperrors.KindStore, "Could not record the combat turn.")
	}
	return nil
}
