package macro

import (
	"context"
	"fmt"

	"partyhub/server/internal/dice"
	apperrors "partyhub/server/internal/errors"
	"partyhub/server/internal/events"
	"partyhub/server/internal/mention"
	"partyhub/server/internal/models"
	"partyhub/server/internal/session"
)

// handleAbility casts one of the sender's abilities, looked up by macro
// command. All target mutations commit to the store before the broadcast;
// any store failure reverts every in-memory change and nothing is emitted.
func (d *Dispatcher) handleAbility(ctx context.Context, req *Request, snap *session.Snapshot, ability *models.Ability, args string) (Result, error) {
	if ability.UsesRemaining <= 0 {
		return Result{}, apperrors.Budget(fmt.Sprintf(
			"%s has no uses left this encounter.", ability.DisplayName))
	}

	targets, err := d.abilityTargets(ctx, req, ability, args)
	if err != nil {
		return Result{}, err
	}

	resolutions, reverts, err := d.resolveEffect(ctx, snap, ability, targets)
	if err != nil {
		runReverts(reverts)
		return Result{}, err
	}

	ability.UsesRemaining--
	if err := d.store.DecrementAbilityUse(ctx, ability.ID); err != nil {
		ability.UsesRemaining++
		runReverts(reverts)
		return Result{}, apperrors.WrapWithKind(err, apperrors.KindStore, "Could not save the cast.")
	}

	names := make([]string, len(targets))
	for i, t := range targets {
		names[i] = t.Name
	}
	broadcast := events.AbilityCast{
		Type:          events.TypeAbilityCast,
		Caster:        snap.Name,
		Ability:       ability.DisplayName,
		EffectType:    ability.EffectType,
		Targets:       names,
		Resolution:    resolutions,
		UsesRemaining: ability.UsesRemaining,
		Text:          castSummary(snap.Name, ability, names),
	}

	// A failed log append after the cast committed rolls everything back:
	// the use count in cache and store, and every target mutation.
	undo := func() {
		ability.UsesRemaining++
		_ = d.store.RestoreAbilityUse(ctx, ability.ID)
		runReverts(reverts)
	}
	if err := d.appendCombatTurn(ctx, req, snap, "cast", broadcast); err != nil {
		undo()
		return Result{}, err
	}
	if err := d.persist(ctx, req, events.TypeAbilityCast, broadcast.Text, broadcast); err != nil {
		undo()
		return Result{}, err
	}
	return Result{Broadcast: broadcast}, nil
}

// abilityTargets resolves mentions and checks the count against the AoE
// flag. Utility abilities may run untargeted.
func (d *Dispatcher) abilityTargets(ctx context.Context, req *Request, ability *models.Ability, args string) ([]mention.Target, error) {
	res, err := d.resolver.Resolve(ctx, args, req.PartyID, req.IsSW, req.Cache)
	if err != nil {
		return nil, err
	}
	if len(res.Unresolved) > 0 {
		return nil, apperrors.Mentionf(
			"Target not found: @%s. Use /who to see available targets.", res.Unresolved[0])
	}
	if len(res.Ambiguous) > 0 {
		return nil, apperrors.Mentionf(
			"@%s is ambiguous. Please be more specific.", res.Ambiguous[0].Token)
	}

	switch {
	case ability.EffectType == models.EffectUtility && len(res.Mentions) == 0:
		return nil, nil
	case len(res.Mentions) == 0:
		return nil, apperrors.Usagef("Usage: %s @target", ability.MacroCommand)
	case !ability.IsAOE && len(res.Mentions) > 1:
		return nil, apperrors.Usagef("%s takes exactly one target.", ability.MacroCommand)
	}
	return res.Mentions, nil
}

// resolveEffect applies the ability per effect type, returning per-target
// resolutions plus revert closures for every mutated snapshot.
func (d *Dispatcher) resolveEffect(ctx context.Context, caster *session.Snapshot, ability *models.Ability, targets []mention.Target) ([]events.TargetResolution, []func(), error) {
	var resolutions []events.TargetResolution
	var reverts []func()

	switch ability.EffectType {
	case models.EffectDamage:
		for _, target := range targets {
			result, err := dice.ResolveAttack(dice.AttackInput{
				AttackStyle:  ability.Die,
				AttackerStat: caster.Stat(ability.PowerSource),
				AttackerEdge: caster.Edge,
				DefenseDie:   target.Snap.DefenseDie,
				DefenderPP:   target.Snap.PP,
				DefenderEdge: target.Snap.Edge,
			}, d.roller)
			if err != nil {
				return nil, reverts, apperrors.WrapWithKind(err, apperrors.KindInternal, "Ability resolution failed.")
			}

			restore := saveVitals(target.Snap)
			newDP := target.Snap.ApplyDamage(result.TotalDamage)
			if err := d.writeVitals(ctx, target.Snap); err != nil {
				restore(target.Snap)
				return nil, reverts, err
			}
			snap := target.Snap
			reverts = append(reverts, func() { restore(snap); _ = d.writeVitals(ctx, snap) })

			resolutions = append(resolutions, events.TargetResolution{
				Target:     target.Name,
				DefendRoll: result.DefenseTotal,
				Damage:     result.TotalDamage,
				NewDP:      newDP,
				Success:    result.TotalDamage > 0,
			})
		}

	case models.EffectHeal:
		for _, target := range targets {
			roll, err := d.abilityRoll(caster, ability)
			if err != nil {
				return nil, reverts, err
			}

			restore := saveVitals(target.Snap)
			healed := target.Snap.Heal(roll.Total)
			if err := d.writeVitals(ctx, target.Snap); err != nil {
				restore(target.Snap)
				return nil, reverts, err
			}
			snap := target.Snap
			reverts = append(reverts, func() { restore(snap); _ = d.writeVitals(ctx, snap) })

			resolutions = append(resolutions, events.TargetResolution{
				Target:  target.Name,
				Healed:  healed,
				NewDP:   target.Snap.DP,
				Success: true,
			})
		}

	case models.EffectBuff, models.EffectDebuff:
		for _, target := range targets {
			res, err := d.contest(caster, ability, target.Snap)
			if err != nil {
				return nil, reverts, err
			}
			resolutions = append(resolutions, res)
		}

	case models.EffectUtility:
		roll, err := d.abilityRoll(caster, ability)
		if err != nil {
			return nil, reverts, err
		}
		resolution := events.TargetResolution{
			AttackRoll:  roll.Total,
			Success:     true,
			Description: roll.Breakdown,
		}
		if len(targets) > 0 {
			resolution.Target = targets[0].Name
		}
		resolutions = append(resolutions, resolution)

	default:
		return nil, reverts, apperrors.Newf(apperrors.KindInternal,
			"Ability %s has an unknown effect type.", ability.DisplayName)
	}

	return resolutions, reverts, nil
}

// abilityRoll is the caster's side: ability die + power source + edge.
func (d *Dispatcher) abilityRoll(caster *session.Snapshot, ability *models.Ability) (dice.Result, error) {
	parsed, err := dice.Parse(ability.Die)
	if err != nil {
		return dice.Result{}, apperrors.WrapWithKind(err, apperrors.KindInternal, "Ability die is misconfigured.")
	}
	parsed.Modifier += caster.Stat(ability.PowerSource) + caster.Edge
	return parsed.Roll(d.roller), nil
}

// contest is the buff/debuff resolution: caster roll vs defense total. On
// success the named modifier sticks for margin rounds (capped at 6);
// duration tracking itself happens at the table.
func (d *Dispatcher) contest(caster *session.Snapshot, ability *models.Ability, target *session.Snapshot) (events.TargetResolution, error) {
	attack, err := d.abilityRoll(caster, ability)
	if err != nil {
		return events.TargetResolution{}, err
	}

	defense, err := dice.Parse(target.DefenseDie)
	if err != nil {
		return events.TargetResolution{}, apperrors.WrapWithKind(err, apperrors.KindInternal, "Defense die is misconfigured.")
	}
	defense.Modifier += target.PP + target.Edge
	defenseRoll := defense.Roll(d.roller)

	margin := attack.Total - defenseRoll.Total
	res := events.TargetResolution{
		Target:     target.Name,
		AttackRoll: attack.Total,
		DefendRoll: defenseRoll.Total,
		Margin:     margin,
		Success:    margin > 0,
	}
	if res.Success {
		rounds := margin
		if rounds > 6 {
			rounds = 6
		}
		res.Description = fmt.Sprintf("%s takes %s for %d rounds", target.Name, ability.DisplayName, rounds)
	} else {
		res.Description = fmt.Sprintf("%s resists %s", target.Name, ability.DisplayName)
	}
	return res, nil
}

func runReverts(reverts []func()) {
	for i := len(reverts) - 1; i >= 0; i-- {
		reverts[i]()
	}
}

func castSummary(caster string, ability *models.Ability, targets []string) string {
	if len(targets) == 0 {
		return fmt.Sprintf("%s uses %s", caster, ability.DisplayName)
	}
	if len(targets) == 1 {
		return fmt.Sprintf("%s uses %s on %s", caster, ability.DisplayName, targets[0])
	}
	return fmt.Sprintf("%s unleashes %s on %d targets", caster, ability.DisplayName, len(targets))
}
