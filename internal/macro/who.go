package macro

import (
	"context"
	"fmt"
	"strings"

	apperrors "partyhub/server/internal/errors"
	"partyhub/server/internal/session"
)

// handleWho replies with the party roster: online characters, offline
// members, and NPCs. Hidden NPCs only appear for the SW, marked as such.
func (d *Dispatcher) handleWho(ctx context.Context, req *Request, _ string) (Result, error) {
	online := make(map[string]bool)
	var b strings.Builder

	b.WriteString("Online:")
	found := false
	if req.Cache != nil {
		for _, snap := range req.Cache.All() {
			if snap.Kind != session.KindCharacter {
				continue
			}
			online[snap.ID] = true
			b.WriteString(fmt.Sprintf("\n  %s (level %d, %s)", snap.Name, snap.Level, snap.Status))
			found = true
		}
	}
	if !found {
		b.WriteString("\n  (nobody)")
	}

	characters, err := d.store.ListPartyCharacters(ctx, req.PartyID)
	if err != nil {
		return Result{}, apperrors.WrapWithKind(err, apperrors.KindStore, "Could not look up the party roster.")
	}
	var offline []string
	for _, c := range characters {
		if !online[c.ID] {
			offline = append(offline, c.Name)
		}
	}
	if len(offline) > 0 {
		b.WriteString("\nOffline: " + strings.Join(offline, ", "))
	}

	npcs, err := d.store.ListPartyNPCs(ctx, req.PartyID, req.IsSW)
	if err != nil {
		return Result{}, apperrors.WrapWithKind(err, apperrors.KindStore, "Could not look up the party roster.")
	}
	if len(npcs) > 0 {
		b.WriteString("\nNPCs:")
		for _, n := range npcs {
			b.WriteString("\n  " + n.Name)
			if !n.VisibleToPlayers {
				b.WriteString(" (hidden)")
			}
		}
	}

	return Result{Private: b.String()}, nil
}
