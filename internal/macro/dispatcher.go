package macro

import (
	"context"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"partyhub/server/internal/config"
	"partyhub/server/internal/dice"
	apperrors "partyhub/server/internal/errors"
	"partyhub/server/internal/encounter"
	"partyhub/server/internal/events"
	"partyhub/server/internal/interfaces"
	"partyhub/server/internal/mention"
	"partyhub/server/internal/models"
	"partyhub/server/internal/session"
)

// Request is one slash-command invocation with the sender's session
// context. Cache and Encounter belong to the sender's party room and are
// only touched from that room's goroutine.
type Request struct {
	PartyID     string
	CampaignID  string
	Actor       string
	UserID      string
	CharacterID string
	IsSW        bool
	Text        string
	Cache       *session.Cache
	Encounter   *encounter.Tracker
}

// Result is what the party room does with a dispatched command: fan the
// broadcast out to every socket, and/or send the private text back to the
// sender alone.
type Result struct {
	Broadcast events.Event
	Private   string
}

// Snapshot returns the sender's bound cache entry, or nil for observers.
func (r *Request) Snapshot() *session.Snapshot {
	if r.CharacterID == "" || r.Cache == nil {
		return nil
	}
	return r.Cache.Get(r.CharacterID)
}

// Dispatcher parses the leading slash token, routes to a handler, and
// applies the throttle and persistence policy. One instance serves every
// party; per-party state arrives on the Request.
type Dispatcher struct {
	store    interfaces.Store
	resolver *mention.Resolver
	roller   dice.Roller
	cfg      config.ChatConfig

	mu       sync.Mutex
	lastSeen map[string]time.Time // (party|actor) -> last accepted macro

	now func() time.Time
}

func NewDispatcher(store interfaces.Store, roller dice.Roller, cfg config.ChatConfig) *Dispatcher {
	return &Dispatcher{
		store:    store,
		resolver: mention.NewResolver(store),
		roller:   roller,
		cfg:      cfg,
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
	}
}

type handlerFunc func(ctx context.Context, req *Request, args string) (Result, error)

// Dispatch executes one macro. Every domain error is converted to a
// private reply here; nothing escapes to the socket read loop.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) Result {
	command, args := splitCommand(req.Text)
	if command == "" {
		return Result{Private: "Unknown command."}
	}

	if !d.admit(req.PartyID, req.Actor) {
		return Result{Private: "You're sending commands too quickly. Give it a moment."}
	}

	result, err := d.route(ctx, req, command, args)
	if err != nil {
		return d.replyForError(req, command, err)
	}
	return result
}

func (d *Dispatcher) route(ctx context.Context, req *Request, command, args string) (Result, error) {
	var handler handlerFunc
	switch command {
	case "/roll":
		handler = d.handleRoll
	case "/pp", "/ip", "/sp":
		stat := strings.ToUpper(strings.TrimPrefix(command, "/"))
		handler = func(ctx context.Context, req *Request, args string) (Result, error) {
			return d.handleStatCheck(ctx, req, stat)
		}
	case "/defend":
		handler = d.handleDefend
	case "/initiative":
		handler = d.handleInitiative
	case "/attack":
		handler = d.handleAttack
	case "/who":
		handler = d.handleWho
	case "/narrate":
		handler = d.handleNarrate
	default:
		// Second tier: the sender's own ability macros.
		if snap := req.Snapshot(); snap != nil {
			if ability := snap.AbilityByCommand(command); ability != nil {
				return d.handleAbility(ctx, req, snap, ability, args)
			}
		}
		return Result{Private: "Unknown command: " + command}, nil
	}
	return handler(ctx, req, args)
}

// admit applies the per-(party,actor) throttle, recording the timestamp
// only for accepted macros.
func (d *Dispatcher) admit(partyID, actor string) bool {
	window := d.cfg.MacroThrottle()
	if window <= 0 {
		return true
	}

	key := partyID + "|" + actor
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()
	if last, ok := d.lastSeen[key]; ok && now.Sub(last) < window {
		return false
	}
	d.lastSeen[key] = now
	return true
}

// replyForError maps a handler error to the private reply the sender sees.
// Store and internal failures get a correlation id; the full cause only
// goes to the log.
func (d *Dispatcher) replyForError(req *Request, command string, err error) Result {
	kind := apperrors.KindOf(err)
	switch kind {
	case apperrors.KindStore, apperrors.KindInternal:
		ref := uuid.NewString()[:8]
		log.Printf("[Dispatcher] %s error on %s from %s (party %s, ref %s): %v",
			kind, command, req.Actor, req.PartyID, ref, err)
		return Result{Private: apperrors.MessageOf(err) + " (ref: " + ref + ")"}
	case apperrors.KindPermission:
		if d.cfg.VisibilityPolicy == config.VisibilityIgnore {
			return Result{}
		}
		return Result{Private: apperrors.MessageOf(err)}
	default:
		return Result{Private: apperrors.MessageOf(err)}
	}
}

// persist appends the macro's log row, subject to the verbosity policy.
// The broadcast goes out regardless; only the durable row is filtered.
func (d *Dispatcher) persist(ctx context.Context, req *Request, eventType, content string, extra interface{}) error {
	if !d.shouldPersist(eventType) {
		return nil
	}

	var extraJSON string
	if extra != nil {
		data, err := json.Marshal(extra)
		if err != nil {
			return apperrors.WrapWithKind(err, apperrors.KindInternal, "could not record this action")
		}
		extraJSON = string(data)
	}

	err := d.store.AppendMessage(ctx, interfaces.MessageRow{
		PartyID:     req.PartyID,
		CampaignID:  req.CampaignID,
		SenderID:    req.CharacterID,
		SenderName:  req.Actor,
		MessageType: rowMessageType(eventType),
		Content:     content,
		ExtraData:   extraJSON,
		CreatedAt:   d.now(),
	})
	if err != nil {
		return apperrors.WrapWithKind(err, apperrors.KindStore, "could not record this action")
	}
	return nil
}

func (d *Dispatcher) shouldPersist(eventType string) bool {
	switch d.cfg.LogVerbosity {
	case config.VerbosityOff:
		return false
	case config.VerbosityMinimal:
		return eventType == events.TypeDiceRoll || eventType == events.TypeInitiative
	default:
		return true
	}
}

// rowMessageType folds the wire event types into the persisted
// message_type enum.
func rowMessageType(eventType string) string {
	switch eventType {
	case events.TypeDiceRoll, events.TypeStatRoll, events.TypeInitiative:
		return models.MessageTypeDiceRoll
	case events.TypeCombatResult, events.TypeAbilityCast:
		return models.MessageTypeCombat
	case events.TypeNarration:
		return models.MessageTypeNarration
	case events.TypeSystem:
		return models.MessageTypeSystem
	default:
		return models.MessageTypeChat
	}
}

// requireSW gates SW-only commands.
func requireSW(req *Request, what string) error {
	if !req.IsSW {
		return apperrors.Permission("Only the Story Weaver can " + what + ".")
	}
	return nil
}

func splitCommand(text string) (command, args string) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || !strings.HasPrefix(trimmed, "/") {
		return "", ""
	}
	parts := strings.SplitN(trimmed, " ", 2)
	command = strings.ToLower(parts[0])
	if len(parts) == 2 {
		args = strings.TrimSpace(parts[1])
	}
	return command, args
}
