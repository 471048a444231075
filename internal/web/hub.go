package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"go.uber.org/atomic"

	"partyhub/server/internal/config"
	"partyhub/server/internal/encounter"
	"partyhub/server/internal/events"
	"partyhub/server/internal/interfaces"
	"partyhub/server/internal/macro"
	"partyhub/server/internal/models"
	"partyhub/server/internal/session"
	"partyhub/server/internal/storage"
)

const storeTimeout = 5 * time.Second

// inboundFrame is the JSON shape clients send. Everything rides on
// type="message"; text starting with "/" goes to the macro dispatcher.
type inboundFrame struct {
	Type        string `json:"type"`
	Actor       string `json:"actor"`
	Text        string `json:"text"`
	Mode        string `json:"mode,omitempty"`
	Context     string `json:"context,omitempty"`
	EncounterID string `json:"encounter_id,omitempty"`
}

type inboundMsg struct {
	client *Client
	data   []byte
}

// Hub owns the set of live party rooms. The map lock only covers room
// lookup and insertion; everything inside a room is serialized by that
// room's goroutine.
type Hub struct {
	store      interfaces.Store
	history    *storage.RedisStore // optional, nil when redis is down
	dispatcher *macro.Dispatcher
	cfg        *config.Config

	mu    sync.RWMutex
	rooms map[string]*room
}

func NewHub(store interfaces.Store, history *storage.RedisStore, dispatcher *macro.Dispatcher, cfg *config.Config) *Hub {
	return &Hub{
		store:      store,
		history:    history,
		dispatcher: dispatcher,
		cfg:        cfg,
		rooms:      make(map[string]*room),
	}
}

// Room returns the live room for a party, starting its goroutine on first
// use. An existing open encounter is resumed from the store.
func (h *Hub) Room(party *models.Party) *room {
	h.mu.RLock()
	r, ok := h.rooms[party.ID]
	h.mu.RUnlock()
	if ok {
		return r
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[party.ID]; ok {
		return r
	}

	r = &room{
		hub:        h,
		partyID:    party.ID,
		campaignID: party.CampaignID,
		cache:      session.NewCache(),
		tracker:    encounter.NewTracker(h.store, party.ID),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		inbound:    make(chan inboundMsg, 256),
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	if err := r.tracker.Load(ctx); err != nil {
		log.Printf("[Hub] Could not resume encounter for party %s: %v", party.ID, err)
	}
	cancel()

	h.rooms[party.ID] = r
	go r.run()
	log.Printf("[Hub] Party room opened: %s (rooms: %d)", party.ID, len(h.rooms))
	return r
}

// Join hands a socket to its party room. The pending count is raised while
// the room is still in the map, so closeRoom cannot tear the room down
// between lookup and registration; if the room closed anyway, retry against
// a fresh one.
func (h *Hub) Join(c *Client, party *models.Party) {
	for {
		r := h.Room(party)

		h.mu.RLock()
		if h.rooms[party.ID] != r {
			h.mu.RUnlock()
			continue
		}
		r.pending.Inc()
		h.mu.RUnlock()

		c.room = r
		r.register <- c
		return
	}
}

// closeRoom removes an empty room unless a join raced in after its last
// client left. Returns false to keep the room goroutine running.
func (h *Hub) closeRoom(r *room) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r.pending.Load() > 0 || len(r.register) > 0 {
		return false
	}
	delete(h.rooms, r.partyID)
	log.Printf("[Hub] Party room closed: %s (rooms: %d)", r.partyID, len(h.rooms))
	return true
}

// RoomCount returns the number of live party rooms.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// room is one party's live state. Its goroutine is the single owner of the
// clients set, the stats cache, and the encounter tracker.
type room struct {
	hub        *Hub
	partyID    string
	campaignID string

	cache   *session.Cache
	tracker *encounter.Tracker

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	inbound    chan inboundMsg

	// pending counts joins handed over but not yet admitted; a room with
	// pending joins must not shut down.
	pending atomic.Int32
}

func (r *room) run() {
	for {
		select {
		case client := <-r.register:
			r.admit(client)

		case client := <-r.unregister:
			if r.drop(client) && r.hub.closeRoom(r) {
				return
			}

		case msg := <-r.inbound:
			r.handleFrame(msg.client, msg.data)
		}
	}
}

// admit installs the client, replays recent history to it, and announces
// the join to everyone.
func (r *room) admit(c *Client) {
	r.pending.Dec()
	r.clients[c] = true
	go c.writePump()

	r.backfill(c)

	name := c.Actor
	if c.pendingSnap != nil {
		snap := r.cache.Install(c.pendingSnap)
		c.pendingSnap = nil
		name = snap.Name
	}
	log.Printf("[Hub] Client connected: %s to party %s (clients: %d)", c.ID, r.partyID, len(r.clients))

	r.broadcast(events.System{
		Type:      events.TypeSystem,
		Text:      fmt.Sprintf("%s (%s) joined the party", name, roleName(c.IsSW)),
		PartyID:   r.partyID,
		Timestamp: time.Now(),
	})
}

// drop removes the client and reports whether the room is now empty.
func (r *room) drop(c *Client) bool {
	if _, ok := r.clients[c]; !ok {
		return len(r.clients) == 0
	}
	delete(r.clients, c)
	close(c.Send)

	name := c.Actor
	if c.CharacterID != "" {
		if snap := r.cache.Get(c.CharacterID); snap != nil {
			name = snap.Name
		}
		r.cache.Release(c.CharacterID)
	}
	log.Printf("[Hub] Client disconnected: %s from party %s (clients: %d)", c.ID, r.partyID, len(r.clients))

	if len(r.clients) > 0 {
		r.broadcast(events.System{
			Type:      events.TypeSystem,
			Text:      fmt.Sprintf("%s left the party", name),
			PartyID:   r.partyID,
			Timestamp: time.Now(),
		})
		return false
	}
	return true
}

// handleFrame validates one inbound frame and routes it to plain chat or
// the macro dispatcher. Errors become private system replies; the socket
// stays up.
func (r *room) handleFrame(c *Client, data []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		r.private(c, "Malformed frame: expected a JSON object.")
		return
	}
	if frame.Type != "message" {
		r.private(c, fmt.Sprintf("Unsupported frame type: %q", frame.Type))
		return
	}

	text := strings.TrimSpace(frame.Text)
	if text == "" {
		r.private(c, "Empty message.")
		return
	}

	actor := frame.Actor
	if actor == "" {
		actor = c.Actor
	}

	if strings.HasPrefix(text, "/") {
		r.dispatchMacro(c, actor, text)
		return
	}
	r.plainChat(c, actor, text, frame.Mode)
}

func (r *room) dispatchMacro(c *Client, actor, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	result := r.hub.dispatcher.Dispatch(ctx, &macro.Request{
		PartyID:     r.partyID,
		CampaignID:  r.campaignID,
		Actor:       actor,
		UserID:      c.UserID,
		CharacterID: c.CharacterID,
		IsSW:        c.IsSW,
		Text:        text,
		Cache:       r.cache,
		Encounter:   r.tracker,
	})

	if result.Broadcast != nil {
		r.broadcast(result.Broadcast)
	}
	if result.Private != "" {
		r.private(c, result.Private)
	}
}

// plainChat broadcasts and persists a non-command line. Mode defaults to
// in-character.
func (r *room) plainChat(c *Client, actor, text, mode string) {
	if mode != models.ModeOOC {
		mode = models.ModeIC
	}

	now := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	err := r.hub.store.AppendMessage(ctx, interfaces.MessageRow{
		PartyID:     r.partyID,
		CampaignID:  r.campaignID,
		SenderID:    c.CharacterID,
		SenderName:  actor,
		MessageType: models.MessageTypeChat,
		Mode:        mode,
		Content:     text,
		CreatedAt:   now,
	})
	if err != nil {
		log.Printf("[Hub] Failed to persist chat for party %s: %v", r.partyID, err)
		r.private(c, "Could not save your message. Try again.")
		return
	}

	r.broadcast(events.Chat{
		Type:      events.TypeChat,
		Actor:     actor,
		Text:      text,
		Mode:      mode,
		PartyID:   r.partyID,
		Timestamp: now,
	})
}

// broadcast fans an event out to every socket in the room and appends it to
// the recent-history list. A client with a full send buffer is skipped.
func (r *room) broadcast(e events.Event) {
	data, err := events.Marshal(e)
	if err != nil {
		log.Printf("[Hub] Failed to marshal %s event: %v", e.EventType(), err)
		return
	}

	if r.hub.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		if err := r.hub.history.AppendHistory(ctx, r.partyID, data); err != nil {
			log.Printf("[Hub] Failed to append history for party %s: %v", r.partyID, err)
		}
		cancel()
	}

	for client := range r.clients {
		select {
		case client.Send <- data:
		default:
			log.Printf("[Hub] Client send buffer full: %s", client.ID)
		}
	}
}

// private sends a system frame to one client only.
func (r *room) private(c *Client, text string) {
	data, err := events.Marshal(events.System{
		Type:      events.TypeSystem,
		Text:      text,
		PartyID:   r.partyID,
		Timestamp: time.Now(),
	})
	if err != nil {
		return
	}
	select {
	case c.Send <- data:
	default:
	}
}

// backfill replays the party's recent history to a newly joined client.
func (r *room) backfill(c *Client) {
	if r.hub.history == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	frames, err := r.hub.history.RecentHistory(ctx, r.partyID, int64(r.hub.cfg.Chat.HistoryLimit))
	if err != nil {
		log.Printf("[Hub] Failed to backfill history for party %s: %v", r.partyID, err)
		return
	}
	for _, frame := range frames {
		select {
		case c.Send <- []byte(frame):
		default:
			return
		}
	}
}

func roleName(isSW bool) string {
	if isSW {
		return "Story Weaver"
	}
	return "player"
}
