package web

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"partyhub/server/internal/config"
	"partyhub/server/internal/interfaces"
	"partyhub/server/internal/models"
	"partyhub/server/internal/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for development
	},
}

type Handlers struct {
	config *config.Config
	hub    *Hub
	store  interfaces.Store
}

func NewHandlers(cfg *config.Config, hub *Hub, store interfaces.Store) *Handlers {
	return &Handlers{
		config: cfg,
		hub:    hub,
		store:  store,
	}
}

func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"service": "partyhub",
		"rooms":   h.hub.RoomCount(),
	})
}

// ServeParty upgrades the socket and admits it to the party room. A bad or
// foreign character_id still admits the socket as an unbound observer.
func (h *Handlers) ServeParty(w http.ResponseWriter, r *http.Request) {
	partyID := chi.URLParam(r, "party_id")
	if partyID == "" {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "party_id is required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), storeTimeout)
	defer cancel()

	party, err := h.store.LoadParty(ctx, partyID)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "could not load party"})
		return
	}
	if party == nil {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "party not found"})
		return
	}

	characterID := r.URL.Query().Get("character_id")
	userID := r.URL.Query().Get("user_id")
	actor := r.URL.Query().Get("actor")

	snap, boundID := h.bootstrapSnapshot(ctx, party, characterID)
	if snap != nil && actor == "" {
		actor = snap.Name
	}

	isSW := userID != "" && userID == party.StoryWeaverUserID

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	clientID := generateClientID()
	if actor == "" {
		actor = "guest-" + clientID[:6]
	}

	client := &Client{
		ID:          clientID,
		Actor:       actor,
		UserID:      userID,
		CharacterID: boundID,
		IsSW:        isSW,
		Conn:        conn,
		Send:        make(chan []byte, sendBufferSize),
		pendingSnap: snap,
	}

	h.hub.Join(client, party)

	go client.readPump()
}

// bootstrapSnapshot loads the combatant record a socket claims to be bound
// to. Returns nil (observer) when the id is unknown or belongs to another
// party.
func (h *Handlers) bootstrapSnapshot(ctx context.Context, party *models.Party, characterID string) (*session.Snapshot, string) {
	if characterID == "" {
		return nil, ""
	}

	character, err := h.store.LoadCharacter(ctx, characterID)
	if err != nil {
		log.Printf("[Hub] Failed to load character %s: %v", characterID, err)
		return nil, ""
	}
	if character != nil {
		if !h.isPartyMember(ctx, party.ID, character.ID) {
			log.Printf("[Hub] Character %s is not a member of party %s; admitting as observer", characterID, party.ID)
			return nil, ""
		}
		abilities, err := h.store.ListAbilities(ctx, character.ID)
		if err != nil {
			log.Printf("[Hub] Failed to load abilities for %s: %v", character.ID, err)
		}
		snap := session.FromCharacter(character, abilities)
		snap.FillLevelDefaults()
		return snap, character.ID
	}

	npc, err := h.store.LoadNPC(ctx, characterID)
	if err != nil || npc == nil {
		log.Printf("[Hub] Unknown combatant id %s; admitting as observer", characterID)
		return nil, ""
	}
	if npc.PartyID != party.ID {
		log.Printf("[Hub] NPC %s belongs to party %s, not %s; admitting as observer", npc.ID, npc.PartyID, party.ID)
		return nil, ""
	}
	snap := session.FromNPC(npc)
	snap.FillLevelDefaults()
	return snap, npc.ID
}

func (h *Handlers) isPartyMember(ctx context.Context, partyID, characterID string) bool {
	characters, err := h.store.ListPartyCharacters(ctx, partyID)
	if err != nil {
		log.Printf("[Hub] Failed to list party %s characters: %v", partyID, err)
		return false
	}
	for _, c := range characters {
		if c.ID == characterID {
			return true
		}
	}
	return false
}

// CORS middleware
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		w.Header().Set("Access-Control-Max-Age", "300")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func NewRouter(cfg *config.Config, hub *Hub, store interfaces.Store) *chi.Mux {
	r := chi.NewRouter()

	// Request logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			log.Printf("REQUEST: %s %s", req.Method, req.URL.Path)
			next.ServeHTTP(w, req)
		})
	})

	r.Use(corsMiddleware)

	handlers := NewHandlers(cfg, hub, store)

	r.Get("/health", handlers.HealthCheck)
	r.Get("/chat/party/{party_id}", handlers.ServeParty)

	return r
}

// generateClientID generates a unique client ID
func generateClientID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return hex.EncodeToString([]byte(time.Now().String()))[:16]
	}
	return hex.EncodeToString(b)
}
