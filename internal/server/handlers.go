package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Tyrowin/gochat-realtime/internal/realtime"
)

// PresenceDirectory answers for users that are not bound on this node.
type PresenceDirectory interface {
	Lookup(ctx context.Context, user realtime.UserID) (node string, online bool, err error)
	LastSeen(ctx context.Context, user realtime.UserID) (time.Time, bool, error)
}

// Handlers serves the HTTP endpoints of a realtime node.
type Handlers struct {
	hub       *Hub
	registry  *realtime.Registry
	directory PresenceDirectory
	cfg       *Config
	upgrader  websocket.Upgrader
	logger    *zap.Logger
}

// NewHandlers creates the handlers for hub. Only origins listed in
// cfg.AllowedOrigins may open a WebSocket. directory may be nil, in which case
// only users bound on this node are reported online.
func NewHandlers(
	hub *Hub,
	registry *realtime.Registry,
	directory PresenceDirectory,
	cfg *Config,
	logger *zap.Logger,
) *Handlers {
	logger = logger.Named("http")
	origins := newOriginPolicy(cfg.AllowedOrigins, logger)
	return &Handlers{
		hub:       hub,
		registry:  registry,
		directory: directory,
		cfg:       cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.check,
		},
		logger: logger,
	}
}

// WebSocket upgrades the request and hands the connection to the hub. The
// identity is taken from the userId query parameter; a missing or invalid one
// still connects, in degraded mode.
func (h *Handlers) WebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	rawUserID := r.URL.Query().Get("userId")

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Info("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(conn, h.hub, h.cfg, rawUserID, r.RemoteAddr)
	if !h.hub.Register(client) {
		client.closeConn()
	}
}

// Health reports that the node is up.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "GoChat realtime node %s is running!", h.cfg.NodeID)
}

// PresenceResponse is the body of GET /presence.
type PresenceResponse struct {
	NodeID      string            `json:"nodeId"`
	OnlineUsers []realtime.UserID `json:"onlineUsers"`
	Sessions    int               `json:"sessions"`
}

// Presence returns the users bound on this node.
func (h *Handlers) Presence(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	resp := PresenceResponse{
		NodeID:      h.cfg.NodeID,
		OnlineUsers: h.registry.SnapshotKeys(),
		Sessions:    h.hub.ClientCount(),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Warn("Error writing presence response", zap.Error(err))
	}
}

// UserPresenceResponse is the body of GET /presence/{userId}.
type UserPresenceResponse struct {
	UserID   realtime.UserID `json:"userId"`
	Online   bool            `json:"online"`
	NodeID   string          `json:"nodeId,omitempty"`
	LastSeen *time.Time      `json:"lastSeen,omitempty"`
}

// UserPresence reports whether one user is online and on which node. For an
// offline user the cached lastSeen is included when the directory has one.
func (h *Handlers) UserPresence(w http.ResponseWriter, r *http.Request) {
	user, ok := realtime.ParseUserID(chi.URLParam(r, "userId"))
	if !ok {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}

	resp := UserPresenceResponse{UserID: user}
	if _, bound := h.registry.Get(user); bound {
		resp.Online = true
		resp.NodeID = h.cfg.NodeID
	} else if h.directory != nil {
		ctx, cancel := context.WithTimeout(r.Context(), h.cfg.StoreTimeout)
		defer cancel()
		if err := h.lookup(ctx, &resp); err != nil {
			h.logger.Warn("Presence lookup failed", zap.String("user", string(user)), zap.Error(err))
			http.Error(w, "presence directory unavailable", http.StatusServiceUnavailable)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Warn("Error writing presence response", zap.Error(err))
	}
}

func (h *Handlers) lookup(ctx context.Context, resp *UserPresenceResponse) error {
	node, online, err := h.directory.Lookup(ctx, resp.UserID)
	if err != nil {
		return err
	}
	if online {
		resp.Online = true
		resp.NodeID = node
		return nil
	}
	at, found, err := h.directory.LastSeen(ctx, resp.UserID)
	if err != nil {
		return err
	}
	if found {
		resp.LastSeen = &at
	}
	return nil
}

// TestPage serves a small browser client for trying the node by hand.
func (h *Handlers) TestPage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPageHTML); err != nil {
		h.logger.Warn("Error writing HTML response", zap.Error(err))
	}
}
