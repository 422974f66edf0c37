package trade

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/papertrade/ledger-engine/internal/auth"
	apperrors "github.com/papertrade/ledger-engine/internal/errors"
	"github.com/papertrade/ledger-engine/internal/events"
	"github.com/papertrade/ledger-engine/internal/httpapi"
	"github.com/papertrade/ledger-engine/internal/metrics"
	"github.com/papertrade/ledger-engine/internal/model"
	"github.com/papertrade/ledger-engine/internal/store"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
)

// WSMessage is a JSON message sent to WebSocket clients.
type WSMessage struct {
	Type          string `json:"type"`
	TradeID       string `json:"trade_id"`
	CompetitionID string `json:"competition_id"`
	UserID        string `json:"user_id"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Quantity      string `json:"quantity"`
	Price         string `json:"price"`
	Valuation     string `json:"valuation"`
}

// MessageFromEvent is the broadcast form of a committed trade. Symbols are
// shown in display form (BRK.B).
func MessageFromEvent(e events.TradeEvent) WSMessage {
	return WSMessage{
		Type:          e.Type,
		TradeID:       e.TradeID,
		CompetitionID: e.CompetitionID,
		UserID:        e.UserID,
		Symbol:        model.DisplaySymbol(e.Symbol),
		Side:          string(e.Side),
		Quantity:      e.Quantity.String(),
		Price:         e.Price.String(),
		Valuation:     e.Valuation.String(),
	}
}

type wsClient struct {
	conn          *websocket.Conn
	competitionID string
}

type wsFrame struct {
	competitionID string
	data          []byte
}

// WSHub manages WebSocket connections and fans committed trades out to
// clients subscribed to the trade's competition. Only participants of a
// competition may subscribe to it.
type WSHub struct {
	clients    map[*websocket.Conn]*wsClient
	broadcast  chan wsFrame
	register   chan *wsClient
	unregister chan *websocket.Conn
	done       chan struct{}
	mu         sync.RWMutex
	dir        store.CompetitionDirectory
	upgrader   websocket.Upgrader
	logger     *zap.Logger
}

// NewWSHub creates a hub that checks subscriptions against dir. Browser
// upgrades are accepted from the request's own host or from one of
// allowedOrigins; "*" accepts any origin.
func NewWSHub(dir store.CompetitionDirectory, allowedOrigins []string, logger *zap.Logger) *WSHub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHub{
		clients:    make(map[*websocket.Conn]*wsClient),
		broadcast:  make(chan wsFrame, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		dir:        dir,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger,
	}
}

// originChecker returns a CheckOrigin func. CORS headers do not apply to
// WebSocket handshakes, so the upgrader has to check Origin itself.
func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		if strings.EqualFold(u.Host, r.Host) {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(strings.TrimRight(a, "/"), origin) {
				return true
			}
		}
		return false
	}
}

// Run is the hub's event loop. It returns when ctx is done, closing every
// connection.
func (h *WSHub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
				delete(h.clients, conn)
			}
			h.mu.Unlock()
			metrics.WebSocketClients.Set(0)
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.conn] = c
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))
			h.logger.Debug("ws client connected", zap.Int("total", n), zap.String("competition_id", c.competitionID))

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[conn]; ok {
				delete(h.clients, conn)
				conn.Close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))

		case f := <-h.broadcast:
			h.mu.Lock()
			for conn, c := range h.clients {
				if c.competitionID != f.competitionID {
					continue
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, f.data); err != nil {
					conn.Close()
					delete(h.clients, conn)
				}
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.WebSocketClients.Set(float64(n))
		}
	}
}

// Clients returns the number of connected clients.
func (h *WSHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues msg for delivery. It never blocks trade execution: when
// the buffer is full the message is dropped.
func (h *WSHub) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- wsFrame{competitionID: msg.CompetitionID, data: data}:
	default:
		h.logger.Warn("ws broadcast buffer full, dropping message", zap.String("trade_id", msg.TradeID))
	}
}

// HandleWS upgrades GET /api/v1/ws?competition_id=. The caller must be a
// participant of the competition; the feed carries only its trades.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	competitionID, err := h.authorize(r)
	if err != nil {
		httpapi.WriteError(w, r, h.logger, err)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	select {
	case h.register <- &wsClient{conn: conn, competitionID: competitionID}:
	case <-h.done:
		conn.Close()
		return
	}

	// Read pump: detects disconnects and keeps the read deadline fresh.
	go func() {
		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.done:
			}
		}()
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for range ticker.C {
			h.mu.RLock()
			_, ok := h.clients[conn]
			h.mu.RUnlock()
			if !ok {
				return
			}
			// WriteControl may run concurrently with the hub's writes.
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}()
}

// authorize returns the competition the caller may subscribe to.
func (h *WSHub) authorize(r *http.Request) (string, error) {
	userID, ok := auth.UserID(r.Context())
	if !ok {
		return "", apperrors.ErrUnauthorized
	}
	id := r.URL.Query().Get("competition_id")
	if id == "" {
		return "", apperrors.WithMessage(apperrors.ErrInvalidInput, "competition_id is required")
	}
	c, err := h.dir.GetCompetition(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return "", apperrors.ErrCompetitionNotFound
	case err != nil:
		return "", apperrors.Wrap(apperrors.ErrStoreUnavailable, err)
	case !c.HasParticipant(userID):
		return "", apperrors.ErrNotAParticipant
	}
	return id, nil
}
