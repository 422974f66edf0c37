package trade

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/papertrade/ledger-engine/internal/auth"
	"github.com/papertrade/ledger-engine/internal/events"
	"github.com/papertrade/ledger-engine/internal/httpapi"
	"github.com/papertrade/ledger-engine/internal/model"
	"github.com/papertrade/ledger-engine/internal/store"
)

// newHubServer runs a hub over competitions c1 (alice, bob) and c2 (carol).
// The ?user= query parameter stands in for the authenticated caller.
func newHubServer(t *testing.T, origins ...string) (*WSHub, *httptest.Server) {
	t.Helper()
	st := store.NewMemoryStore()
	for id, users := range map[string][]string{"c1": {"alice", "bob"}, "c2": {"carol"}} {
		err := st.CreateCompetition(context.Background(), &model.Competition{
			ID: id, OwnerID: users[0], Name: id, StartingBalance: m("1000"),
			StartDate: t0, EndDate: t0.Add(time.Hour), OpenMarket: true, ParticipantIDs: users,
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := NewWSHub(st, origins, nil)
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if u := r.URL.Query().Get("user"); u != "" {
			r = r.WithContext(auth.WithUserID(r.Context(), u))
		}
		hub.HandleWS(w, r)
	}))
	t.Cleanup(srv.Close)
	return hub, srv
}

func wsURL(srv *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + query
}

func dialHub(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, query), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *WSHub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", hub.Clients(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWSHub_BroadcastsByCompetition(t *testing.T) {
	hub, srv := newHubServer(t)

	alice := dialHub(t, srv, "?user=alice&competition_id=c1")
	bob := dialHub(t, srv, "?user=bob&competition_id=c1")
	carol := dialHub(t, srv, "?user=carol&competition_id=c2")
	waitForClients(t, hub, 3)

	e := events.FromTrade(model.TradeRecord{
		ID: "t1", CompetitionID: "c1", UserID: "alice", Symbol: "BRK_B", Side: model.SideBuy,
		Quantity: q("2"), Price: m("410.25"), Amount: m("820.50"),
	}, m("10000"))
	hub.Broadcast(MessageFromEvent(e))

	for name, conn := range map[string]*websocket.Conn{"alice": alice, "bob": bob} {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatal(err)
		}
		if msg.Type != events.TypeTradeCommitted || msg.Symbol != "BRK.B" || msg.Price != "410.25" || msg.Valuation != "10000.00" {
			t.Errorf("%s: message = %+v", name, msg)
		}
	}

	_ = carol.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := carol.ReadMessage(); err == nil {
		t.Error("c2 subscriber received a c1 trade")
	}
}

func TestWSHub_RejectsSubscription(t *testing.T) {
	_, srv := newHubServer(t)
	tests := []struct {
		name   string
		query  string
		status int
		code   string
	}{
		{"anonymous", "?competition_id=c1", http.StatusUnauthorized, "UNAUTHORIZED"},
		{"no competition", "?user=alice", http.StatusBadRequest, "INVALID_INPUT"},
		{"unknown competition", "?user=alice&competition_id=c9", http.StatusNotFound, "COMPETITION_NOT_FOUND"},
		{"outsider", "?user=carol&competition_id=c1", http.StatusForbidden, "NOT_A_PARTICIPANT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, tt.query), nil)
			if err == nil {
				conn.Close()
				t.Fatal("upgrade succeeded")
			}
			if resp == nil {
				t.Fatalf("no handshake response: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			var body httpapi.ErrorBody
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Code != tt.code {
				t.Errorf("body = %+v, %v, want code %s", body, err, tt.code)
			}
		})
	}
}

func TestWSHub_CheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		ok      bool
	}{
		{"no origin header", []string{"https://app.example"}, "", true},
		{"listed origin", []string{"https://app.example"}, "https://app.example", true},
		{"same host", nil, "http://HOST", true},
		{"foreign origin", []string{"https://app.example"}, "https://evil.example", false},
		{"wildcard", []string{"*"}, "https://evil.example", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, srv := newHubServer(t, tt.allowed...)
			h := http.Header{}
			if tt.origin != "" {
				h.Set("Origin", strings.Replace(tt.origin, "HOST", strings.TrimPrefix(srv.URL, "http://"), 1))
			}
			conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "?user=alice&competition_id=c1"), h)
			if err == nil {
				conn.Close()
			}
			if (err == nil) != tt.ok {
				t.Errorf("dial err = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestWSHub_UnregistersOnDisconnect(t *testing.T) {
	hub, srv := newHubServer(t)

	conn := dialHub(t, srv, "?user=alice&competition_id=c1")
	waitForClients(t, hub, 1)
	conn.Close()
	waitForClients(t, hub, 0)
}
