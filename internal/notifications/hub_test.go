package notifications

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func hubTestServer(t *testing.T, h *Hub) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeWS(w, r, r.URL.Query().Get("user"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dialHub(t *testing.T, srv *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?user=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestPushDeliversToConnectedClient(t *testing.T) {
	h := NewHub()
	srv := hubTestServer(t, h)

	conn := dialHub(t, srv, "u1")
	defer conn.Close()

	require.Eventually(t, func() bool { return h.ConnectedUsers() == 1 },
		time.Second, 5*time.Millisecond)

	h.Push(&Notification{ID: "n1", UserID: "u1", EventType: "order_status", Title: "hi"})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(msg), `"id":"n1"`)
}

func TestPushSurvivesConcurrentDisconnects(t *testing.T) {
	h := NewHub()
	srv := hubTestServer(t, h)

	// Clients come and go while pushes are in flight. The pump must never
	// panic, whatever interleaving of drop and send the scheduler picks.
	for round := 0; round < 5; round++ {
		conns := make([]*websocket.Conn, 0, 8)
		for i := 0; i < 8; i++ {
			conns = append(conns, dialHub(t, srv, "burst"))
		}
		require.Eventually(t, func() bool { return h.ConnectedUsers() >= 1 },
			time.Second, 5*time.Millisecond)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				h.Push(&Notification{ID: "n", UserID: "burst", EventType: "order_status"})
			}
		}()
		go func() {
			defer wg.Done()
			for _, c := range conns {
				c.Close()
			}
		}()
		wg.Wait()
	}
}
