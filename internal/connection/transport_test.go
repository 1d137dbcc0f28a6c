package connection

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/agentgov/consolestream/internal/session"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// newWSServer starts a test WebSocket server running handler per connection.
func newWSServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDialer_Exchange(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn, r *http.Request) {
		// Echo one frame back
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.WriteMessage(mt, data)
	})

	dial := Dialer(5*time.Second, 5*time.Second)
	tr, err := dial(context.Background(), wsURL(srv))
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer tr.Close(websocket.CloseNormalClosure, "done")

	if err := tr.WriteMessage([]byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	data, err := tr.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(data) != `{"type":"ping"}` {
		t.Errorf("echo = %q", data)
	}
}

func TestDialer_ServerCloseCode(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn, r *http.Request) {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(CloseAuthFailure, "bad token"),
			time.Now().Add(time.Second),
		)
		// Wait for the client's close response
		conn.ReadMessage()
	})

	dial := Dialer(5*time.Second, 5*time.Second)
	tr, err := dial(context.Background(), wsURL(srv))
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer tr.Close(websocket.CloseNormalClosure, "done")

	_, err = tr.ReadMessage()
	if err == nil {
		t.Fatal("expected read error after server close")
	}
	if got := closeCode(err); got != CloseAuthFailure {
		t.Errorf("closeCode = %d, want %d", got, CloseAuthFailure)
	}
}

func TestDialer_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dial := Dialer(5*time.Second, 5*time.Second)
	if _, err := dial(ctx, "ws://127.0.0.1:1/ws/chat"); err == nil {
		t.Fatal("expected dial error with cancelled context")
	}
}

func TestCloseCode_PlainError(t *testing.T) {
	if got := closeCode(errors.New("connection reset")); got != websocket.CloseAbnormalClosure {
		t.Errorf("closeCode = %d, want %d", got, websocket.CloseAbnormalClosure)
	}
}

func TestTransport_CloseIdempotent(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn, r *http.Request) {
		conn.ReadMessage()
	})

	dial := Dialer(5*time.Second, 5*time.Second)
	tr, err := dial(context.Background(), wsURL(srv))
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}

	first := tr.Close(websocket.CloseNormalClosure, "done")
	second := tr.Close(websocket.CloseNormalClosure, "done")
	if first != second {
		t.Errorf("repeated Close returned different errors: %v vs %v", first, second)
	}
}

// End-to-end over a real WebSocket: credential in the query string, chat frame
// reaches the server, server frames reach the registered handler.
func TestManager_OverWebSocket(t *testing.T) {
	gotToken := make(chan string, 1)
	received := make(chan string, 1)

	srv := newWSServer(t, func(conn *websocket.Conn, r *http.Request) {
		gotToken <- r.URL.Query().Get("token")

		conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"status","content":"2 agents active"}`))

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received <- string(data)

		// Hold the connection open until the client leaves
		conn.ReadMessage()
	})

	cfg := DefaultConfig()
	cfg.Origin = srv.URL

	store := session.NewMemStore("secret-token")
	mgr := NewManager(cfg, store, nil)

	msgs := make(chan Message, 1)
	mgr.OnMessage(func(msg Message) { msgs <- msg })

	mgr.Connect()
	defer mgr.Disconnect()
	waitFor(t, func() bool { return mgr.State().IsConnected() })

	select {
	case tok := <-gotToken:
		if tok != "secret-token" {
			t.Errorf("token = %q, want %q", tok, "secret-token")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the handshake")
	}

	select {
	case msg := <-msgs:
		if msg.Type != TypeStatus || msg.Content != "2 agents active" {
			t.Errorf("inbound frame mangled: %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("inbound frame never delivered")
	}

	if !mgr.SendMessage(" proceed with task ") {
		t.Fatal("SendMessage failed")
	}

	select {
	case raw := <-received:
		var env chatEnvelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			t.Fatalf("server received invalid JSON: %v", err)
		}
		if env.Content != "proceed with task" {
			t.Errorf("Content = %q, want trimmed", env.Content)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the chat frame")
	}
}
