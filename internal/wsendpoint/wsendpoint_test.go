package wsendpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/ehrlich-b/wormhole/internal/driver/fake"
	"github.com/ehrlich-b/wormhole/internal/hub"
	"github.com/ehrlich-b/wormhole/internal/protocol"
	"github.com/ehrlich-b/wormhole/internal/registry"
	"github.com/ehrlich-b/wormhole/internal/session"
)

func testIDFunc() func() string {
	var n int64
	return func() string {
		return fmt.Sprintf("req-%d", atomic.AddInt64(&n, 1))
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *registry.Registry, *fake.Driver) {
	t.Helper()
	var drv *fake.Driver
	var h *hub.Hub // assigned below; the factory closure captures the variable, not its value

	reg := registry.New(func(name, directory string) (*session.Session, error) {
		drv = fake.New()
		return session.New(context.Background(), session.Options{
			Name:         name,
			Directory:    directory,
			Driver:       drv,
			Publisher:    h,
			NewRequestID: testIDFunc(),
		})
	})
	h = hub.New(reg, 0)
	handler := New(reg, h, "1.0.0-test", "test-machine", nil)
	srv := httptest.NewServer(handler)

	sess, err := reg.Open("demo", t.TempDir())
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	_ = sess

	return srv, reg, drv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + srv.URL[len("http"):]
	conn, _, err := websocket.Dial(context.Background(), url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func sendJSON(t *testing.T, ctx context.Context, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) protocol.Envelope {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	env, err := protocol.Parse(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return env
}

func TestHandshakeReceivesWelcome(t *testing.T) {
	srv, _, _ := newTestServer(t)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, srv)
	defer conn.Close(websocket.StatusNormalClosure, "")

	sendJSON(t, ctx, conn, protocol.Hello{Type: protocol.TypeHello, ClientVersion: "1.0", DeviceName: "test"})

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read welcome: %v", err)
	}
	var w protocol.Welcome
	if err := json.Unmarshal(data, &w); err != nil {
		t.Fatalf("unmarshal welcome: %v", err)
	}
	if w.Type != protocol.TypeWelcome {
		t.Fatalf("expected welcome type, got %s", w.Type)
	}
	if len(w.Sessions) != 1 || w.Sessions[0].Name != "demo" {
		t.Fatalf("expected welcome to list demo session, got %+v", w.Sessions)
	}
}

func TestSubscribeThenReceivesEvent(t *testing.T) {
	srv, _, drv := newTestServer(t)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, srv)
	defer conn.Close(websocket.StatusNormalClosure, "")

	sendJSON(t, ctx, conn, protocol.Hello{Type: protocol.TypeHello})
	conn.Read(ctx) // welcome

	sendJSON(t, ctx, conn, protocol.Subscribe{Type: protocol.TypeSubscribe, Sessions: protocol.SubscribeSessions{All: true}})

	drv.EmitInit("driver-xyz")

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	var ev protocol.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if ev.Session != "demo" || ev.Sequence != 1 {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestInputWithoutSubscriptionReturnsNotSubscribed(t *testing.T) {
	srv, _, _ := newTestServer(t)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, srv)
	defer conn.Close(websocket.StatusNormalClosure, "")

	sendJSON(t, ctx, conn, protocol.Hello{Type: protocol.TypeHello})
	conn.Read(ctx) // welcome

	sendJSON(t, ctx, conn, protocol.Input{Type: protocol.TypeInput, Session: "demo", Text: "hi"})

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read error frame: %v", err)
	}
	var ef protocol.ErrorFrame
	if err := json.Unmarshal(data, &ef); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if ef.Code != protocol.ErrNotSubscribed {
		t.Fatalf("expected NOT_SUBSCRIBED, got %s", ef.Code)
	}
}

func TestSyncUnknownSessionReturnsError(t *testing.T) {
	srv, _, _ := newTestServer(t)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, srv)
	defer conn.Close(websocket.StatusNormalClosure, "")

	sendJSON(t, ctx, conn, protocol.Hello{Type: protocol.TypeHello})
	conn.Read(ctx) // welcome

	sendJSON(t, ctx, conn, protocol.Sync{Type: protocol.TypeSync, Session: "nope", LastSeenSequence: 0})

	env := readFrame(t, ctx, conn)
	if env.Type != protocol.TypeError {
		t.Fatalf("expected error frame, got %s", env.Type)
	}
}
