// Package wsendpoint terminates one websocket connection per client,
// grounded on the teacher's internal/relay/pty_relay.go handlePTYWS: accept,
// defer CloseNow, read loop switching on an envelope type. Unlike the
// teacher's PTY-routing endpoint (one browser connection piloting one wing's
// terminal), this endpoint is the whole wire protocol surface a Wormhole
// client speaks: hello/subscribe/input/permission_response/control/sync in,
// welcome/event/permission_request/sync_response/error out.
package wsendpoint

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/ehrlich-b/wormhole/internal/hub"
	"github.com/ehrlich-b/wormhole/internal/permission"
	"github.com/ehrlich-b/wormhole/internal/protocol"
	"github.com/ehrlich-b/wormhole/internal/registry"
)

const handshakeTimeout = 10 * time.Second

// Handler accepts incoming client connections.
type Handler struct {
	Registry      *registry.Registry
	Hub           *hub.Hub
	ServerVersion string
	MachineName   string
	Logger        *slog.Logger
}

func New(reg *registry.Registry, h *hub.Hub, serverVersion, machineName string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Registry: reg, Hub: h, ServerVersion: serverVersion, MachineName: machineName, Logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.Logger.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()

	handshakeCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	_, data, err := conn.Read(handshakeCtx)
	cancel()
	if err != nil {
		h.Logger.Warn("handshake read failed", "error", err)
		return
	}

	msg, err := protocol.Decode(data)
	if err != nil {
		h.Logger.Warn("handshake decode failed", "error", err)
		return
	}
	if _, ok := msg.(protocol.Hello); !ok {
		h.writeError(ctx, conn, protocol.ErrInvalidMessage, "first frame must be hello", "")
		return
	}

	client := h.Hub.NewClient(uuid.New().String())
	h.Hub.Register(client)
	defer h.Hub.Unregister(client)

	welcome := h.Hub.Welcome(h.ServerVersion, h.MachineName)
	if err := h.writeJSON(ctx, conn, welcome); err != nil {
		return
	}

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		h.writePump(ctx, conn, client)
	}()

	h.readLoop(ctx, conn, client)
	<-pumpDone
}

// writePump drains the client's outbox to the wire until the connection
// context ends or the client is disconnected (e.g. for backpressure), in
// which case its terminal frame is written once before returning.
func (h *Handler) writePump(ctx context.Context, conn *websocket.Conn, client *hub.Client) {
	for {
		select {
		case frame := <-client.Outbox():
			if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
				return
			}
		case <-client.Closed():
			if frame := client.TerminalFrame(); frame != nil {
				conn.Write(ctx, websocket.MessageText, frame)
			}
			conn.Close(websocket.StatusNormalClosure, "backpressure")
			return
		case <-ctx.Done():
			return
		}
	}
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, client *hub.Client) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			h.writeError(ctx, conn, protocol.ErrInvalidMessage, err.Error(), "")
			continue
		}

		switch m := msg.(type) {
		case protocol.Subscribe:
			if err := h.Hub.Subscribe(client.ID(), m.Sessions); err != nil {
				h.writeError(ctx, conn, protocol.ErrInvalidMessage, err.Error(), "")
			}

		case protocol.Input:
			h.dispatchToSession(ctx, conn, client, m.Session, func(sess sessionHandle) error {
				return sess.Input(ctx, m.Text)
			})

		case protocol.Control:
			h.dispatchToSession(ctx, conn, client, m.Session, func(sess sessionHandle) error {
				return sess.Control(ctx, m.Action)
			})

		case protocol.Sync:
			resp, err := h.Hub.Sync(m.Session, m.LastSeenSequence)
			if err != nil {
				h.writeError(ctx, conn, protocol.ErrSessionNotFound, err.Error(), m.Session)
				continue
			}
			h.writeJSON(ctx, conn, resp)

		case protocol.PermissionResponse:
			decision := permission.Deny
			if m.Decision == protocol.DecisionAllow {
				decision = permission.Allow
			}
			if err := h.Hub.Resolve(m.RequestID, decision); err != nil {
				h.writeError(ctx, conn, protocol.ErrInvalidMessage, err.Error(), "")
			}

		case protocol.Hello:
			// A second hello after the handshake is simply ignored.

		default:
			h.writeError(ctx, conn, protocol.ErrInvalidMessage, "unexpected frame type", "")
		}
	}
}

// sessionHandle is the minimal session surface the endpoint drives.
type sessionHandle interface {
	Input(ctx context.Context, text string) error
	Control(ctx context.Context, action string) error
}

func (h *Handler) dispatchToSession(ctx context.Context, conn *websocket.Conn, client *hub.Client, name string, fn func(sessionHandle) error) {
	sess, ok := h.Registry.Get(name)
	if !ok {
		h.writeError(ctx, conn, protocol.ErrSessionNotFound, "no such session: "+name, name)
		return
	}
	if !h.Hub.IsSubscribed(client.ID(), name) {
		h.writeError(ctx, conn, protocol.ErrNotSubscribed, "not subscribed to session: "+name, name)
		return
	}
	if err := fn(sess); err != nil {
		h.writeError(ctx, conn, protocol.ErrDriverError, err.Error(), name)
	}
}

func (h *Handler) writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (h *Handler) writeError(ctx context.Context, conn *websocket.Conn, code, message, session string) {
	h.writeJSON(ctx, conn, protocol.ErrorFrame{
		Type:    protocol.TypeError,
		Code:    code,
		Message: message,
		Session: session,
	})
}
