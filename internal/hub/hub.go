// Package hub fans a session's event stream out to every subscribed client,
// grounded on the teacher's internal/relay/pty_relay.go BrowserConn routing
// (map of connections behind one RWMutex, per-connection send queue) and the
// metered-queue backpressure idea in internal/relay/bandwidth.go, generalized
// here from one PTY per browser tab to many sessions per client.
package hub

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/ehrlich-b/wormhole/internal/permission"
	"github.com/ehrlich-b/wormhole/internal/protocol"
	"github.com/ehrlich-b/wormhole/internal/session"
)

// outboxCapacity is the default per-client high-water mark; a client whose
// outbound queue fills past this is disconnected with a BACKPRESSURE error
// frame. A Hub constructed with a positive queueHighWaterMark overrides it.
const outboxCapacity = 4096

// ErrSessionNotFound mirrors protocol.ErrSessionNotFound for Go callers.
var ErrSessionNotFound = errors.New("hub: session not found")

// SessionProvider is the subset of internal/registry.Registry the hub needs:
// enough to answer sync() requests and assemble a welcome snapshot without
// importing the registry package directly.
type SessionProvider interface {
	Get(name string) (*session.Session, bool)
	List() []*session.Session
}

// Client is one websocket-connected subscriber. The outbox is the single
// queue every frame destined for this client passes through, which is what
// guarantees per-client delivery ordering.
type Client struct {
	id string

	mu           sync.Mutex
	subscription protocol.SubscribeSessions

	outbox chan []byte

	closeOnce     sync.Once
	closed        chan struct{}
	terminalFrame []byte
}

// NewClient allocates a Client with an empty subscription set and the
// default outbox capacity; call Hub.Subscribe to populate it once the
// client sends its subscribe frame. Prefer Hub.NewClient in production code,
// which honors the hub's configured queue high-water mark.
func NewClient(id string) *Client {
	return newClientWithCapacity(id, outboxCapacity)
}

func newClientWithCapacity(id string, capacity int) *Client {
	if capacity <= 0 {
		capacity = outboxCapacity
	}
	return &Client{
		id:     id,
		outbox: make(chan []byte, capacity),
		closed: make(chan struct{}),
	}
}

func (c *Client) ID() string { return c.id }

// Outbox is read by the endpoint's write loop.
func (c *Client) Outbox() <-chan []byte { return c.outbox }

// Closed fires when this client has been forcibly disconnected (e.g. for
// backpressure). The endpoint should drain TerminalFrame and close the
// connection when this fires.
func (c *Client) Closed() <-chan struct{} { return c.closed }

// TerminalFrame is the last frame to deliver before closing, set only when
// Closed has fired due to an error condition (nil on a clean disconnect).
func (c *Client) TerminalFrame() []byte { return c.terminalFrame }

func (c *Client) enqueue(frame []byte) {
	select {
	case c.outbox <- frame:
	default:
		c.disconnect(protocol.ErrBackpressure, "client outbound queue exceeded the high-water mark")
	}
}

func (c *Client) disconnect(code, message string) {
	c.closeOnce.Do(func() {
		frame, err := json.Marshal(protocol.ErrorFrame{
			Type:    protocol.TypeError,
			Code:    code,
			Message: message,
		})
		if err == nil {
			c.terminalFrame = frame
		}
		close(c.closed)
	})
}

// Hub tracks every connected client's subscription set and the global
// request_id -> owning session index needed to route a permission_response
// back to the broker that opened it (the wire frame itself carries no
// session field, only the request id).
type Hub struct {
	mu             sync.RWMutex
	clients        map[string]*Client
	sessions       SessionProvider
	clientCapacity int

	pendingOwner map[string]string // request_id -> session name
}

// New constructs a Hub. queueHighWaterMark is the per-client outbox capacity
// (session.queue_high_water_mark); 0 or negative falls back to
// outboxCapacity.
func New(sessions SessionProvider, queueHighWaterMark int) *Hub {
	return &Hub{
		clients:        make(map[string]*Client),
		sessions:       sessions,
		clientCapacity: queueHighWaterMark,
		pendingOwner:   make(map[string]string),
	}
}

// NewClient allocates a Client sized to this hub's configured queue
// high-water mark.
func (h *Hub) NewClient(id string) *Client {
	return newClientWithCapacity(id, h.clientCapacity)
}

// Register adds a client once its handshake completes.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
}

// Unregister removes a client, e.g. on disconnect. Its outstanding
// permission_request routing entries are left in place: another subscribed
// client may still resolve the same permission.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c.id)
}

// Subscribe replaces a client's subscribed-session set.
func (h *Hub) Subscribe(clientID string, sessions protocol.SubscribeSessions) error {
	h.mu.RLock()
	c, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		return errors.New("hub: unknown client " + clientID)
	}
	c.mu.Lock()
	c.subscription = sessions
	c.mu.Unlock()
	return nil
}

func subscribed(sub protocol.SubscribeSessions, name string) bool {
	if sub.All {
		return true
	}
	for _, n := range sub.Names {
		if n == name {
			return true
		}
	}
	return false
}

// IsSubscribed reports whether clientID currently subscribes to name, used
// by the endpoint to reject input/control targeting a session the client
// never subscribed to with NOT_SUBSCRIBED. Sync is not checked against it.
func (h *Hub) IsSubscribed(clientID, name string) bool {
	h.mu.RLock()
	c, ok := h.clients[clientID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return subscribed(c.subscription, name)
}

func (h *Hub) broadcast(sessionName string, frame any) {
	raw, err := json.Marshal(frame)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		c.mu.Lock()
		sub := c.subscription
		c.mu.Unlock()
		if subscribed(sub, sessionName) {
			c.enqueue(raw)
		}
	}
}

// PublishEvent implements session.Publisher: fan an appended event out to
// every client subscribed to its session.
func (h *Hub) PublishEvent(sessionName string, ev protocol.Event) {
	h.broadcast(sessionName, ev)
}

// PublishPermissionRequest implements session.Publisher: fan the request out
// and record which session owns it, so a later permission_response (which
// carries only a request id) can be routed back correctly.
func (h *Hub) PublishPermissionRequest(sessionName string, req protocol.PermissionRequest) {
	h.mu.Lock()
	h.pendingOwner[req.RequestID] = sessionName
	h.mu.Unlock()
	h.broadcast(sessionName, req)
}

// PublishStateChange implements session.Publisher. The wire protocol has no
// dedicated state-change frame — clients infer state from permission_request
// and result events — so the hub ignores state changes and enqueues no
// frame for them.
func (h *Hub) PublishStateChange(sessionName string, state session.State) {}

// PublishError implements session.Publisher: fan a terminal (type=error,
// session=…) frame out to every client subscribed to sessionName, per
// spec's driver-failure fan-out requirement. Unlike PublishEvent this never
// touches the ring — it's a one-shot notification, not session history.
func (h *Hub) PublishError(sessionName, code, message string) {
	h.broadcast(sessionName, protocol.ErrorFrame{
		Type:    protocol.TypeError,
		Code:    code,
		Message: message,
		Session: sessionName,
	})
}

// Resolve routes a permission_response to the broker that owns requestID.
func (h *Hub) Resolve(requestID string, decision permission.Decision) error {
	h.mu.RLock()
	sessionName, ok := h.pendingOwner[requestID]
	h.mu.RUnlock()
	if !ok {
		return permission.ErrUnknownRequest
	}

	sess, ok := h.sessions.Get(sessionName)
	if !ok {
		return permission.ErrUnknownRequest
	}

	if err := sess.Broker().Resolve(requestID, decision); err != nil {
		return err
	}

	h.mu.Lock()
	delete(h.pendingOwner, requestID)
	h.mu.Unlock()
	return nil
}

// Sync answers a sync() request for one session: everything after lastSeen,
// plus any permissions still pending so a reconnecting client can render the
// approval prompt it missed.
func (h *Hub) Sync(sessionName string, lastSeen uint64) (protocol.SyncResponse, error) {
	sess, ok := h.sessions.Get(sessionName)
	if !ok {
		return protocol.SyncResponse{}, ErrSessionNotFound
	}

	events, truncated := sess.Ring().Snapshot(lastSeen)
	pending := sess.Broker().Pending()
	reqs := make([]protocol.PermissionRequest, 0, len(pending))
	for _, p := range pending {
		reqs = append(reqs, protocol.PermissionRequest{
			Type:        protocol.TypePermissionRequest,
			RequestID:   p.RequestID,
			ToolName:    p.ToolName,
			ToolInput:   p.ToolInput,
			SessionName: p.SessionName,
		})
	}

	return protocol.SyncResponse{
		Type:               protocol.TypeSyncResponse,
		Session:            sessionName,
		Events:             events,
		Truncated:          truncated,
		PendingPermissions: reqs,
	}, nil
}

// Welcome assembles the snapshot a newly connected client receives.
func (h *Hub) Welcome(serverVersion, machineName string) protocol.Welcome {
	sessions := h.sessions.List()
	summaries := make([]protocol.SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		summaries = append(summaries, s.Summary())
	}
	return protocol.Welcome{
		Type:          protocol.TypeWelcome,
		ServerVersion: serverVersion,
		MachineName:   machineName,
		Sessions:      summaries,
	}
}
