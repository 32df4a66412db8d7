// Package session implements one live AI-agent conversation bound to a
// single working directory, grounded on the teacher's
// internal/agent/orchestrator.go conversation loop: a Session owns a
// driver.Driver, an internal/ring.Ring of everything it has ever emitted,
// and a permission.Broker scoped to itself, and drives the state machine
// described by the daemon between a client's input and the driver's
// eventual terminal result.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ehrlich-b/wormhole/internal/audit"
	"github.com/ehrlich-b/wormhole/internal/driver"
	"github.com/ehrlich-b/wormhole/internal/permission"
	"github.com/ehrlich-b/wormhole/internal/protocol"
	"github.com/ehrlich-b/wormhole/internal/ring"
)

// ErrBusy is returned by Input while a turn is already in flight.
var ErrBusy = errors.New("session: a turn is already in flight")

// State is one of the four states a Session can be in.
type State string

const (
	StateIdle             State = "idle"
	StateWorking          State = "working"
	StateAwaitingApproval State = "awaiting_approval"
	StateError            State = "error"
)

// Publisher receives every event a session appends to its ring, for fan-out
// to subscribed clients. Implemented by internal/hub.Hub.
type Publisher interface {
	PublishEvent(sessionName string, ev protocol.Event)
	PublishPermissionRequest(sessionName string, req protocol.PermissionRequest)
	PublishStateChange(sessionName string, state State)
	// PublishError fans a terminal (type=error, session=…) frame out to every
	// subscriber of sessionName, independent of any ring-appended event.
	PublishError(sessionName, code, message string)
}

// Session is one driver bound to one working directory.
type Session struct {
	name      string
	directory string

	mu              sync.Mutex
	state           State
	driverSessionID string
	costUSD         float64
	lastActivity    time.Time

	drv      driver.Driver
	ring     *ring.Ring
	broker   *permission.Broker
	publish  Publisher
	auditLog *audit.Log

	// callSlot enforces at most one outstanding Query/Interrupt call to the
	// driver at a time.
	callSlot chan struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// Options configures a new Session.
type Options struct {
	Name         string
	Directory    string
	Driver       driver.Driver
	Publisher    Publisher
	RingCapacity int
	NewRequestID func() string
	SystemPrompt string
	AllowedTools []string
	// AuditLog is optional: when set, permission requests/resolutions and
	// fatal driver errors are recorded to it. A nil AuditLog is a silent
	// no-op, so tests can omit it.
	AuditLog *audit.Log
}

// New constructs a Session and starts its driver run. The returned Session
// starts in state idle; if the driver fails to start, New returns the error
// and no Session.
func New(ctx context.Context, opts Options) (*Session, error) {
	s := &Session{
		name:         opts.Name,
		directory:    opts.Directory,
		state:        StateIdle,
		lastActivity: time.Now(),
		drv:          opts.Driver,
		ring:         ring.New(opts.RingCapacity),
		broker:       permission.New(opts.NewRequestID),
		publish:      opts.Publisher,
		auditLog:     opts.AuditLog,
		callSlot:     make(chan struct{}, 1),
		done:         make(chan struct{}),
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if err := s.drv.Start(runCtx, s.directory, driver.Options{
		SystemPrompt: opts.SystemPrompt,
		AllowedTools: opts.AllowedTools,
	}, s.handlePermission); err != nil {
		cancel()
		return nil, fmt.Errorf("session %s: start driver: %w", s.name, err)
	}

	go s.pump(runCtx)

	return s, nil
}

// Name and Directory are immutable for the life of the Session.
func (s *Session) Name() string      { return s.name }
func (s *Session) Directory() string { return s.directory }

// Ring exposes the event ring for sync/snapshot handling by the hub.
func (s *Session) Ring() *ring.Ring { return s.ring }

// Broker exposes the permission broker for permission_response routing.
func (s *Session) Broker() *permission.Broker { return s.broker }

// Summary returns the wire-level snapshot of this session's current state.
func (s *Session) Summary() protocol.SessionSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	var driverID *string
	if s.driverSessionID != "" {
		id := s.driverSessionID
		driverID = &id
	}
	return protocol.SessionSummary{
		Name:            s.name,
		Directory:       s.directory,
		State:           string(s.state),
		DriverSessionID: driverID,
		CostUSD:         s.costUSD,
		LastActivity:    protocol.FormatTimestamp(s.lastActivity),
	}
}

// appendAudit is a nil-safe forward to the optional audit log.
func (s *Session) appendAudit(eventType, detail string) {
	if s.auditLog != nil {
		s.auditLog.Append(s.name, eventType, detail)
	}
}

func (s *Session) setState(next State) {
	s.mu.Lock()
	s.state = next
	s.lastActivity = time.Now()
	s.mu.Unlock()
	if s.publish != nil {
		s.publish.PublishStateChange(s.name, next)
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Input delivers a user turn to the driver, transitioning idle -> working.
// It is a no-op error (ErrBusy) if the session is already working or
// awaiting a permission decision: the wire protocol only allows one turn
// in flight per session.
func (s *Session) Input(ctx context.Context, text string) error {
	return s.withCallSlot(ctx, func() error {
		if st := s.State(); st == StateWorking || st == StateAwaitingApproval {
			return ErrBusy
		}
		s.setState(StateWorking)
		return s.drv.Query(ctx, text)
	})
}

// Control handles interrupt/plan/compact/clear. Interrupt is safe from any
// state and never blocks on the call slot, per the spec's requirement that
// it be a no-op from idle and otherwise always effective.
func (s *Session) Control(ctx context.Context, action string) error {
	switch action {
	case protocol.ActionInterrupt:
		if s.State() == StateIdle {
			return nil
		}
		return s.drv.Interrupt(ctx)
	case protocol.ActionPlan, protocol.ActionCompact, protocol.ActionClear:
		return s.withCallSlot(ctx, func() error {
			s.setState(StateWorking)
			return s.drv.Query(ctx, "/"+action)
		})
	default:
		return fmt.Errorf("session %s: unknown control action %q", s.name, action)
	}
}

func (s *Session) withCallSlot(ctx context.Context, fn func() error) error {
	select {
	case s.callSlot <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.callSlot }()
	return fn()
}

// handlePermission is the driver.PermissionCallback bound to this session's
// broker: it publishes a pending permission, moves the session into
// awaiting_approval, and blocks until a client resolves it (or the session
// is torn down).
func (s *Session) handlePermission(ctx context.Context, toolName string, toolInput json.RawMessage) (driver.Decision, error) {
	requestID, waiter := s.broker.Open(toolName, toolInput, s.name)
	s.setState(StateAwaitingApproval)
	s.appendAudit(audit.EventPermissionRequest, toolName)

	if s.publish != nil {
		s.publish.PublishPermissionRequest(s.name, protocol.PermissionRequest{
			Type:        protocol.TypePermissionRequest,
			RequestID:   requestID,
			ToolName:    toolName,
			ToolInput:   toolInput,
			SessionName: s.name,
		})
	}

	decision, err := waiter.Await(ctx)
	if err != nil {
		s.appendAudit(audit.EventPermissionResolved, "cancelled")
		return driver.Denied("session cancelled"), nil
	}
	s.appendAudit(audit.EventPermissionResolved, string(decision))

	// The broker may still have other pending permissions (a driver can, in
	// principle, hold several outstanding if it pipelines tool calls); only
	// drop back to working once none remain.
	if s.broker.Count() == 0 {
		s.setState(StateWorking)
	}

	switch decision {
	case permission.Allow:
		return driver.Allowed(toolInput), nil
	default:
		return driver.Denied("User denied"), nil
	}
}

// pump reads the driver's message stream for the life of the session,
// appending everything to the ring and forwarding it to subscribers, and
// reacting to the two message shapes Session must interpret itself: init
// (captures driver_session_id) and result (closes out a turn).
func (s *Session) pump(ctx context.Context) {
	defer close(s.done)
	for msg := range s.drv.Messages() {
		ts := protocol.FormatTimestamp(time.Now())
		seq := s.ring.Append(ts, msg.Raw)

		ev := protocol.Event{
			Type:      protocol.TypeEvent,
			Session:   s.name,
			Sequence:  seq,
			Timestamp: ts,
			Message:   msg.Raw,
		}
		if s.publish != nil {
			s.publish.PublishEvent(s.name, ev)
		}

		if id, ok := driver.ParseInit(msg); ok {
			s.mu.Lock()
			s.driverSessionID = id
			s.mu.Unlock()
		}

		if cost, ok := driver.ParseResult(msg); ok {
			s.mu.Lock()
			s.costUSD += cost
			s.mu.Unlock()
			if s.broker.Count() == 0 {
				s.setState(StateIdle)
			}
		}
	}

	// The driver's channel closed: either a clean Close() or a fatal error.
	s.broker.FailAll()
	if err := s.drv.Err(); err != nil {
		s.setState(StateError)
		s.appendAudit(audit.EventDriverError, err.Error())

		// Per the failure-handling contract: the error is both recorded on
		// the session's own event stream (so a client replaying via sync
		// sees it in sequence) and fanned out immediately as a dedicated
		// error frame, since a subscriber watching live has no reason to
		// expect a terminal event to show up as an ordinary "event".
		errPayload, marshalErr := json.Marshal(struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		}{Type: "error", Message: err.Error()})
		if marshalErr == nil {
			ts := protocol.FormatTimestamp(time.Now())
			seq := s.ring.Append(ts, errPayload)
			if s.publish != nil {
				s.publish.PublishEvent(s.name, protocol.Event{
					Type:      protocol.TypeEvent,
					Session:   s.name,
					Sequence:  seq,
					Timestamp: ts,
					Message:   errPayload,
				})
			}
		}
		if s.publish != nil {
			s.publish.PublishError(s.name, protocol.ErrDriverError, err.Error())
		}
	}
}

// Close tears the session down: cancels the driver's context, fails every
// outstanding permission so no client is left waiting forever, and waits
// for the pump goroutine to drain.
func (s *Session) Close() error {
	s.cancel()
	err := s.drv.Close()
	<-s.done
	return err
}
