// Package driver defines the interface Session uses to talk to an opaque
// AI-agent engine (the "driver"). Wormhole treats the driver as an external
// collaborator: it starts a run, streams messages, accepts a cancel, and
// invokes a permission callback synchronously when a tool use needs human
// approval. Concrete drivers live in sibling packages (claudecli, fake).
package driver

import (
	"context"
	"encoding/json"
)

// Decision is the outcome a PermissionCallback returns to the driver.
type Decision struct {
	Behavior     string          `json:"behavior"` // "allow" | "deny"
	UpdatedInput json.RawMessage `json:"updated_input,omitempty"`
	Message      string          `json:"message,omitempty"`
	Interrupt    bool            `json:"interrupt,omitempty"`
}

// Allowed constructs the decision returned to the driver when a client
// allows a tool use, optionally with a rewritten tool input.
func Allowed(updatedInput json.RawMessage) Decision {
	return Decision{Behavior: "allow", UpdatedInput: updatedInput}
}

// Denied constructs the decision returned to the driver when a client (or
// session teardown) denies a tool use.
func Denied(message string) Decision {
	if message == "" {
		message = "User denied"
	}
	return Decision{Behavior: "deny", Message: message, Interrupt: false}
}

// PermissionCallback is invoked synchronously by the driver whenever a tool
// use requires approval. Implementations publish a pending permission and
// block until a decision is available; see internal/session for the
// concrete implementation that bridges this into the Broker.
type PermissionCallback func(ctx context.Context, toolName string, toolInput json.RawMessage) (Decision, error)

// Options configures a single driver run.
type Options struct {
	SystemPrompt string
	AllowedTools []string
}

// Message is one opaque driver-emitted event. Session wraps it in a
// protocol.Event unchanged (payload passes through as-is) except for adding
// sequence and timestamp.
type Message struct {
	Raw json.RawMessage
}

// Driver implementations are expected to always produce messages with a
// "type" field; Session inspects only the two it must react to (init on
// start, result on turn completion) via ParseInit/ParseResult below.
type initMessage struct {
	Type     string `json:"type"`
	Subtype  string `json:"subtype"`
	Session  string `json:"session_id"`
}

type resultMessage struct {
	Type         string  `json:"type"`
	TotalCostUSD float64 `json:"total_cost_usd"`
}

// ParseInit reports the driver_session_id carried by a
// {type:system,subtype:init} message, if m is one.
func ParseInit(m Message) (sessionID string, ok bool) {
	var im initMessage
	if err := json.Unmarshal(m.Raw, &im); err != nil {
		return "", false
	}
	if im.Type != "system" || im.Subtype != "init" {
		return "", false
	}
	return im.Session, true
}

// ParseResult reports the reported cost of a {type:result} message, if m is
// one.
func ParseResult(m Message) (costUSD float64, ok bool) {
	var rm resultMessage
	if err := json.Unmarshal(m.Raw, &rm); err != nil {
		return 0, false
	}
	if rm.Type != "result" {
		return 0, false
	}
	return rm.TotalCostUSD, true
}

// Driver is the interface Session drives a single agent run through. One
// Driver instance is bound to exactly one working directory for its whole
// lifetime; Start must be called at most once.
type Driver interface {
	// Start begins the agent run, invoking cb synchronously whenever the
	// agent wants to use a gated tool. Messages become available on
	// Messages() as soon as Start returns (or even before, for the first
	// "system init" message — callers should already be reading Messages()
	// in a separate goroutine by the time they call Start, or use a
	// buffered channel implementation that tolerates this).
	Start(ctx context.Context, workDir string, opts Options, cb PermissionCallback) error

	// Query submits a user turn (plain input, or a synthetic control
	// action routed through the same channel).
	Query(ctx context.Context, text string) error

	// Interrupt cancels whatever the driver is currently doing. Safe to
	// call when idle (no-op).
	Interrupt(ctx context.Context) error

	// Close releases all resources. Safe to call more than once.
	Close() error

	// Messages returns the channel of driver-emitted events. It is closed
	// when the driver run terminates (normally or due to fatal error); a
	// final error, if any, is available via Err after the channel closes.
	Messages() <-chan Message

	// Err returns the terminal error for this run, if any, after Messages
	// has been closed. Returns nil while the run is still active.
	Err() error
}
