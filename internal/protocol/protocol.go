// Package protocol implements the tagged-JSON wire protocol between a
// Wormhole daemon and its subscribed clients: one JSON object per frame,
// every frame carrying a "type" field used for dispatch. Unknown types are
// protocol errors; unknown fields inside a known type are ignored so older
// clients keep working against a daemon that has grown new fields.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Client → daemon frame types.
const (
	TypeHello              = "hello"
	TypeSubscribe          = "subscribe"
	TypeInput              = "input"
	TypePermissionResponse = "permission_response"
	TypeControl            = "control"
	TypeSync               = "sync"
)

// Daemon → client frame types.
const (
	TypeWelcome           = "welcome"
	TypeEvent             = "event"
	TypePermissionRequest = "permission_request"
	TypeSyncResponse      = "sync_response"
	TypeError             = "error"
)

// Error codes, exact strings per the wire protocol.
const (
	ErrSessionExists      = "SESSION_EXISTS"
	ErrSessionNotFound    = "SESSION_NOT_FOUND"
	ErrDriverError        = "DRIVER_ERROR"
	ErrPermissionTimeout  = "PERMISSION_TIMEOUT" // reserved, not emitted in V1
	ErrWebsocketError     = "WEBSOCKET_ERROR"
	ErrInvalidMessage     = "INVALID_MESSAGE"
	ErrNotSubscribed      = "NOT_SUBSCRIBED"
	ErrBackpressure       = "BACKPRESSURE"
)

// Control actions accepted by the "control" frame.
const (
	ActionInterrupt = "interrupt"
	ActionCompact   = "compact"
	ActionClear     = "clear"
	ActionPlan      = "plan"
)

// Decision values accepted by "permission_response".
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
)

// Envelope is peeked first to learn a frame's type before decoding it fully.
type Envelope struct {
	Type string `json:"type"`
}

// Parse reads the envelope type of a raw frame without validating the rest.
func Parse(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("parse envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("missing type field")
	}
	return env, nil
}

// --- client -> daemon ---

type Hello struct {
	Type          string `json:"type"`
	ClientVersion string `json:"client_version"`
	DeviceName    string `json:"device_name"`
}

// SubscribeSessions is either the literal string "*" or a list of names.
// It round-trips through JSON without losing the wildcard/list distinction.
type SubscribeSessions struct {
	All   bool
	Names []string
}

func (s SubscribeSessions) MarshalJSON() ([]byte, error) {
	if s.All {
		return json.Marshal("*")
	}
	if s.Names == nil {
		s.Names = []string{}
	}
	return json.Marshal(s.Names)
}

func (s *SubscribeSessions) UnmarshalJSON(data []byte) error {
	var wildcard string
	if err := json.Unmarshal(data, &wildcard); err == nil {
		if wildcard != "*" {
			return fmt.Errorf("subscribe: invalid wildcard %q", wildcard)
		}
		s.All = true
		s.Names = nil
		return nil
	}
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return fmt.Errorf("subscribe: sessions must be \"*\" or a list of names: %w", err)
	}
	s.All = false
	s.Names = names
	return nil
}

type Subscribe struct {
	Type     string            `json:"type"`
	Sessions SubscribeSessions `json:"sessions"`
}

type Input struct {
	Type    string `json:"type"`
	Session string `json:"session"`
	Text    string `json:"text"`
}

type PermissionResponse struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	Decision  string `json:"decision"`
}

type Control struct {
	Type    string `json:"type"`
	Session string `json:"session"`
	Action  string `json:"action"`
}

type Sync struct {
	Type             string `json:"type"`
	Session          string `json:"session"`
	LastSeenSequence uint64 `json:"last_seen_sequence"`
}

// --- daemon -> client ---

type SessionSummary struct {
	Name            string  `json:"name"`
	Directory       string  `json:"directory"`
	State           string  `json:"state"`
	DriverSessionID *string `json:"claude_session_id"`
	CostUSD         float64 `json:"cost_usd"`
	LastActivity    string  `json:"last_activity"`
}

type Welcome struct {
	Type          string           `json:"type"`
	ServerVersion string           `json:"server_version"`
	MachineName   string           `json:"machine_name"`
	Sessions      []SessionSummary `json:"sessions"`
}

type Event struct {
	Type     string          `json:"type"`
	Session  string          `json:"session"`
	Sequence uint64          `json:"sequence"`
	// Timestamp is ISO-8601; see Timestamp type for the accepted lexical forms.
	Timestamp string          `json:"timestamp"`
	Message   json.RawMessage `json:"message"`
}

type PermissionRequest struct {
	Type        string          `json:"type"`
	RequestID   string          `json:"request_id"`
	ToolName    string          `json:"tool_name"`
	ToolInput   json.RawMessage `json:"tool_input"`
	SessionName string          `json:"session_name"`
}

// SyncResponse answers a catch-up request. PendingPermissions is a Wormhole
// addition (see SPEC_FULL.md Open Question 3): unknown to older clients,
// which ignore it per the forward-compatibility rule.
type SyncResponse struct {
	Type               string              `json:"type"`
	Session            string              `json:"session"`
	Events             []Event             `json:"events"`
	Truncated          bool                `json:"truncated,omitempty"`
	PendingPermissions []PermissionRequest `json:"pending_permissions,omitempty"`
}

type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Session string `json:"session,omitempty"`
}

// Decode dispatches a raw frame to its concrete client->daemon type based on
// its envelope. Returns an error wrapping ErrInvalidMessage-worthy detail for
// callers to translate into an INVALID_MESSAGE error frame.
func Decode(data []byte) (any, error) {
	env, err := Parse(data)
	if err != nil {
		return nil, err
	}
	switch env.Type {
	case TypeHello:
		var v Hello
		return decodeInto(data, &v)
	case TypeSubscribe:
		var v Subscribe
		return decodeInto(data, &v)
	case TypeInput:
		var v Input
		return decodeInto(data, &v)
	case TypePermissionResponse:
		var v PermissionResponse
		return decodeInto(data, &v)
	case TypeControl:
		var v Control
		return decodeInto(data, &v)
	case TypeSync:
		var v Sync
		return decodeInto(data, &v)
	default:
		return nil, fmt.Errorf("unknown frame type %q", env.Type)
	}
}

func decodeInto[T any](data []byte, v *T) (any, error) {
	if err := json.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("decode %T: %w", *v, err)
	}
	return *v, nil
}
