package claudecli

import (
	"context"
	"encoding/json"

	"github.com/ehrlich-b/wormhole/internal/driver"
)

// The claude CLI's --permission-prompt-tool stdio mode writes a single JSON
// line of {"type":"permission_prompt","tool_name":...,"tool_input":...} to
// stdout when it needs a decision, then blocks reading one JSON line of
// {"behavior":...} back on stdin before continuing. permissionShim
// recognizes that line, calls the Session's callback synchronously (which
// is what actually blocks until a remote client answers), and writes the
// decision back so the subprocess can proceed — turning the CLI's own
// one-shot stdio prompt into the cooperative-suspension shape spec.md §9
// describes.
type permissionShim struct {
	cb driver.PermissionCallback
}

func newPermissionShim(cb driver.PermissionCallback) *permissionShim {
	return &permissionShim{cb: cb}
}

type permissionPromptLine struct {
	Type      string          `json:"type"`
	ToolName  string          `json:"tool_name"`
	ToolInput json.RawMessage `json:"tool_input"`
}

// tryHandlePermissionLine inspects line; if it is a permission prompt, it
// invokes the callback, writes the decision back via write, and reports
// true so the caller does not also forward the line as a regular event.
func (s *permissionShim) tryHandlePermissionLine(ctx context.Context, line []byte, write func([]byte) error) bool {
	var p permissionPromptLine
	if err := json.Unmarshal(line, &p); err != nil || p.Type != "permission_prompt" {
		return false
	}

	decision, err := s.cb(ctx, p.ToolName, p.ToolInput)
	if err != nil {
		decision = driver.Denied(err.Error())
	}

	reply, marshalErr := json.Marshal(decision)
	if marshalErr != nil {
		return true
	}
	_ = write(reply)
	return true
}
