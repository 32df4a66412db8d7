// Package fake is a scriptable in-memory driver.Driver used by tests,
// grounded on the teacher's internal/agent testing double: no subprocess,
// just a channel the test controls directly.
package fake

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"

	"github.com/ehrlich-b/wormhole/internal/driver"
)

// Driver is a test double that emits whatever messages the test pushes onto
// it via Emit, and invokes the permission callback on demand via
// RequestPermission.
type Driver struct {
	mu        sync.Mutex
	ch        chan driver.Message
	cb        driver.PermissionCallback
	started   bool
	closed    bool
	err       error
	queries   []string
	interrupt int
}

func New() *Driver {
	return &Driver{ch: make(chan driver.Message, 64)}
}

func (d *Driver) Start(ctx context.Context, workDir string, opts driver.Options, cb driver.PermissionCallback) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return errors.New("fake: already started")
	}
	d.started = true
	d.cb = cb
	return nil
}

func (d *Driver) Query(ctx context.Context, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queries = append(d.queries, text)
	return nil
}

func (d *Driver) Interrupt(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.interrupt++
	return nil
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	close(d.ch)
	return nil
}

func (d *Driver) Messages() <-chan driver.Message { return d.ch }

func (d *Driver) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Emit pushes a raw JSON message onto the stream as though the driver
// produced it.
func (d *Driver) Emit(raw string) {
	d.ch <- driver.Message{Raw: json.RawMessage(raw)}
}

// EmitInit emits the standard {type=system,subtype=init,session_id=...}
// opener every driver run begins with.
func (d *Driver) EmitInit(sessionID string) {
	d.Emit(`{"type":"system","subtype":"init","session_id":"` + sessionID + `"}`)
}

// EmitResult emits a terminal result message carrying the turn's cost.
func (d *Driver) EmitResult(costUSD float64) {
	d.Emit(`{"type":"result","total_cost_usd":` + strconv.FormatFloat(costUSD, 'f', -1, 64) + `}`)
}

// RequestPermission synchronously invokes the callback the session wired up
// (as the driver itself would), blocking until a decision arrives, and
// returns the decision to the caller for assertions.
func (d *Driver) RequestPermission(ctx context.Context, toolName string, toolInput json.RawMessage) (driver.Decision, error) {
	d.mu.Lock()
	cb := d.cb
	d.mu.Unlock()
	if cb == nil {
		return driver.Decision{}, errors.New("fake: no callback wired (Start not called)")
	}
	return cb(ctx, toolName, toolInput)
}

// FailWith closes the stream with a terminal error, simulating a fatal
// driver failure.
func (d *Driver) FailWith(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
	d.Close()
}

func (d *Driver) Queries() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.queries...)
}

func (d *Driver) InterruptCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.interrupt
}
