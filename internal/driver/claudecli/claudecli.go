// Package claudecli implements driver.Driver by shelling out to the local
// "claude" CLI, grounded on the teacher's internal/agent/claude.go: spawn a
// subprocess in stream-json mode and scan its stdout line by line. Unlike
// the teacher's one-shot Run, this driver is long-lived across an entire
// session and adds a permission round-trip: the subprocess is started with
// --permission-prompt-tool pointed at a tiny stdin/stdout shim
// (see permshim.go) that turns the CLI's own tool-confirmation prompt into
// a blocking call back into this process.
package claudecli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/ehrlich-b/wormhole/internal/driver"
)

// Driver shells out to the claude CLI for the lifetime of one session.
type Driver struct {
	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   *bufio.Writer
	ch      chan driver.Message
	cb      driver.PermissionCallback
	err     error
	started bool
	shim    *permissionShim

	// cmdFactory allows tests to substitute a fake subprocess, mirroring
	// the teacher's opts.CmdFactory sandbox hook in internal/agent/claude.go.
	cmdFactory func(ctx context.Context, name string, args []string) (*exec.Cmd, error)
}

func New() *Driver {
	return &Driver{ch: make(chan driver.Message, 64)}
}

func (d *Driver) Start(ctx context.Context, workDir string, opts driver.Options, cb driver.PermissionCallback) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return fmt.Errorf("claudecli: already started")
	}
	d.started = true
	d.cb = cb
	d.mu.Unlock()

	d.shim = newPermissionShim(cb)

	args := []string{
		"--output-format", "stream-json",
		"--verbose",
		"--input-format", "stream-json",
		"--permission-prompt-tool", "stdio",
	}
	if opts.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", opts.SystemPrompt)
	}
	if len(opts.AllowedTools) > 0 {
		args = append(args, "--allowedTools", joinComma(opts.AllowedTools))
	}

	var cmd *exec.Cmd
	var err error
	if d.cmdFactory != nil {
		cmd, err = d.cmdFactory(ctx, "claude", args)
	} else {
		cmd = exec.CommandContext(ctx, "claude", args...)
		cmd.Dir = workDir
	}
	if err != nil {
		return fmt.Errorf("claudecli: build command: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("claudecli: stdout pipe: %w", err)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("claudecli: stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("claudecli: start: %w", err)
	}

	d.mu.Lock()
	d.cmd = cmd
	d.stdin = bufio.NewWriter(stdin)
	d.mu.Unlock()

	go d.pump(ctx, stdout, cmd)

	return nil
}

func (d *Driver) pump(ctx context.Context, stdout io.Reader, cmd *exec.Cmd) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 1<<20), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if d.shim.tryHandlePermissionLine(ctx, line, d.writeLine) {
			continue
		}
		msg := driver.Message{Raw: append(json.RawMessage(nil), line...)}
		select {
		case d.ch <- msg:
		case <-ctx.Done():
			cmd.Wait()
			d.mu.Lock()
			d.err = ctx.Err()
			d.mu.Unlock()
			close(d.ch)
			return
		}
	}
	err := cmd.Wait()
	if scanErr := scanner.Err(); scanErr != nil && err == nil {
		err = scanErr
	}
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
	close(d.ch)
}

func (d *Driver) writeLine(b []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stdin == nil {
		return fmt.Errorf("claudecli: not started")
	}
	if _, err := d.stdin.Write(b); err != nil {
		return err
	}
	if err := d.stdin.WriteByte('\n'); err != nil {
		return err
	}
	return d.stdin.Flush()
}

// Query submits a user turn by writing a stream-json "user" input line.
func (d *Driver) Query(ctx context.Context, text string) error {
	line, err := json.Marshal(map[string]any{
		"type": "user",
		"message": map[string]any{
			"role":    "user",
			"content": text,
		},
	})
	if err != nil {
		return err
	}
	return d.writeLine(line)
}

// Interrupt sends SIGINT to the subprocess. No-op if nothing has started.
func (d *Driver) Interrupt(ctx context.Context) error {
	d.mu.Lock()
	cmd := d.cmd
	d.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Signal(os.Interrupt)
}

func (d *Driver) Close() error {
	d.mu.Lock()
	cmd := d.cmd
	d.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

func (d *Driver) Messages() <-chan driver.Message { return d.ch }

func (d *Driver) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

func joinComma(items []string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}
