package main

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/creack/pty"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// attachCmd resolves a session's native driver session id over the control
// socket, then execs the driver CLI directly with --resume so the user gets
// a real interactive terminal bound to the same conversation the daemon has
// been steering. Grounded on the teacher's cmd/wt eggSpawn helper: raw
// terminal mode via golang.org/x/term, SIGWINCH forwarded into a pty resize.
func attachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attach <name>",
		Short: "Attach an interactive terminal to a session's driver process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := clientFromConfig()
			if err != nil {
				return err
			}
			resolved, err := c.ResolveAttach(args[0])
			if err != nil {
				return fmt.Errorf("resolve attach: %w", err)
			}
			return runAttach(resolved.DriverSessionID)
		},
	}
}

func runAttach(driverSessionID string) error {
	child := exec.Command("claude", "--resume", driverSessionID)

	ptmx, err := pty.Start(child)
	if err != nil {
		return fmt.Errorf("attach: start pty: %w", err)
	}
	defer ptmx.Close()

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		if w, h, err := term.GetSize(fd); err == nil {
			pty.Setsize(ptmx, &pty.Winsize{Cols: uint16(w), Rows: uint16(h)})
		}
		oldState, err := term.MakeRaw(fd)
		if err == nil {
			defer term.Restore(fd, oldState)
		}
	}

	winchCh := make(chan os.Signal, 1)
	signal.Notify(winchCh, syscall.SIGWINCH)
	defer signal.Stop(winchCh)
	go func() {
		for range winchCh {
			if w, h, err := term.GetSize(fd); err == nil {
				pty.Setsize(ptmx, &pty.Winsize{Cols: uint16(w), Rows: uint16(h)})
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		io.Copy(os.Stdout, ptmx)
	}()
	go io.Copy(ptmx, os.Stdin)

	<-done
	return child.Wait()
}
