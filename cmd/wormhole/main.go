// Command wormhole is the local CLI companion to wormholed: open/close/ls
// sessions and check daemon status over the control socket, and attach a
// real terminal to a session's native driver process.
package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/wormhole/internal/config"
	"github.com/ehrlich-b/wormhole/internal/controlsocket"
)

func main() {
	root := &cobra.Command{
		Use:   "wormhole",
		Short: "Control a wormhole daemon",
	}

	root.AddCommand(openCmd(), closeCmd(), lsCmd(), statusCmd(), attachCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func clientFromConfig() (*controlsocket.Client, error) {
	path, err := config.DefaultConfigPath()
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return controlsocket.NewClient(cfg.ControlSocketPath()), nil
}

func openCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "open <directory>",
		Short: "Open a session bound to a working directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := clientFromConfig()
			if err != nil {
				return err
			}
			result, err := c.Open(name, args[0])
			if err != nil {
				return fmt.Errorf("open: %w", err)
			}
			fmt.Println(result.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "session name (default: auto-generated)")
	return cmd
}

func closeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "close <name>",
		Short: "Close an open session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := clientFromConfig()
			if err != nil {
				return err
			}
			if err := c.Close(args[0]); err != nil {
				return fmt.Errorf("close: %w", err)
			}
			return nil
		},
	}
}

func lsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List open sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := clientFromConfig()
			if err != nil {
				return err
			}
			sessions, err := c.List()
			if err != nil {
				return fmt.Errorf("list: %w", err)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSTATE\tDIRECTORY\tCOST\tLAST ACTIVITY")
			for _, s := range sessions {
				fmt.Fprintf(w, "%s\t%s\t%s\t$%.4f\t%s\n", s.Name, s.State, s.Directory, s.CostUSD, s.LastActivity)
			}
			return w.Flush()
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := clientFromConfig()
			if err != nil {
				return err
			}
			s, err := c.Status()
			if err != nil {
				return fmt.Errorf("daemon not reachable: %w", err)
			}
			fmt.Printf("port:     %d\npid:      %d\nversion:  %s\nsessions: %d\n", s.Port, s.PID, s.Version, s.Sessions)
			return nil
		},
	}
}
