package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/witcher/internal/window"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the compositor's windows",
	Long: `List all windows reported by the compositor backend.

This command talks to the compositor directly and does not need a running
daemon.`,
	Example: `  # List windows in table format (default)
  witcher list

  # List windows in JSON format
  witcher list --format json

  # Show only the focused window
  witcher list --current`,
	Args: cobra.NoArgs,
	RunE: runList,
}

var (
	listFormat  string
	listCurrent bool
)

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringVarP(&listFormat, "format", "f", "table", "output format (table or json)")
	listCmd.Flags().BoolVarP(&listCurrent, "current", "c", false, "show only the focused window")
}

func runList(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}

	backend, err := window.New(cfg.Backend)
	if err != nil {
		return err
	}
	defer backend.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*cfg.BackendTimeout)
	defer cancel()

	// Requests need the event stream up, so run a manager until done.
	manager := window.NewManager(backend, cfg.ReconnectMinDelay, cfg.ReconnectMaxDelay)
	go manager.Run(ctx)
	if err := manager.WaitConnected(ctx); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", backend.Name(), err)
	}

	windows, err := backend.ListWindows(ctx)
	if err != nil {
		return fmt.Errorf("failed to list windows: %w", err)
	}

	if listCurrent {
		current := windows[:0]
		for _, w := range windows {
			if w.Focused {
				current = append(current, w)
			}
		}
		windows = current
	}

	switch listFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(windows)
	case "table":
		return printWindowsTable(windows)
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", listFormat)
	}
}

func printWindowsTable(windows []window.Window) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "ID\tAPP\tWORKSPACE\tFOCUSED\tTITLE")
	fmt.Fprintln(w, "--\t---\t---------\t-------\t-----")

	for _, win := range windows {
		focused := "No"
		if win.Focused {
			focused = "Yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", win.ID, win.AppID, win.Workspace, focused, win.Title)
	}
	return nil
}
