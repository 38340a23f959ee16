package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/witcher/internal/api"
	"github.com/bryanchriswhite/witcher/internal/ipc"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the daemon's switcher state",
	Long: `Query the running daemon for its backend connection, focus history and
the open switch session, if any.`,
	Example: `  # Human readable
  witcher status

  # JSON, as served to overlays
  witcher status --format json`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

var statusFormat string

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVarP(&statusFormat, "format", "f", "table", "output format (table or json)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}

	resp, err := sendCommand(cmd.Context(), cfg, ipc.CommandStatus)
	if err != nil {
		return err
	}

	var snap api.SessionSnapshot
	if err := json.Unmarshal(resp.Data, &snap); err != nil {
		return fmt.Errorf("invalid status reply: %w", err)
	}

	switch statusFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(snap)
	case "table":
		return printStatus(snap)
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", statusFormat)
	}
}

func printStatus(snap api.SessionSnapshot) error {
	fmt.Printf("Backend:  %s (%s)\n", snap.Backend, snap.BackendState)
	fmt.Printf("Session:  %s\n", snap.State)
	fmt.Printf("History:  %d windows\n", len(snap.MRU))

	if len(snap.Candidates) == 0 {
		return nil
	}

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "\tID\tAPP\tTITLE")
	for i, win := range snap.Candidates {
		marker := ""
		if i == snap.Index {
			marker = ">"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", marker, win.ID, win.AppID, win.Title)
	}
	return nil
}
