package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/witcher/internal/config"
	"github.com/bryanchriswhite/witcher/internal/ipc"
)

// Trigger commands are thin clients of the control socket, meant to be bound
// to compositor keybindings.
var triggers = []struct {
	command string
	short   string
}{
	{ipc.CommandShow, "Switch to the previously used window"},
	{ipc.CommandCycleNext, "Open or advance the switcher towards older windows"},
	{ipc.CommandCyclePrev, "Open or advance the switcher towards newer windows"},
	{ipc.CommandCommit, "Focus the selected window now"},
	{ipc.CommandCancel, "Close the switcher without changing focus"},
	{ipc.CommandPing, "Check whether the daemon is running"},
}

var quiet bool

func init() {
	for _, t := range triggers {
		command := t.command
		cmd := &cobra.Command{
			Use:   command,
			Short: t.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runTrigger(cmd.Context(), command)
			},
		}
		cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "print nothing on success")
		rootCmd.AddCommand(cmd)
	}
}

func runTrigger(ctx context.Context, command string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}

	resp, err := sendCommand(ctx, cfg, command)
	if err != nil {
		return err
	}
	if !quiet && resp.Message != "" {
		fmt.Println(resp.Message)
	}
	return nil
}

// sendCommand sends command and turns error responses into errors. It waits
// a little longer than the daemon allows its loop, so the daemon's own
// timeout reply is what the user sees.
func sendCommand(ctx context.Context, cfg *config.Config, command string) (ipc.Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, ipc.ReplyTimeout(cfg.BackendTimeout)+time.Second)
	defer cancel()

	resp, err := ipc.SendCommand(ctx, socketPath(cfg), command)
	if err != nil {
		return resp, fmt.Errorf("is the daemon running? %w", err)
	}
	if resp.Status != ipc.StatusOK {
		return resp, fmt.Errorf("%s: %s", resp.Error, resp.Message)
	}
	return resp, nil
}
