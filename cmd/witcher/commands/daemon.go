package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/bryanchriswhite/witcher/internal/api"
	"github.com/bryanchriswhite/witcher/internal/config"
	"github.com/bryanchriswhite/witcher/internal/daemon"
	"github.com/bryanchriswhite/witcher/internal/input"
	"github.com/bryanchriswhite/witcher/internal/ipc"
	"github.com/bryanchriswhite/witcher/internal/logger"
	"github.com/bryanchriswhite/witcher/internal/notify"
	"github.com/bryanchriswhite/witcher/internal/window"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the window switcher daemon",
	Long: `Run the switcher daemon in the foreground.

The daemon connects to the compositor, tracks focus history, listens on the
control socket and, unless disabled, reads Alt+Tab directly from the keyboard
devices under /dev/input (requires membership in the 'input' group).`,
	Example: `  # Auto-detect the compositor
  witcher daemon

  # Force the Hyprland backend and skip keyboard capture
  witcher daemon --backend hyprland --no-input

  # Expose the session state for an overlay
  witcher daemon --status-addr 127.0.0.1:7878`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(daemonCmd)

	daemonCmd.Flags().String("status-addr", "", "listen address of the status API (disabled when empty)")
	daemonCmd.Flags().Bool("no-input", false, "do not read keyboard devices, control socket only")

	viper.BindPFlag("status_addr", daemonCmd.Flags().Lookup("status-addr"))
	viper.BindPFlag("no_input", daemonCmd.Flags().Lookup("no-input"))
}

func runDaemon(cmd *cobra.Command, args []string) error {
	configMgr, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger.Init(cfg.LogLevel, logger.IsTerminal())
	log := logger.WithComponent("main")

	log.Info().Str("config", configMgr.GetConfigPath()).Msg("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := window.New(cfg.Backend)
	if err != nil {
		return err
	}
	defer backend.Close()
	log.Info().Str("backend", backend.Name()).Msg("Using compositor backend")

	server, err := ipc.Listen(ctx, socketPath(cfg))
	if err != nil {
		return err
	}
	defer server.Close()
	server.SetReplyTimeout(ipc.ReplyTimeout(cfg.BackendTimeout))

	var notifier daemon.Notifier
	var alerter *notify.Notifier
	if cfg.Notifications {
		n, err := notify.New()
		if err != nil {
			log.Warn().Err(err).Msg("Desktop notifications unavailable")
		} else {
			defer n.Close()
			notifier = n
			alerter = n
		}
	}

	capture, err := openCapture(ctx, cfg, alerter)
	if err != nil {
		return err
	}

	manager := window.NewManager(backend, cfg.ReconnectMinDelay, cfg.ReconnectMaxDelay)
	hub := api.NewHub()

	var gestures chan input.Gesture
	if capture != nil {
		gestures = make(chan input.Gesture, 16)
	}

	d := daemon.New(manager, daemon.Options{
		AutoCommitDelay: cfg.AutoCommitDelay,
		BackendTimeout:  cfg.BackendTimeout,
		MRULimit:        cfg.MRULimit,
		Calls:           server.Calls(),
		Gestures:        gestures,
		Publisher:       hub,
		Notifier:        notifier,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCanceled(d.Run(ctx)) })
	g.Go(func() error { return ignoreCanceled(manager.Run(ctx)) })
	g.Go(func() error { return ignoreCanceled(server.Serve(ctx)) })
	if capture != nil {
		g.Go(func() error {
			// A failing capture leaves the control socket running.
			if err := capture.Run(ctx, gestures); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("Keyboard capture stopped")
			}
			return nil
		})
	}
	if cfg.StatusAddr != "" {
		status := api.NewServer(hub)
		g.Go(func() error { return ignoreCanceled(status.Serve(ctx, cfg.StatusAddr)) })
	}

	log.Info().Str("socket", server.Path()).Msg("witcher is running")

	err = g.Wait()
	log.Info().Msg("Shutting down")
	return err
}

// openCapture opens the keyboards if input is enabled. Missing device access
// is fatal only when input.required is set.
func openCapture(ctx context.Context, cfg *config.Config, alerter *notify.Notifier) (*input.Capture, error) {
	log := logger.WithComponent("main")
	if !cfg.Input.Enabled {
		log.Info().Msg("Keyboard capture disabled, control socket only")
		return nil, nil
	}

	policy, err := input.ParseBareAltPolicy(cfg.Input.BareAltPolicy)
	if err != nil {
		return nil, err
	}

	capture := input.New(input.Options{
		DeviceDir: cfg.Input.DeviceDir,
		Policy:    policy,
	})
	err = capture.Open()
	if err == nil {
		return capture, nil
	}

	if errors.Is(err, input.ErrDeviceAccessDenied) && alerter != nil {
		if nerr := alerter.Alert(ctx, "witcher cannot read the keyboard",
			"Add your user to the 'input' group and log in again, or bind witcher cycle-next in your compositor."); nerr != nil {
			log.Debug().Err(nerr).Msg("Notification failed")
		}
	}
	if cfg.Input.Required {
		return nil, fmt.Errorf("keyboard capture: %w", err)
	}
	log.Warn().Err(err).Msg("Keyboard capture unavailable, control socket only")
	return nil, nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
