package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bryanchriswhite/witcher/internal/config"
	"github.com/bryanchriswhite/witcher/internal/ipc"
	"github.com/bryanchriswhite/witcher/internal/logger"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "witcher",
		Short: "witcher - Alt+Tab window switching for Wayland compositors",
		Long: `witcher is a small daemon that gives Niri and Hyprland a most-recently-used
Alt+Tab window switcher.

The daemon keeps focus history from the compositor's event stream and opens a
switch session on Alt+Tab, read directly from the keyboard devices or sent by
keybindings through the control socket:
  • witcher daemon       run the switcher
  • witcher show         jump to the previously used window
  • witcher cycle-next   step forward through recent windows
  • witcher cycle-prev   step backward through recent windows`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := viper.GetString("log_level")
			if level == "" {
				level = "warn"
			}
			logger.Init(level, logger.IsTerminal())
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/witcher/config.yaml)")
	rootCmd.PersistentFlags().String("backend", "", "compositor backend (niri or hyprland, default auto-detect)")
	rootCmd.PersistentFlags().String("socket", "", "control socket path (default $XDG_RUNTIME_DIR/witcher.sock)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	viper.BindPFlag("backend", rootCmd.PersistentFlags().Lookup("backend"))
	viper.BindPFlag("socket_path", rootCmd.PersistentFlags().Lookup("socket"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// loadConfig reads the config file and applies flag overrides in memory.
// Overrides are never written back to the file.
func loadConfig() (*config.Manager, *config.Config, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg := configMgr.Get()

	for key, target := range map[string]*string{
		"backend":     &cfg.Backend,
		"socket_path": &cfg.SocketPath,
		"log_level":   &cfg.LogLevel,
		"status_addr": &cfg.StatusAddr,
	} {
		if v := viper.GetString(key); viper.IsSet(key) && v != "" {
			*target = v
		}
	}
	if viper.GetBool("no_input") {
		cfg.Input.Enabled = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return configMgr, cfg, nil
}

// socketPath resolves the control socket for cfg
func socketPath(cfg *config.Config) string {
	if cfg.SocketPath != "" {
		return cfg.SocketPath
	}
	return ipc.DefaultSocketPath()
}
