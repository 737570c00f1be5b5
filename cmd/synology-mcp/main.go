// synology-mcp is an MCP server that exposes the File Station, Download
// Station and iSCSI APIs of Synology NAS devices as tools.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/acolita/synology-mcp/internal/adapters/realdialog"
	"github.com/acolita/synology-mcp/internal/config"
	"github.com/acolita/synology-mcp/internal/logging"
	"github.com/acolita/synology-mcp/internal/mcp"
)

// Version information - set at build time.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

type options struct {
	configPath string
	debug      bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "synology-mcp",
		Short: "MCP server for Synology NAS File Station, Download Station and iSCSI",
		Long: `synology-mcp serves MCP tools over stdio that browse and manage files,
download tasks and iSCSI LUNs on one or more Synology NAS devices.

Running it without a subcommand starts the server.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultConfigPath(), "Path to configuration file")
	root.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Serve MCP on stdio",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return runServe(cmd, opts)
			},
		},
		newEndpointsCmd(opts),
		&cobra.Command{
			Use:   "version",
			Short: "Show version information",
			Run: func(cmd *cobra.Command, _ []string) {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "synology-mcp version %s\n", Version)
				fmt.Fprintf(out, "  Build time: %s\n", BuildTime)
				fmt.Fprintf(out, "  Git commit: %s\n", GitCommit)
			},
		},
		&cobra.Command{
			Use:    "form",
			Short:  "Run the endpoint configuration form (started by synology_config_add)",
			Hidden: true,
			RunE: func(*cobra.Command, []string) error {
				return realdialog.RunFormHelper()
			},
		},
	)
	return root
}

func runServe(cmd *cobra.Command, opts *options) error {
	mcp.ServerVersion = Version

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Sanitize)

	slog.Info("starting synology-mcp",
		slog.String("version", Version),
		slog.String("config", opts.configPath),
		slog.Int("endpoints", len(cfg.Endpoints)),
	)

	var watcher *config.Watcher
	server := mcp.NewServer(cfg,
		mcp.WithConfigPath(opts.configPath),
		mcp.WithConfigSavedHook(func() {
			if watcher != nil {
				watcher.Reload()
			}
		}),
	)

	if opts.configPath != "" {
		watcher, err = config.NewWatcher(opts.configPath, func(newCfg *config.Config) {
			if opts.debug {
				newCfg.Logging.Level = "debug"
			}
			server.UpdateConfig(newCfg)
		})
		if err != nil {
			slog.Warn("config hot-reload disabled", slog.String("error", err.Error()))
		} else {
			defer watcher.Close()
			slog.Info("config hot-reload enabled", slog.String("path", opts.configPath))
		}
	}

	if err := server.Run(cmd.Context()); err != nil {
		slog.Error("server error", slog.String("error", err.Error()))
		return err
	}
	return nil
}

// loadConfig reads and validates the configuration, applying the command
// line overrides.
func loadConfig(opts *options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.debug {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
