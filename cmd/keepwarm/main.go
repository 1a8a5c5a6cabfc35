package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/keepwarm/pkg/api"
	"github.com/cuemby/keepwarm/pkg/config"
	"github.com/cuemby/keepwarm/pkg/events"
	"github.com/cuemby/keepwarm/pkg/log"
	"github.com/cuemby/keepwarm/pkg/manager"
	"github.com/cuemby/keepwarm/pkg/metrics"
	"github.com/cuemby/keepwarm/pkg/telegram"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "keepwarm",
	Short: "keepwarm - keep Cloud Foundry apps running",
	Long: `keepwarm starts each configured Cloud Foundry application once per
UTC day. A sweep runs every even minute during the first UTC hour; a
per-app daily lock keeps each app from being started twice.

Runs can also be triggered from the HTTP control surface, the Telegram
bot, or this CLI.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"keepwarm version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultPath, "Path to the YAML config file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Emit JSON logs")
	rootCmd.PersistentFlags().String("store", "", "Lock store backend (bolt, redis, memory)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the config file, applies flag overrides and initializes
// logging
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	if cmd.Flags().Changed("log-json") {
		cfg.Log.JSON, _ = cmd.Flags().GetBool("log-json")
	}
	if backend, _ := cmd.Flags().GetString("store"); backend != "" {
		cfg.Store.Backend = backend
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
		Output:     os.Stderr,
	})

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// openManager loads config and creates a manager for a one-shot command
func openManager(cmd *cobra.Command) (*manager.Manager, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	mgr, err := manager.NewManager(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create manager: %w", err)
	}
	return mgr, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler, control surface and bot",
	Long: `Run keepwarm as a long-lived service.

The minute scheduler sweeps enabled apps during the first UTC hour. The
HTTP control surface listens on server.addr. When a Telegram bot token is
configured, updates are accepted on POST /webhook and failures are pushed
to the admin chats. With events.nats_url set, every outcome event is also
published on NATS.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Server.Addr = addr
		}

		metrics.SetVersion(Version)

		mgr, err := manager.NewManager(cfg)
		if err != nil {
			return fmt.Errorf("failed to create manager: %w", err)
		}

		fmt.Println("Starting keepwarm...")
		fmt.Printf("  Apps: %d (%d enabled)\n", len(cfg.Apps), len(cfg.EnabledApps()))
		fmt.Printf("  Lock store: %s\n", mgr.StoreName())
		fmt.Printf("  Listen: %s\n", cfg.Server.Addr)
		fmt.Println()

		if err := mgr.Start(); err != nil {
			_ = mgr.Shutdown()
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		fmt.Println("✓ Scheduler started")

		opts := []api.Option{api.WithVersion(Version)}

		var notifier *telegram.Notifier
		var bot *telegram.Bot
		if cfg.Telegram.Enabled() {
			client := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.APIURL)
			bot = telegram.NewBot(client, mgr, cfg.Telegram.AdminIDs)
			notifier = telegram.NewNotifier(client, mgr.Events(), cfg.Telegram.AdminIDs)
			notifier.Start()
			opts = append(opts, api.WithWebhook(bot, client))
			fmt.Printf("✓ Telegram bot enabled (%d admins)\n", len(cfg.Telegram.AdminIDs))
		}

		var forwarder *events.Forwarder
		if cfg.Events.Enabled() {
			nc, err := events.DialNATS(cfg.Events.NATSURL)
			if err != nil {
				if notifier != nil {
					notifier.Stop()
				}
				_ = mgr.Shutdown()
				return err
			}
			forwarder = events.NewForwarder(mgr.Events(), nc, cfg.Events.SubjectPrefix)
			forwarder.Start()
			fmt.Printf("✓ Forwarding events to %s.*\n", cfg.Events.SubjectPrefix)
		}

		srv := api.NewServer(mgr, opts...)
		errCh := make(chan error, 1)
		go func() {
			if err := srv.Start(cfg.Server.Addr); err != nil {
				errCh <- fmt.Errorf("control surface error: %w", err)
			}
		}()
		fmt.Println("✓ Control surface started")

		fmt.Println()
		fmt.Println("keepwarm is running. Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		var runErr error
		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case runErr = <-errCh:
			fmt.Fprintf(os.Stderr, "\nError: %v\n", runErr)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Logger.Warn().Err(err).Msg("Control surface shutdown")
		}
		if bot != nil {
			if err := bot.Shutdown(ctx); err != nil {
				log.Logger.Warn().Err(err).Msg("Telegram bot shutdown")
			}
		}
		if notifier != nil {
			notifier.Stop()
		}
		if forwarder != nil {
			forwarder.Stop()
		}
		if err := mgr.Shutdown(); err != nil {
			return fmt.Errorf("failed to shutdown: %w", err)
		}

		fmt.Println("✓ Shutdown complete")
		return runErr
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("keepwarm version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}
