package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/keepwarm/pkg/api"
	"github.com/cuemby/keepwarm/pkg/manager"
	"github.com/cuemby/keepwarm/pkg/reconciler"
	"github.com/cuemby/keepwarm/pkg/storage"
	"github.com/cuemby/keepwarm/pkg/types"
	"github.com/spf13/cobra"
)

// withManager runs fn against a manager that is shut down afterwards. The
// context is cancelled on SIGINT or SIGTERM.
func withManager(cmd *cobra.Command, fn func(ctx context.Context, mgr *manager.Manager) error) error {
	mgr, err := openManager(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = mgr.Shutdown() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx, mgr)
}

// withLockStore is withManager for commands that read or write locks. The
// store is opened up front so a bolt file held by a running server fails
// with a usable message instead of failing open.
func withLockStore(cmd *cobra.Command, fn func(ctx context.Context, mgr *manager.Manager) error) error {
	return withManager(cmd, func(ctx context.Context, mgr *manager.Manager) error {
		if err := mgr.OpenStore(); err != nil {
			if errors.Is(err, storage.ErrStoreBusy) {
				return fmt.Errorf("%w\nthe bolt store is single-process: pass --server to go through the running server, or set store.backend to redis", err)
			}
			return err
		}
		return fn(ctx, mgr)
	})
}

// serverClient returns a client for --server, or nil when it is unset
func serverClient(cmd *cobra.Command) *api.Client {
	addr, _ := cmd.Flags().GetString("server")
	if addr == "" {
		return nil
	}
	return api.NewClient(addr, 30*time.Second)
}

func printLocks(date, store string, locks []types.LockStatus) {
	fmt.Printf("Date: %s  Store: %s\n\n", date, store)
	fmt.Printf("%-24s %-8s %s\n", "APP", "LOCKED", "KEY")
	for _, l := range locks {
		fmt.Printf("%-24s %-8t %s\n", l.App, l.Locked, l.Key)
	}
}

func printUnlock(res manager.UnlockResult) {
	if res.Success {
		fmt.Printf("✓ Deleted %s\n", res.Key)
	} else {
		fmt.Printf("No lock at %s\n", res.Key)
	}
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile [APP]",
	Short: "Start an app now, or every enabled app",
	Long: `Run the start procedure for one app, or for every enabled app when no
name is given. The daily lock is honored unless --force is set.

Examples:
  # Start one app unless it already ran today
  keepwarm reconcile blog

  # Start every enabled app, ignoring today's locks
  keepwarm reconcile --force`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		opts := reconciler.Options{Trigger: types.TriggerCLI, Force: force}

		return withLockStore(cmd, func(ctx context.Context, mgr *manager.Manager) error {
			var outcomes []types.Outcome
			if len(args) == 1 {
				out, err := mgr.Reconcile(ctx, args[0], opts)
				if err != nil {
					return err
				}
				outcomes = []types.Outcome{out}
			} else {
				outcomes = mgr.ReconcileAll(ctx, opts)
			}

			if err := printJSON(outcomes); err != nil {
				return err
			}
			failed := 0
			for _, o := range outcomes {
				if !o.Succeeded {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d runs failed", failed, len(outcomes))
			}
			return nil
		})
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop APP",
	Short: "Stop an app",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(cmd, func(ctx context.Context, mgr *manager.Manager) error {
			res, err := mgr.Stop(ctx, args[0])
			if err != nil {
				return err
			}
			if err := printJSON(res); err != nil {
				return err
			}
			if !res.Succeeded {
				return fmt.Errorf("stop failed: %s", res.Error)
			}
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [APP]",
	Short: "Show app state and instances",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(cmd, func(ctx context.Context, mgr *manager.Manager) error {
			if len(args) == 1 {
				st, err := mgr.Status(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(st)
			}
			return printJSON(mgr.StatusAll(ctx))
		})
	},
}

var appsCmd = &cobra.Command{
	Use:   "apps",
	Short: "List configured apps",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		fmt.Printf("%-24s %-8s %s\n", "NAME", "ENABLED", "DESCRIPTION")
		for i := range cfg.Apps {
			app := &cfg.Apps[i]
			fmt.Printf("%-24s %-8t %s\n", app.Name, app.IsEnabled(), app.Description)
		}
		return nil
	},
}

var locksCmd = &cobra.Command{
	Use:   "locks",
	Short: "Show today's daily locks",
	RunE: func(cmd *cobra.Command, args []string) error {
		if c := serverClient(cmd); c != nil {
			report, err := c.Locks(cmd.Context())
			if err != nil {
				return err
			}
			printLocks(report.Date, report.Store, report.Locks)
			return nil
		}
		return withLockStore(cmd, func(ctx context.Context, mgr *manager.Manager) error {
			printLocks(mgr.Today(), mgr.StoreName(), mgr.Locks(ctx))
			return nil
		})
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock [APP]",
	Short: "Delete a daily lock so the app can start again",
	Long: `Delete today's lock for one app, or for every enabled app when no name
is given. --day selects another UTC day (YYYY-MM-DD) for a single app.

The bolt store admits one process at a time. While "keepwarm serve" runs,
pass --server so the request goes through its HTTP routes.

Examples:
  keepwarm unlock blog --server http://localhost:8080`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		day, _ := cmd.Flags().GetString("day")
		if day != "" {
			if _, err := time.Parse("2006-01-02", day); err != nil {
				return fmt.Errorf("invalid --day %q: want YYYY-MM-DD", day)
			}
		}

		if len(args) == 0 && day != "" {
			return fmt.Errorf("--day requires an app name")
		}

		if c := serverClient(cmd); c != nil {
			if len(args) == 1 {
				res, err := c.Unlock(cmd.Context(), args[0], day)
				if err != nil {
					return err
				}
				printUnlock(res)
				return nil
			}
			res, err := c.ClearLocks(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("✓ Cleared %d of %d locks\n", res.Cleared, res.Total)
			return nil
		}

		return withLockStore(cmd, func(ctx context.Context, mgr *manager.Manager) error {
			if len(args) == 1 {
				res, err := mgr.ClearLock(ctx, args[0], day)
				if err != nil {
					return err
				}
				printUnlock(res)
				return nil
			}
			res := mgr.ClearAllLocks(ctx)
			fmt.Printf("✓ Cleared %d of %d locks\n", res.Cleared, res.Total)
			return nil
		})
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run the scheduled sweep once",
	Long: `Run one scheduler tick. Outside the sweep window (even minutes of the
first UTC hour) nothing happens unless --now is set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		now, _ := cmd.Flags().GetBool("now")

		return withLockStore(cmd, func(ctx context.Context, mgr *manager.Manager) error {
			if !now {
				outcomes := mgr.RunScheduledSweep(ctx)
				if outcomes == nil {
					fmt.Println("Outside the sweep window, nothing to do")
					return nil
				}
				return printJSON(outcomes)
			}
			res := mgr.Sweep(ctx)
			if err := printJSON(res); err != nil {
				return err
			}
			if res.Failed > 0 {
				return fmt.Errorf("%d of %d apps failed", res.Failed, res.Total())
			}
			return nil
		})
	},
}

var diagCmd = &cobra.Command{
	Use:   "diag",
	Short: "Show timing and lock store diagnostics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(cmd, func(ctx context.Context, mgr *manager.Manager) error {
			return printJSON(mgr.Diagnostics(time.Now()))
		})
	},
}

func init() {
	reconcileCmd.Flags().BoolP("force", "f", false, "Ignore today's lock")
	unlockCmd.Flags().String("day", "", "UTC day of the lock (YYYY-MM-DD), default today")
	sweepCmd.Flags().Bool("now", false, "Sweep even outside the window")
	for _, c := range []*cobra.Command{locksCmd, unlockCmd} {
		c.Flags().String("server", "", "Use the lock routes of a running server (e.g. http://localhost:8080)")
	}

	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(appsCmd)
	rootCmd.AddCommand(locksCmd)
	rootCmd.AddCommand(unlockCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(diagCmd)
}
