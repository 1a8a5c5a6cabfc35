/*
Package manager wires keepwarm's components together and exposes the
operations every control surface uses.

A Manager owns the lock store, the daily lock manager, the reconciler, the
sweep scheduler and the outcome event broker. The HTTP API, the chat bot,
the CLI and the cron tick all go through the same Manager methods, so a
manual start and a scheduled start follow the same procedure and honour the
same daily lock.

# Operations

	Reconcile / ReconcileAll   start one app, or every enabled app concurrently
	Stop                       request an app stop (the lock is untouched)
	Status / StatusAll         read app state and instances
	LockStatus / Locks         today's lock state
	ClearLock / UnlockAll      delete a lock for a day, or today's for all apps
	ClearAllLocks              delete today's held locks for enabled apps
	RunScheduledSweep / Sweep  the minute tick, or an immediate sweep
	Apps / Diagnostics         roster summary and timing report

Names missing from the roster yield ErrAppNotFound.

# Lifecycle

	mgr, err := manager.NewManager(cfg)
	if err != nil {
		return err
	}
	defer mgr.Shutdown()

	if err := mgr.Start(); err != nil { // scheduler + metrics collector
		return err
	}
*/
package manager
