/*
Package reconciler starts a Cloud Foundry application when it has no running
instance, at most once per UTC day.

A run walks a fixed sequence of states. Every failure jumps to FAILED and is
reported in the returned Outcome; Reconcile itself never returns an error.

	LOCK_CHECK ──locked──▶ (locked, no network calls)
	    │
	    ▼
	AUTHENTICATING ─▶ RESOLVING ─▶ CHECKING_CURRENT_STATE ──any RUNNING──▶ ALREADY_RUNNING ─▶ lock
	                                      │
	                                      ▼
	                              REQUESTING_START (only when state != STARTED)
	                                      │
	                                      ▼
	                  WAITING_APP_STARTED ─▶ WAITING_INSTANCES_RUNNING
	                                      │
	                                      ▼
	                           PINGING (optional) ─▶ LOCKING ─▶ DONE

# Waiting

Both waits use a capped exponential schedule: 2s, 3.2s, 5.12s, ... up to 15s.
The app state wait sleeps before each of its 8 polls. The instance wait polls
first and sleeps between its 10 polls. Sleeps go through clock.Clock so tests
replay exhausted waits instantly, and a cancelled context aborts the wait.

# Locking

The daily lock is written only after ALREADY_RUNNING or DONE. Force skips the
lock check but still writes the lock on success. Lock store errors never
fail a run.

# Usage

	r := reconciler.NewReconciler(cfapi.NewClient(30*time.Second), locks,
		reconciler.WithPublisher(broker))
	outcome := r.Reconcile(ctx, &app, reconciler.Options{Trigger: types.TriggerCron})
*/
package reconciler
