/*
Package log provides structured logging for keepwarm using zerolog.

A single package-level Logger is configured once via Init and shared by every
component. Components derive child loggers that carry a "component" field.
ForRun adds the app, trigger and run_id fields so one reconciliation can be
followed through interleaved sweep output.

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	logger := log.ForRun(log.WithComponent("reconciler"), "billing", "cron", runID)
	logger.Info().Msg("Reconciliation triggered")

Console output is human readable and intended for local runs; JSON output is
meant for log collectors.
*/
package log
