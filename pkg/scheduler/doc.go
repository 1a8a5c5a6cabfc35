/*
Package scheduler runs the daily sweep that keeps every enabled application
started.

A cron runner (github.com/robfig/cron/v3, UTC) fires Tick every minute. Tick
only acts inside the sweep window, hour 0 UTC on even minutes, so up to 30
sweeps run each night. A sweep clears today's start lock for every enabled
app, then reconciles the apps one at a time in roster order with the "cron"
trigger, pausing one second between apps. A failed app is counted and the
sweep moves on.

Overlapping ticks are skipped while a sweep is still running.
*/
package scheduler
