/*
Package api implements the keepwarm HTTP control surface.

The control surface lets an operator trigger, inspect and unlock
reconciliation runs without waiting for the nightly sweep. It also hosts
the Telegram webhook and the process probes.

# Architecture

	┌────────────── operator / Telegram / Prometheus ──────────────┐
	│                                                               │
	└──────────────────────────┬────────────────────────────────────┘
	                           │ HTTP
	┌──────────────────────────▼────────────────────────────────────┐
	│  instrument (request count + latency by route pattern)        │
	│    └─ ServeMux                                                │
	│        ├─ rate limited: /start /stop /unlock /clear-locks     │
	│        ├─ read only:    / /list-apps /state /diag /locks      │
	│        ├─ telegram:     POST /webhook, GET /webhook?action=   │
	│        └─ probes:       /health /ready /live /metrics         │
	└──────────────────────────┬────────────────────────────────────┘
	                           │
	                    manager.Manager

# Responses

Every JSON body carries an "ok" field. An app name that is not in the
roster answers 404 with {"ok": false, "error": "App not found"}; a missing
required parameter answers 400.

# Background runs

/start returns as soon as the run is scheduled. The run itself uses a
context owned by the server, not the request, so a client disconnect does
not abort a start in progress. Shutdown waits for background runs until
its context expires and then cancels them.

# Rate limiting

Trigger endpoints share a token bucket per client IP
(golang.org/x/time/rate). The client IP is the first X-Forwarded-For
entry, then X-Real-IP, then the connection's remote address.

# Usage

	srv := api.NewServer(mgr,
		api.WithVersion(Version),
		api.WithWebhook(bot, telegramClient),
	)
	go func() {
		if err := srv.Start(":8080"); err != nil {
			log.Logger.Fatal().Err(err).Msg("control surface failed")
		}
	}()
	...
	_ = srv.Shutdown(ctx)
*/
package api
