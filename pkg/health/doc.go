/*
Package health performs the best-effort HTTP ping that follows a successful
application start.

Starting an application on the platform does not always warm it: some apps
only finish booting on their first request. When an app is configured with a
ping URL, the reconciler issues one GET through a Prober after the instances
report RUNNING. The outcome is only ever logged; a failed ping never fails
the run.

	result := health.Ping(ctx, "https://billing.example.com/healthz")
	if !result.Healthy {
		logger.Warn().Str("result", result.Message).Msg("ping failed")
	}

Responses in 200-399 count as healthy. Requests time out after ten seconds.
*/
package health
