// Package cfapi is a minimal Cloud Foundry v3 client: UAA password-grant
// authentication, org/space/app name resolution, application state, process
// instance statistics, and start/stop actions.
//
// Every non-2xx response becomes an *APIError carrying the status, method,
// endpoint and a truncated body. The client performs no retries; polling and
// backoff belong to package reconciler.
package cfapi
