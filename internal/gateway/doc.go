// Package gateway assembles the warden-gateway server.
//
// # Overview
//
// The Gateway owns every long-lived component: the identity providers (verifier
// registry, identity mapper, token issuer and login), the backend orchestrator,
// the optional document store, the upgrade proxy and the HTTP server. Components
// are constructed once in New and handed to handlers; nothing is global.
//
// # Request Flow
//
// The root handler is the proxy router wrapped around a chi router. Requests that
// ask for a protocol upgrade are hijacked and bridged to the caller's backend;
// everything else is routed normally:
//
//   - GET /health, GET /health/ready - liveness and backend count
//   - GET /config - runtime configuration for the dashboard
//   - POST /api/auth/login, /refresh, /logout; GET /api/auth/status
//   - POST /api/server/start, /stop; GET /api/server/status, /log
//   - GET/PUT/DELETE /api/database/preferences; GET /layouts; PUT/DELETE /layout
//
// Every /api response is marked non-cacheable. Failures render as
//
//	{"status": "error", "message": "..."}
//
// with 400 for malformed input, 403 for any authorization failure, 501 for a
// disabled feature and 503 when the backend port range is exhausted.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	err = gw.Run(ctx) // blocks; shuts down on cancel
//
// Shutdown stops the HTTP server first, then every backend process, then the
// Tailscale node and the store.
//
// # Key Files
//
//   - gateway.go: construction, listeners, Run/Shutdown
//   - router.go: route table and middleware
//   - api_auth.go, api_server.go, api_database.go: handlers
//   - errors.go: error mapping and JSON helpers
package gateway
