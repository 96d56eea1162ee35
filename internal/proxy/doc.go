// Package proxy routes protocol-upgrade requests to per-user backends.
//
// Upgrade handshakes cannot carry an Authorization header from a browser, so the
// bearer token comes from a cookie or a query parameter, whichever the deployment
// selects. Once the token verifies and the subject resolves to an execution
// identity, the router asks the orchestrator for that identity's backend (starting
// one if needed), replays the handshake to localhost with the backend's shared
// secret header, and copies bytes both ways until either side hangs up.
//
// Failures below the HTTP layer have no error channel: the socket is closed and
// the reason is logged.
package proxy
