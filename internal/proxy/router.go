// ABOUTME: Authenticating router for protocol-upgrade requests
// ABOUTME: Verifies the bearer token, ensures a backend is running and bridges the raw connection

package proxy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/2389/warden-gateway/internal/auth"
	"github.com/2389/warden-gateway/internal/backend"
	"github.com/2389/warden-gateway/internal/config"
)

// Backends locates the backend for an execution identity, starting one when none is live.
type Backends interface {
	EnsureRunning(ctx context.Context, username string) (backend.PortInfo, error)
}

// Options configures a Router.
type Options struct {
	Verifier auth.TokenVerifier
	Mapper   *auth.IdentityMapper
	Backends Backends

	// TokenSource is config.TokenSourceCookie or config.TokenSourceQuery.
	TokenSource  string
	TokenCookie  string
	TokenQuery   string
	SecretHeader string
	BackendHost  string // defaults to localhost
	DialTimeout  time.Duration

	Metrics *Metrics // optional
	Logger  *slog.Logger
}

// Router handles upgrade requests. Every failure closes the hijacked connection
// without writing a response.
type Router struct {
	verifier     auth.TokenVerifier
	mapper       *auth.IdentityMapper
	backends     Backends
	tokenSource  string
	tokenCookie  string
	tokenQuery   string
	secretHeader string
	host         string
	dialer       net.Dialer
	metrics      *Metrics
	logger       *slog.Logger
}

// New creates a Router, filling unset options with the configuration defaults.
func New(opts Options) *Router {
	rt := &Router{
		verifier:     opts.Verifier,
		mapper:       opts.Mapper,
		backends:     opts.Backends,
		tokenSource:  opts.TokenSource,
		tokenCookie:  opts.TokenCookie,
		tokenQuery:   opts.TokenQuery,
		secretHeader: opts.SecretHeader,
		host:         opts.BackendHost,
		dialer:       net.Dialer{Timeout: opts.DialTimeout},
		metrics:      opts.Metrics,
		logger:       opts.Logger,
	}
	if rt.tokenSource == "" {
		rt.tokenSource = config.TokenSourceCookie
	}
	if rt.tokenCookie == "" {
		rt.tokenCookie = config.DefaultTokenCookie
	}
	if rt.tokenQuery == "" {
		rt.tokenQuery = config.DefaultTokenQuery
	}
	if rt.secretHeader == "" {
		rt.secretHeader = config.DefaultAuthTokenHeader
	}
	if rt.host == "" {
		rt.host = "localhost"
	}
	if rt.dialer.Timeout == 0 {
		rt.dialer.Timeout = config.DefaultDialTimeout
	}
	if rt.logger == nil {
		rt.logger = slog.Default()
	}
	return rt
}

// IsUpgrade reports whether r asks to switch protocols.
func IsUpgrade(r *http.Request) bool {
	return r.Header.Get("Upgrade") != "" && headerHasToken(r.Header, "Connection", "upgrade")
}

func headerHasToken(h http.Header, name, token string) bool {
	for _, v := range h.Values(name) {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}

// Wrap sends upgrade requests to the router and everything else to next.
func (rt *Router) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if IsUpgrade(r) {
			rt.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ServeHTTP takes over the connection and bridges it to the caller's backend.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "connection upgrade not supported", http.StatusInternalServerError)
		return
	}
	conn, brw, err := hj.Hijack()
	if err != nil {
		rt.logger.Error("failed to hijack upgrade request", "error", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	logger := rt.logger.With("remote", r.RemoteAddr, "path", r.URL.Path)

	token := rt.requestToken(r)
	if token == "" {
		rt.metrics.observe(resultNoToken)
		logger.Debug("upgrade request without token")
		return
	}

	ac, err := auth.Authenticate(ctx, rt.verifier, rt.mapper, token)
	if err != nil {
		rt.metrics.observe(resultRejected)
		logger.Info("rejected upgrade request", "error", err)
		return
	}
	logger = logger.With("user", ac.Username)

	info, err := rt.backends.EnsureRunning(ctx, ac.Username)
	if err != nil {
		rt.metrics.observe(resultUnavailable)
		logger.Warn("no backend for upgrade request", "error", err)
		return
	}

	upstream, err := rt.dialer.DialContext(ctx, "tcp", net.JoinHostPort(rt.host, strconv.Itoa(info.Port)))
	if err != nil {
		rt.metrics.observe(resultDialFailed)
		logger.Warn("failed to reach backend", "port", info.Port, "error", err)
		return
	}
	defer upstream.Close()

	out := r.Clone(ctx)
	out.Body = nil
	out.ContentLength = 0
	out.Header.Set(rt.secretHeader, info.Secret)
	if err := out.Write(upstream); err != nil {
		rt.metrics.observe(resultForwardFail)
		logger.Warn("failed to forward upgrade request", "port", info.Port, "error", err)
		return
	}

	rt.metrics.observe(resultBridged)
	rt.metrics.addActive(1)
	defer rt.metrics.addActive(-1)

	logger.Info("redirecting to backend process", "port", info.Port, "pid", info.PID)
	bridge(conn, brw.Reader, upstream, logger)
}

func (rt *Router) requestToken(r *http.Request) string {
	if rt.tokenSource == config.TokenSourceQuery {
		return r.URL.Query().Get(rt.tokenQuery)
	}
	c, err := r.Cookie(rt.tokenCookie)
	if err != nil {
		return ""
	}
	return c.Value
}

// bridge copies in both directions until either side closes. Bytes the server
// already buffered from the client are read from clientBuf before the socket.
func bridge(client net.Conn, clientBuf io.Reader, upstream net.Conn, logger *slog.Logger) {
	errc := make(chan error, 2)
	go func() {
		_, err := io.Copy(upstream, clientBuf)
		errc <- err
	}()
	go func() {
		_, err := io.Copy(client, upstream)
		errc <- err
	}()

	for i := range 2 {
		err := <-errc
		if i == 0 {
			// Unblock the other direction.
			_ = client.Close()
			_ = upstream.Close()
		}
		switch {
		case err == nil:
		case isConnectionClosed(err):
			logger.Debug("proxied connection closed", "error", err)
		default:
			logger.Warn("proxied connection failed", "error", err)
		}
	}
}

func isConnectionClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}
