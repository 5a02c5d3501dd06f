// Copyright 2026 cloudeng llc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package accessgate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"time"

	"cloudeng.io/logging/ctxlog"
	"cloudeng.io/net/netutil"
	"cloudeng.io/sync/errgroup"
	"cloudeng.io/webext"
)

// Config represents the configuration of an access gate server.
type Config struct {
	Addr      string        `yaml:"addr" cmd:"address to listen on, the port defaults to http"`
	Forwarded bool          `yaml:"forwarded" cmd:"set to true to use the X-Forwarded-* headers to determine the url of a request"`
	Proxy     bool          `yaml:"proxy" cmd:"set to true to forward allowed requests to their url"`
	Grace     time.Duration `yaml:"grace" cmd:"grace period allowed for shutdown"`
	Clients   []string      `yaml:"clients" cmd:"ip addresses or cidr prefixes of the clients allowed to use the gate, all clients are allowed if empty"`
}

// ClientOption returns the Option required to restrict the gate to the
// configured clients, or nil if no clients are configured. The
// X-Forwarded-For header is used to determine the client when Forwarded
// is set.
func (c Config) ClientOption() (Option, error) {
	if len(c.Clients) == 0 {
		return nil, nil
	}
	clients, err := NewClients(c.Clients...)
	if err != nil {
		return nil, err
	}
	extractor := RemoteAddrClient
	if c.Forwarded {
		extractor = ForwardedForClient
	}
	return WithClients(clients, extractor), nil
}

// TargetExtractor returns the TargetExtractor specified by the config.
func (c Config) TargetExtractor() TargetExtractor {
	if c.Forwarded {
		return ForwardedHeaderExtractor
	}
	return RequestURLExtractor
}

// GracePeriod returns the configured grace period, or one minute if
// none is configured.
func (c Config) GracePeriod() time.Duration {
	if c.Grace <= 0 {
		return time.Minute
	}
	return c.Grace
}

// NewProxy returns a reverse proxy that forwards each request to the
// target URL stored in its context by the handler returned by
// NewHandler. Requests without a target are rejected.
func NewProxy(ctx context.Context) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			target, ok := Target(pr.In.Context())
			if !ok {
				return
			}
			u := *target
			pr.Out.URL = &u
			pr.Out.Host = ""
			pr.SetXForwarded()
		},
		Transport: targetRequired{http.DefaultTransport},
		ErrorLog:  ctxlog.NewLogLogger(ctx, slog.LevelError),
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			ctxlog.Info(r.Context(), "proxy request failed", "url", r.URL.String(), "error", err)
			w.WriteHeader(http.StatusBadGateway)
		},
	}
}

var errNoTarget = errors.New("request has no target url")

type targetRequired struct {
	http.RoundTripper
}

func (t targetRequired) RoundTrip(r *http.Request) (*http.Response, error) {
	if _, ok := Target(r.Context()); !ok {
		return nil, errNoTarget
	}
	return t.RoundTripper.RoundTrip(r)
}

// NewServeMux returns a mux that serves HealthzHandler at /healthz and
// gate for all other requests.
func NewServeMux(gate http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /healthz", HealthzHandler())
	mux.Handle("/", gate)
	return mux
}

// HealthzHandler returns a handler that returns "ok" and a 200 status code.
func HealthzHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
}

// NewHTTPServer returns a listener, obtained using
// netutil.ParseAddrDefaultPort(addr, "http"), and an *http.Server whose
// BaseContext is ctx and whose ErrorLog logs via the ctxlog package.
func NewHTTPServer(ctx context.Context, addr string, handler http.Handler) (net.Listener, *http.Server, error) {
	ap, err := netutil.ParseAddrDefaultPort(addr, "http")
	if err != nil {
		return nil, nil, err
	}
	ln, err := net.Listen("tcp", netutil.HTTPServerAddr(ap))
	if err != nil {
		return nil, nil, err
	}
	srv := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           handler,
		ReadHeaderTimeout: time.Minute,
		ErrorLog:          ctxlog.NewLogLogger(ctx, slog.LevelError),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}
	return ln, srv, nil
}

// ServeWithShutdown runs srv.Serve in the background and then waits for
// ctx to be canceled, at which point it attempts to shut down the server
// within the specified grace period.
func ServeWithShutdown(ctx context.Context, ln net.Listener, srv *http.Server, grace time.Duration) error {
	serveErrCh := make(chan error, 1)
	go func() {
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- err
			return
		}
		close(serveErrCh)
	}()

	select {
	case err := <-serveErrCh:
		if err != nil {
			return fmt.Errorf("server %v, unexpected error %w", srv.Addr, err)
		}
		return nil
	case <-ctx.Done():
		ctxlog.Info(ctx, "access gate being shut down", "addr", srv.Addr, "grace", grace)
	}

	// The original context is already canceled.
	sctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("server running on %v, shutdown failed %s: %w", srv.Addr, grace, err)
	}
	return <-serveErrCh
}

// Serve creates a server for cfg that gates requests using checker and
// either forwards allowed requests, if cfg.Proxy is set, or passes them
// to handler. It returns when ctx is canceled and the server has shut
// down. The listener is reported via started, if not nil, before
// requests are served.
func Serve(ctx context.Context, cfg Config, checker Checker, handler http.Handler, started func(net.Listener), opts ...Option) error {
	if cfg.Proxy {
		handler = NewProxy(ctx)
	}
	if handler == nil {
		return fmt.Errorf("no handler specified and proxying is not enabled")
	}
	opts = append([]Option{WithTargetExtractor(cfg.TargetExtractor())}, opts...)
	clientOpt, err := cfg.ClientOption()
	if err != nil {
		return err
	}
	if clientOpt != nil {
		opts = append(opts, clientOpt)
	}
	gate := NewHandler(handler, checker, opts...)
	ln, srv, err := NewHTTPServer(ctx, cfg.Addr, NewServeMux(gate))
	if err != nil {
		return err
	}
	ctxlog.Info(ctx, "access gate listening", "addr", ln.Addr().String(), "proxy", cfg.Proxy, "forwarded", cfg.Forwarded)
	if started != nil {
		started(ln)
	}
	return ServeWithShutdown(ctx, ln, srv, cfg.GracePeriod())
}

// WaitForURLs waits for all of the supplied URLs to respond to a GET
// request with a non-error status, retrying at the specified interval.
func WaitForURLs(ctx context.Context, client *http.Client, interval time.Duration, urls ...string) error {
	if client == nil {
		client = &http.Client{Timeout: time.Second}
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, u := range urls {
		g.Go(func() error {
			return pingURL(ctx, client, interval, u)
		})
	}
	return g.Wait()
}

func pingURL(ctx context.Context, client *http.Client, interval time.Duration, u string) error {
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return fmt.Errorf("failed to create request for %s: %w", u, err)
		}
		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 400 {
				return nil
			}
		}
		ctxlog.Debug(ctx, "waiting for url", "url", u, "error", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// compile time check that *webext.Context implements Checker.
var _ Checker = (*webext.Context)(nil)
