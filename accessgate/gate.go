// Copyright 2026 cloudeng llc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package accessgate provides HTTP middleware, and a forwarding proxy
// built on it, that only allow requests for URLs to which an extension
// has been granted access.
package accessgate

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"cloudeng.io/logging/ctxlog"
	"cloudeng.io/webext"
	"cloudeng.io/webext/permissions"
)

// Checker determines the permission state of a URL, it is implemented
// by *webext.Context.
type Checker interface {
	URLState(u *url.URL, tab webext.Tab, opts permissions.Options) permissions.State
}

// Option represents an option for NewHandler.
type Option func(o *options)

// TargetExtractor represents a function that determines the URL that
// a request is for.
type TargetExtractor func(r *http.Request) (*url.URL, error)

type options struct {
	extractor TargetExtractor
	counter   webext.CounterVecInc
	allowed   webext.CounterInc

	clients         *Clients
	clientExtractor ClientExtractor
}

// WithTargetExtractor returns an Option that sets the TargetExtractor.
func WithTargetExtractor(extractor TargetExtractor) Option {
	return func(o *options) {
		o.extractor = extractor
	}
}

// WithDeniedCounter returns an Option that sets the counter that is
// incremented when a request is denied. The counter is labelled with
// the permission state of the request's URL, or "invalid" if no URL
// could be determined.
func WithDeniedCounter(counter webext.CounterVecInc) Option {
	return func(o *options) {
		o.counter = counter
	}
}

// WithAllowedCounter returns an Option that sets the counter that is
// incremented when a request is allowed.
func WithAllowedCounter(counter webext.CounterInc) Option {
	return func(o *options) {
		o.allowed = counter
	}
}

// RequestURLExtractor returns the URL of a request. Absolute-form
// requests, as sent to a forward proxy, are used as is, otherwise the
// URL is formed from the Host header and whether the request was made
// over TLS. It is the default TargetExtractor.
func RequestURLExtractor(r *http.Request) (*url.URL, error) {
	if r.URL.IsAbs() {
		u := *r.URL
		return &u, nil
	}
	if len(r.Host) == 0 {
		return nil, fmt.Errorf("request has no host")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return url.Parse(scheme + "://" + r.Host + r.URL.RequestURI())
}

// ForwardedHeaderExtractor returns the URL specified by the
// X-Forwarded-Proto, X-Forwarded-Host and X-Forwarded-Uri headers as set
// by a reverse proxy. The request's Host and URI are used for headers
// that are not present, the scheme defaults to http.
func ForwardedHeaderExtractor(r *http.Request) (*url.URL, error) {
	scheme := firstValue(r.Header.Get("X-Forwarded-Proto"))
	if len(scheme) == 0 {
		scheme = "http"
	}
	host := firstValue(r.Header.Get("X-Forwarded-Host"))
	if len(host) == 0 {
		host = r.Host
	}
	if len(host) == 0 {
		return nil, fmt.Errorf("X-Forwarded-Host header is empty and request has no host")
	}
	uri := r.Header.Get("X-Forwarded-Uri")
	if len(uri) == 0 {
		uri = r.URL.RequestURI()
	}
	if !strings.HasPrefix(uri, "/") {
		return nil, fmt.Errorf("X-Forwarded-Uri is not an absolute path: %q", uri)
	}
	return url.Parse(scheme + "://" + host + uri)
}

// firstValue returns the first of a comma separated list of values.
func firstValue(v string) string {
	first, _, _ := strings.Cut(v, ",")
	return strings.TrimSpace(first)
}

type targetKey struct{}

// WithTarget returns a context that carries the target URL of a request.
func WithTarget(ctx context.Context, u *url.URL) context.Context {
	return context.WithValue(ctx, targetKey{}, u)
}

// Target returns the target URL stored in ctx by the handler returned
// by NewHandler.
func Target(ctx context.Context) (*url.URL, bool) {
	u, ok := ctx.Value(targetKey{}).(*url.URL)
	return u, ok
}

// NewHandler creates a new http.Handler that only passes requests to
// handler if access to the request's URL is granted by checker. Requested
// but not yet granted access is not sufficient. Requests that are not
// allowed receive a 403 Forbidden response. The URL is made available to
// handler via Target.
func NewHandler(handler http.Handler, checker Checker, opts ...Option) http.Handler {
	gh := &gateHandler{
		checker: checker,
		handler: handler,
	}
	for _, opt := range opts {
		opt(&gh.opts)
	}
	if gh.opts.extractor == nil {
		gh.opts.extractor = RequestURLExtractor
	}
	if gh.opts.clientExtractor == nil {
		gh.opts.clientExtractor = RemoteAddrClient
	}
	return gh
}

type gateHandler struct {
	opts    options
	checker Checker
	handler http.Handler
}

func (h *gateHandler) denied(ctx context.Context, state string) {
	if h.opts.counter != nil {
		h.opts.counter(ctx, state)
	}
}

// ServeHTTP implements the http.Handler interface.
func (h *gateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.opts.clients != nil {
		ip, err := h.opts.clientExtractor(r)
		if err != nil || !h.opts.clients.Allowed(ip) {
			http.Error(w, "forbidden", http.StatusForbidden)
			ctxlog.Debug(ctx, "client not allowed", "remote_addr", r.RemoteAddr, "ip", ip, "error", err)
			h.denied(ctx, "client")
			return
		}
	}
	target, err := h.opts.extractor(r)
	if err != nil {
		http.Error(w, "forbidden", http.StatusForbidden)
		ctxlog.Debug(ctx, "failed to determine target url", "host", r.Host, "uri", r.RequestURI, "error", err)
		h.denied(ctx, "invalid")
		return
	}
	state := h.checker.URLState(target, nil, permissions.SkipRequested)
	if !state.IsGranted() {
		http.Error(w, "forbidden", http.StatusForbidden)
		ctxlog.Debug(ctx, "access to url not granted", "url", target.String(), "state", state.String())
		h.denied(ctx, state.String())
		return
	}
	if h.opts.allowed != nil {
		h.opts.allowed(ctx)
	}
	h.handler.ServeHTTP(w, r.WithContext(WithTarget(ctx, target)))
}
