// Copyright 2026 cloudeng llc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package webext provides the permission model for browser extensions.
// A Context records the permissions and match patterns granted to, or
// denied for, a single extension and determines the permission state
// of named permissions, URLs and match patterns by combining that
// record with what the extension requests in its manifest.
//
// States are determined in a fixed order: an extension always has access
// to its own resources, temporary per-tab grants come next, followed by
// explicit denials and grants of patterns for specific hosts, then denials
// and grants of patterns that match all hosts and finally whatever the
// extension requests. Within each tier a denial takes precedence over
// a grant.
//
// Grants and denials may expire. Expired entries are removed lazily,
// before any read of the stored state, and removals are reported to
// Observers in the same way as explicit changes.
package webext

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"cloudeng.io/webext/expiring"
	"cloudeng.io/webext/matchpattern"
	"cloudeng.io/webext/permissions"
	"cloudeng.io/webext/urlcache"
	"github.com/google/uuid"
)

// Extension provides the permissions requested by an extension, typically
// derived from its manifest. It is expected to be immutable once the
// extension is loaded.
type Extension interface {
	// AllRequestedMatchPatterns returns every pattern requested by the
	// extension, including those used by content scripts.
	AllRequestedMatchPatterns() matchpattern.Set
	// OptionalPermissions returns the optional permission names.
	OptionalPermissions() permissions.Set
	// OptionalPermissionMatchPatterns returns the optional patterns.
	OptionalPermissionMatchPatterns() matchpattern.Set
	// HasRequestedPermission returns true if the named permission is
	// requested, non-optionally, by the extension.
	HasRequestedPermission(name string) bool
}

// Tab represents a browser tab that may hold a temporary grant, such
// as that conferred by the activeTab permission when the user invokes
// the extension.
type Tab interface {
	// TemporaryPermissionMatchPattern returns the pattern temporarily
	// granted for the tab, if any.
	TemporaryPermissionMatchPattern() (matchpattern.Pattern, bool)
	// HasTemporaryPermission returns true if the extension has been
	// temporarily granted access to the tab.
	HasTemporaryPermission() bool
}

// Option represents an option for NewContext.
type Option func(o *options)

type options struct {
	uniqueID   string
	baseURL    string
	now        func() time.Time
	maxCached  int
	observers  []Observer
	logger     *slog.Logger
	allHosts   bool
	privateAcc bool
}

// WithUniqueIdentifier sets the identifier used to form the default
// base URL. A random identifier is used if none is specified.
func WithUniqueIdentifier(id string) Option {
	return func(o *options) {
		o.uniqueID = id
	}
}

// WithBaseURL sets the URL used for the extension's own resources, only
// its scheme and host are significant. The scheme may not be one used
// for web content.
func WithBaseURL(u string) Option {
	return func(o *options) {
		o.baseURL = u
	}
}

// WithNow sets the function used to obtain the current time when
// determining whether grants and denials have expired.
func WithNow(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithMaxCachedURLs sets the number of URL permission states that
// are cached.
func WithMaxCachedURLs(n int) Option {
	return func(o *options) {
		o.maxCached = n
	}
}

// WithObserver adds an Observer.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		o.observers = append(o.observers, obs)
	}
}

// WithLogger sets the logger to use. This is the only way to set a logger
// since the methods of Context are not passed a context.Context.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRequestedOptionalAccessToAllHosts records that the extension has
// requested optional access to all hosts.
func WithRequestedOptionalAccessToAllHosts(v bool) Option {
	return func(o *options) {
		o.allHosts = v
	}
}

// WithAccessToPrivateData records whether the extension may access
// private browsing data.
func WithAccessToPrivateData(v bool) Option {
	return func(o *options) {
		o.privateAcc = v
	}
}

// Context records the permission state of a single extension. It is
// safe for concurrent use.
type Context struct {
	ext      Extension
	opts     options
	uniqueID string
	baseURL  *url.URL

	mu                        sync.Mutex
	grantedPermissions        *expiring.Set[string]
	deniedPermissions         *expiring.Set[string]
	grantedPatterns           *expiring.Set[matchpattern.Pattern]
	deniedPatterns            *expiring.Set[matchpattern.Pattern]
	cache                     *urlcache.Cache
	requestedOptionalAllHosts bool
	accessToPrivateData       bool
	pending                   []Change
}

// NewContext returns a new Context for ext. The returned Context has
// no granted or denied permissions.
func NewContext(ext Extension, opts ...Option) (*Context, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	if o.now == nil {
		o.now = time.Now
	}
	if len(o.uniqueID) == 0 {
		o.uniqueID = uuid.NewString()
	}
	if len(o.baseURL) == 0 {
		o.baseURL = matchpattern.ExtensionScheme + "://" + o.uniqueID + "/"
	}
	base, err := parseBaseURL(o.baseURL)
	if err != nil {
		return nil, err
	}
	ec := &Context{
		ext:                       ext,
		opts:                      o,
		uniqueID:                  o.uniqueID,
		baseURL:                   base,
		cache:                     urlcache.New(o.maxCached),
		requestedOptionalAllHosts: o.allHosts,
		accessToPrivateData:       o.privateAcc,
	}
	ec.grantedPermissions = expiring.New(o.now, ec.expired(GrantedPermissionsWereRemoved))
	ec.deniedPermissions = expiring.New(o.now, ec.expired(DeniedPermissionsWereRemoved))
	ec.grantedPatterns = expiring.New(o.now, ec.expiredPatterns(GrantedPatternsWereRemoved))
	ec.deniedPatterns = expiring.New(o.now, ec.expiredPatterns(DeniedPatternsWereRemoved))
	return ec, nil
}

func parseBaseURL(s string) (*url.URL, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", s, err)
	}
	if len(u.Scheme) == 0 || len(u.Host) == 0 {
		return nil, fmt.Errorf("invalid base url %q: a scheme and host are required", s)
	}
	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case "http", "https", "file", "ftp", "ws", "wss", "data", "blob", "about", "javascript":
		return nil, fmt.Errorf("invalid base url %q: %q is reserved for web content", s, scheme)
	}
	return &url.URL{Scheme: scheme, Host: strings.ToLower(u.Host), Path: "/"}, nil
}

func (ec *Context) expired(kind ChangeKind) func([]string) {
	return func(removed []string) {
		ec.opts.logger.Debug("permissions expired", "kind", kind.String(), "permissions", removed)
		ec.cache.Invalidate()
		ec.pending = append(ec.pending, Change{Kind: kind, Permissions: removed})
	}
}

func (ec *Context) expiredPatterns(kind ChangeKind) func([]matchpattern.Pattern) {
	return func(removed []matchpattern.Pattern) {
		ec.opts.logger.Debug("match patterns expired", "kind", kind.String(), "patterns", len(removed))
		ec.cache.Invalidate()
		ec.pending = append(ec.pending, Change{Kind: kind, Patterns: removed})
	}
}

func (ec *Context) lock() {
	ec.mu.Lock()
}

// unlock releases the lock and then delivers any changes accumulated
// while it was held.
func (ec *Context) unlock() {
	changes := ec.pending
	ec.pending = nil
	ec.mu.Unlock()
	for _, c := range changes {
		for _, obs := range ec.opts.observers {
			obs.PermissionsChanged(c)
		}
	}
}

func (ec *Context) notify(kind ChangeKind, names []string) {
	if len(names) == 0 {
		return
	}
	ec.pending = append(ec.pending, Change{Kind: kind, Permissions: names})
}

func (ec *Context) notifyPatterns(kind ChangeKind, patterns []matchpattern.Pattern) {
	if len(patterns) == 0 {
		return
	}
	ec.pending = append(ec.pending, Change{Kind: kind, Patterns: patterns})
}

// UniqueIdentifier returns the identifier of this context.
func (ec *Context) UniqueIdentifier() string {
	return ec.uniqueID
}

// BaseURL returns the URL used for the extension's own resources.
func (ec *Context) BaseURL() *url.URL {
	u := *ec.baseURL
	return &u
}

func (ec *Context) isURLForThisExtension(u *url.URL) bool {
	return strings.EqualFold(u.Scheme, ec.baseURL.Scheme) && strings.EqualFold(u.Host, ec.baseURL.Host)
}

// RequestedOptionalAccessToAllHosts returns true if the extension has
// requested optional access to all hosts.
func (ec *Context) RequestedOptionalAccessToAllHosts() bool {
	ec.lock()
	defer ec.unlock()
	return ec.requestedOptionalAllHosts
}

// SetRequestedOptionalAccessToAllHosts records whether the extension has
// requested optional access to all hosts.
func (ec *Context) SetRequestedOptionalAccessToAllHosts(v bool) {
	ec.lock()
	defer ec.unlock()
	ec.requestedOptionalAllHosts = v
}

// HasAccessToPrivateData returns true if the extension may access
// private browsing data.
func (ec *Context) HasAccessToPrivateData() bool {
	ec.lock()
	defer ec.unlock()
	return ec.accessToPrivateData
}

// SetHasAccessToPrivateData records whether the extension may access
// private browsing data.
func (ec *Context) SetHasAccessToPrivateData(v bool) {
	ec.lock()
	defer ec.unlock()
	ec.accessToPrivateData = v
}
