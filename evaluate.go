// Copyright 2026 cloudeng llc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package webext

import (
	"net/url"
	"strings"

	"cloudeng.io/webext/matchpattern"
	"cloudeng.io/webext/permissions"
)

// PermissionState returns the state of the named permission. A tab, which
// may be nil, that holds a temporary grant confers the tabs permission.
func (ec *Context) PermissionState(name string, tab Tab, opts permissions.Options) permissions.State {
	ec.lock()
	defer ec.unlock()
	return ec.permissionState(name, tab, opts)
}

// URLState returns the state of u. Results are cached until the stored
// permission state next changes.
func (ec *Context) URLState(u *url.URL, tab Tab, opts permissions.Options) permissions.State {
	ec.lock()
	defer ec.unlock()
	return ec.urlState(u, tab, opts)
}

// URIState is like URLState but accepts a URL string. Strings that cannot
// be parsed are in the Unknown state.
func (ec *Context) URIState(uri string, tab Tab, opts permissions.Options) permissions.State {
	u, err := url.Parse(uri)
	if err != nil {
		return permissions.Unknown
	}
	return ec.URLState(u, tab, opts)
}

// PatternState returns the state of the supplied pattern.
func (ec *Context) PatternState(pattern matchpattern.Pattern, tab Tab, opts permissions.Options) permissions.State {
	ec.lock()
	defer ec.unlock()
	return ec.patternState(pattern, tab, opts)
}

// HasPermission returns true if the named permission is granted.
func (ec *Context) HasPermission(name string, tab Tab, opts permissions.Options) bool {
	return ec.PermissionState(name, tab, opts|permissions.SkipRequested).IsGranted()
}

// HasAccessToURL returns true if access to u is granted.
func (ec *Context) HasAccessToURL(u *url.URL, tab Tab, opts permissions.Options) bool {
	return ec.URLState(u, tab, opts|permissions.SkipRequested).IsGranted()
}

// HasAccessToURI is like HasAccessToURL but accepts a URL string.
func (ec *Context) HasAccessToURI(uri string, tab Tab, opts permissions.Options) bool {
	return ec.URIState(uri, tab, opts|permissions.SkipRequested).IsGranted()
}

// HasAccessToPattern returns true if access to pattern is granted.
func (ec *Context) HasAccessToPattern(pattern matchpattern.Pattern, tab Tab, opts permissions.Options) bool {
	return ec.PatternState(pattern, tab, opts|permissions.SkipRequested).IsGranted()
}

func mustNotSkipRequested(opts permissions.Options) {
	if opts.Has(permissions.SkipRequested) {
		panic("webext: SkipRequested cannot be used when asking whether a permission is needed")
	}
}

// NeedsPermission returns true if the named permission is requested
// but has been neither granted nor denied. It panics if opts includes
// SkipRequested.
func (ec *Context) NeedsPermission(name string, tab Tab, opts permissions.Options) bool {
	mustNotSkipRequested(opts)
	return ec.PermissionState(name, tab, opts).IsRequested()
}

// NeedsAccessToURL returns true if access to u is requested but has been
// neither granted nor denied. It panics if opts includes SkipRequested.
func (ec *Context) NeedsAccessToURL(u *url.URL, tab Tab, opts permissions.Options) bool {
	mustNotSkipRequested(opts)
	return ec.URLState(u, tab, opts).IsRequested()
}

// NeedsAccessToPattern returns true if access to pattern is requested
// but has been neither granted nor denied. It panics if opts includes
// SkipRequested.
func (ec *Context) NeedsAccessToPattern(pattern matchpattern.Pattern, tab Tab, opts permissions.Options) bool {
	mustNotSkipRequested(opts)
	return ec.PatternState(pattern, tab, opts).IsRequested()
}

// HasPermissions returns true if all of the named permissions are granted
// and every pattern is contained, ignoring paths, by a granted pattern.
func (ec *Context) HasPermissions(names []string, patterns []matchpattern.Pattern) bool {
	ec.lock()
	defer ec.unlock()
	for _, name := range names {
		if !ec.grantedPermissions.Contains(name) {
			return false
		}
	}
	if len(patterns) == 0 {
		return true
	}
	granted := matchpattern.NewSet(ec.grantedPatterns.Keys()...)
	for _, p := range patterns {
		if !granted.MatchesPattern(p, matchpattern.IgnorePaths) {
			return false
		}
	}
	return true
}

// HasAccessToAllURLs returns true if a granted pattern matches all URLs.
func (ec *Context) HasAccessToAllURLs() bool {
	ec.lock()
	defer ec.unlock()
	for _, p := range ec.grantedPatterns.Keys() {
		if p.MatchesAllURLs() {
			return true
		}
	}
	return false
}

// HasAccessToAllHosts returns true if a granted pattern matches all hosts.
func (ec *Context) HasAccessToAllHosts() bool {
	ec.lock()
	defer ec.unlock()
	for _, p := range ec.grantedPatterns.Keys() {
		if p.MatchesAllHosts() {
			return true
		}
	}
	return false
}

func (ec *Context) requestedPatterns() matchpattern.Set {
	if ec.ext == nil {
		return nil
	}
	return ec.ext.AllRequestedMatchPatterns()
}

func (ec *Context) optionalPatterns() matchpattern.Set {
	if ec.ext == nil {
		return nil
	}
	return ec.ext.OptionalPermissionMatchPatterns()
}

func (ec *Context) permissionState(name string, tab Tab, opts permissions.Options) permissions.State {
	if tab != nil && name == permissions.Tabs && tab.HasTemporaryPermission() {
		return permissions.GrantedExplicitly
	}
	if !permissions.IsSupported(name) {
		return permissions.Unknown
	}
	if ec.deniedPermissions.Contains(name) {
		return permissions.DeniedExplicitly
	}
	if ec.grantedPermissions.Contains(name) {
		return permissions.GrantedExplicitly
	}
	if opts.Has(permissions.SkipRequested) || ec.ext == nil {
		return permissions.Unknown
	}
	if ec.ext.HasRequestedPermission(name) {
		return permissions.RequestedExplicitly
	}
	if opts.Has(permissions.IncludeOptional) && ec.ext.OptionalPermissions().Contains(name) {
		return permissions.RequestedImplicitly
	}
	return permissions.Unknown
}

// hasPermission is the locked form of HasPermission.
func (ec *Context) hasPermission(name string, tab Tab, opts permissions.Options) bool {
	return ec.permissionState(name, tab, opts|permissions.SkipRequested).IsGranted()
}

// tiered returns the state of the first tier, in the order specific
// denied, specific granted, wildcard denied and wildcard granted, in
// which one of the stored patterns satisfies matches. The specific
// tiers only consider patterns for which wildcard returns false.
func (ec *Context) tiered(matches func(matchpattern.Pattern) bool, wildcard func(matchpattern.Pattern) bool) (permissions.State, bool) {
	denied, granted := ec.deniedPatterns.Keys(), ec.grantedPatterns.Keys()
	for _, tier := range []struct {
		patterns []matchpattern.Pattern
		wildcard bool
		state    permissions.State
	}{
		{denied, false, permissions.DeniedExplicitly},
		{granted, false, permissions.GrantedExplicitly},
		{denied, true, permissions.DeniedImplicitly},
		{granted, true, permissions.GrantedImplicitly},
	} {
		for _, p := range tier.patterns {
			if wildcard(p) == tier.wildcard && matches(p) {
				return tier.state, true
			}
		}
	}
	return permissions.Unknown, false
}

// requested returns the state implied by the extension's requested
// patterns, considering those for specific hosts first.
func requested(patterns matchpattern.Set, matches func(matchpattern.Pattern) bool, wildcard func(matchpattern.Pattern) bool) (permissions.State, bool) {
	implicit := false
	for p := range patterns {
		if !matches(p) {
			continue
		}
		if !wildcard(p) {
			return permissions.RequestedExplicitly, true
		}
		implicit = true
	}
	if implicit {
		return permissions.RequestedImplicitly, true
	}
	return permissions.Unknown, false
}

func (ec *Context) urlState(u *url.URL, tab Tab, opts permissions.Options) permissions.State {
	if u == nil || len(u.String()) == 0 {
		return permissions.Unknown
	}
	if ec.isURLForThisExtension(u) {
		return permissions.GrantedImplicitly
	}
	if !matchpattern.IsSupportedScheme(strings.ToLower(u.Scheme)) {
		return permissions.Unknown
	}
	if tab != nil {
		if tp, ok := tab.TemporaryPermissionMatchPattern(); ok && tp.MatchesURL(u) {
			return permissions.GrantedExplicitly
		}
	}

	skipRequested := opts.Has(permissions.SkipRequested)

	// Sweep before consulting the cache so that expirations invalidate it.
	ec.grantedPatterns.Sweep()
	ec.deniedPatterns.Sweep()

	key := u.String()
	if state, ok := ec.cache.Lookup(key, skipRequested); ok {
		return state
	}

	matches := func(p matchpattern.Pattern) bool { return p.MatchesURL(u) }
	allHosts := matchpattern.Pattern.MatchesAllHosts
	if state, ok := ec.tiered(matches, allHosts); ok {
		return ec.cache.Record(key, state)
	}

	if skipRequested {
		return ec.cache.Record(key, permissions.Unknown)
	}

	if state, ok := requested(ec.requestedPatterns(), matches, allHosts); ok {
		return ec.cache.Record(key, state)
	}

	if ec.hasPermission(permissions.WebNavigation, tab, opts) {
		return ec.cache.Record(key, permissions.RequestedImplicitly)
	}
	if ec.hasPermission(permissions.DeclarativeNetRequestFeedback, tab, opts) {
		return ec.cache.Record(key, permissions.RequestedImplicitly)
	}

	// Neither of these are cached since the result depends on opts.
	if opts.Has(permissions.RequestedWithTabsPermission) && ec.hasPermission(permissions.Tabs, tab, opts) {
		return permissions.RequestedImplicitly
	}
	if opts.Has(permissions.IncludeOptional) && ec.optionalPatterns().MatchesURL(u) {
		return permissions.RequestedImplicitly
	}
	return ec.cache.Record(key, permissions.Unknown)
}

func (ec *Context) patternState(pattern matchpattern.Pattern, tab Tab, opts permissions.Options) permissions.State {
	if !pattern.IsValid() {
		return permissions.Unknown
	}
	if pattern.MatchesURL(ec.baseURL) {
		return permissions.GrantedImplicitly
	}
	if !pattern.MatchesAllURLs() && pattern.Scheme() != "*" && !matchpattern.IsSupportedScheme(pattern.Scheme()) {
		return permissions.Unknown
	}
	if tab != nil {
		if tp, ok := tab.TemporaryPermissionMatchPattern(); ok && tp.MatchesPattern(pattern) {
			return permissions.GrantedExplicitly
		}
	}

	// The tier is determined by the pattern being queried rather than
	// by the stored patterns.
	matches := func(other matchpattern.Pattern) bool { return pattern.MatchesPattern(other) }
	queryAllHosts := func(matchpattern.Pattern) bool { return pattern.MatchesAllHosts() }
	if state, ok := ec.tiered(matches, queryAllHosts); ok {
		return state
	}

	if opts.Has(permissions.SkipRequested) {
		return permissions.Unknown
	}

	if state, ok := requested(ec.requestedPatterns(), matches, queryAllHosts); ok {
		return state
	}

	if opts.Has(permissions.RequestedWithTabsPermission) && ec.hasPermission(permissions.Tabs, tab, opts) {
		return permissions.RequestedImplicitly
	}

	if opts.Has(permissions.IncludeOptional) && ec.optionalPatterns().MatchesPattern(pattern) {
		return permissions.RequestedImplicitly
	}
	return permissions.Unknown
}
