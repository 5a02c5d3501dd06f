// Copyright 2026 cloudeng llc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package webext_test

import (
	"slices"
	"testing"
	"time"

	"cloudeng.io/webext"
	"cloudeng.io/webext/expiring"
	"cloudeng.io/webext/matchpattern"
	"cloudeng.io/webext/permissions"
	"cloudeng.io/webext/permissions/permissionstestutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keys[K comparable](m map[K]time.Time) []K {
	out := make([]K, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestGrantDenyPermissions(t *testing.T) {
	ec, _, rec := newContext(t, nil)

	ec.GrantPermissions([]string{"tabs", "cookies"}, time.Time{})
	assert.Equal(t, []webext.ChangeKind{webext.PermissionsWereGranted}, rec.kinds())
	assert.Equal(t, []string{"cookies", "tabs"}, ec.CurrentPermissions())

	ec.DenyPermissions([]string{"tabs"}, time.Time{})
	changes := rec.take()
	require.Len(t, changes, 2)
	assert.Equal(t, webext.Change{Kind: webext.GrantedPermissionsWereRemoved, Permissions: []string{"tabs"}}, changes[0])
	assert.Equal(t, webext.Change{Kind: webext.PermissionsWereDenied, Permissions: []string{"tabs"}}, changes[1])
	assert.Equal(t, []string{"cookies"}, ec.CurrentPermissions())
	assert.Equal(t, []string{"tabs"}, keys(ec.DeniedPermissions()))

	ec.GrantPermissions([]string{"tabs"}, time.Time{})
	assert.Equal(t, []webext.ChangeKind{webext.DeniedPermissionsWereRemoved, webext.PermissionsWereGranted}, rec.kinds())
	assert.Empty(t, ec.DeniedPermissions())

	// Idempotent and empty mutations are not reported.
	ec.GrantPermissions([]string{"tabs"}, time.Time{})
	ec.GrantPermissions(nil, time.Time{})
	ec.GrantPermissions([]string{""}, time.Time{})
	ec.DenyPermissions(nil, time.Time{})
	ec.ResetPermissions("alarms")
	ec.ResetPermissions()
	ec.RemoveDeniedPermissions("tabs")
	assert.Empty(t, rec.kinds())

	ec.RemoveGrantedPermissions("tabs")
	assert.Equal(t, []webext.ChangeKind{webext.GrantedPermissionsWereRemoved}, rec.kinds())
	ec.DenyPermissions([]string{"tabs"}, time.Time{})
	rec.take()
	ec.ResetPermissions("tabs", "cookies")
	assert.Equal(t, []webext.ChangeKind{webext.GrantedPermissionsWereRemoved, webext.DeniedPermissionsWereRemoved}, rec.kinds())
	assert.Empty(t, ec.GrantedPermissions())
	assert.Empty(t, ec.DeniedPermissions())
}

func TestExpiration(t *testing.T) {
	ec, clock, rec := newContext(t, nil)
	expires := start.Add(10 * time.Second)
	ec.GrantPermissions([]string{"tabs"}, expires)
	rec.take()

	exp, ok := ec.GrantedPermissions()["tabs"]
	assert.True(t, ok)
	assert.True(t, exp.Equal(expires))

	clock.Advance(9 * time.Second)
	assert.True(t, ec.HasPermission("tabs", nil, 0))
	assert.Empty(t, rec.kinds())

	clock.Advance(time.Second)
	assert.False(t, ec.HasPermission("tabs", nil, 0))
	assert.Equal(t, permissions.Unknown, ec.PermissionState("tabs", nil, 0))
	assert.Empty(t, ec.CurrentPermissions())
	changes := rec.take()
	require.Len(t, changes, 1)
	assert.Equal(t, webext.Change{Kind: webext.GrantedPermissionsWereRemoved, Permissions: []string{"tabs"}}, changes[0])

	// A later expiration extends an existing grant, an earlier one does not.
	ec.GrantPermissions([]string{"cookies"}, clock.Now().Add(time.Minute))
	ec.GrantPermissions([]string{"cookies"}, clock.Now().Add(time.Second))
	ec.GrantPermissions([]string{"cookies"}, time.Time{})
	assert.Equal(t, []webext.ChangeKind{webext.PermissionsWereGranted, webext.PermissionsWereGranted}, rec.kinds())
	assert.Equal(t, expiring.Never, ec.GrantedPermissions()["cookies"])

	// Expired entries are reported before the mutation that found them.
	ec.DenyPermissions([]string{"alarms"}, clock.Now().Add(time.Second))
	rec.take()
	clock.Advance(time.Second)
	ec.GrantPermissions([]string{"alarms"}, time.Time{})
	assert.Equal(t, []webext.ChangeKind{webext.DeniedPermissionsWereRemoved, webext.PermissionsWereGranted}, rec.kinds())
}

func TestExpiringPatterns(t *testing.T) {
	ec, clock, rec := newContext(t, permissionstestutil.NewMust("tabs", "https://*.example.com/*"))

	ec.SetPatternState(permissions.GrantedExplicitly, matchpattern.AllURLs(), clock.Now().Add(2*time.Second))
	assert.True(t, ec.HasAccessToAllURLs())
	assert.True(t, ec.HasAccessToURI("https://example.com/", nil, 0))
	assert.Equal(t, permissions.GrantedImplicitly, ec.URIState("https://example.com/", nil, 0))
	assert.Len(t, ec.GrantedPatterns(), 1)
	rec.take()

	clock.Advance(3 * time.Second)
	assert.False(t, ec.HasAccessToURI("https://example.com/", nil, 0))
	assert.Equal(t, permissions.RequestedExplicitly, ec.URIState("https://example.com/", nil, 0))
	assert.Equal(t, permissions.RequestedImplicitly, ec.PatternState(matchpattern.AllURLs(), nil, 0))
	assert.False(t, ec.HasAccessToAllURLs())
	assert.Empty(t, ec.GrantedPatterns())
	changes := rec.take()
	require.Len(t, changes, 1)
	assert.Equal(t, webext.GrantedPatternsWereRemoved, changes[0].Kind)
	assert.Equal(t, []matchpattern.Pattern{matchpattern.AllURLs()}, changes[0].Patterns)
}

func TestCacheCoherence(t *testing.T) {
	ec, _, _ := newContext(t, nil)
	uri := "https://example.com/index.html"
	pattern := permissionstestutil.PatternsMust("https://example.com/*")

	assert.Equal(t, permissions.Unknown, ec.URIState(uri, nil, permissions.SkipRequested))
	assert.False(t, ec.HasAccessToURI(uri, nil, 0))

	ec.GrantPatterns(pattern, time.Time{}, webext.EqualityOnly)
	assert.True(t, ec.HasAccessToURI(uri, nil, 0))
	assert.Equal(t, permissions.GrantedExplicitly, ec.URIState(uri, nil, 0))

	ec.DenyPatterns(pattern, time.Time{}, webext.EqualityOnly)
	assert.False(t, ec.HasAccessToURI(uri, nil, 0))
	assert.Equal(t, permissions.DeniedExplicitly, ec.URIState(uri, nil, 0))

	ec.ResetPatterns(pattern, webext.EqualityOnly)
	assert.Equal(t, permissions.Unknown, ec.URIState(uri, nil, 0))

	ec.GrantPatterns(pattern, time.Time{}, webext.EqualityOnly)
	assert.True(t, ec.HasAccessToURI(uri, nil, 0))
	ec.RemoveGrantedPatterns(pattern, webext.EqualityOnly)
	assert.False(t, ec.HasAccessToURI(uri, nil, 0))

	ec.DenyPatterns(pattern, time.Time{}, webext.EqualityOnly)
	assert.Equal(t, permissions.DeniedExplicitly, ec.URIState(uri, nil, 0))
	ec.RemoveDeniedPatterns(pattern, webext.EqualityOnly)
	assert.Equal(t, permissions.Unknown, ec.URIState(uri, nil, 0))
}

func TestPatternMatching(t *testing.T) {
	ec, _, rec := newContext(t, nil)
	ec.GrantPatterns(permissionstestutil.PatternsMust(
		"https://*.example.com/*",
		"https://www.example.com/a/*",
		"https://webkit.org/*",
	), time.Time{}, webext.EqualityOnly)
	rec.take()

	ec.DenyPatterns(permissionstestutil.PatternsMust("https://*.example.com/b/*"), time.Time{}, webext.EqualityOnly)
	assert.Len(t, ec.GrantedPatterns(), 3)
	assert.Equal(t, []webext.ChangeKind{webext.PatternsWereDenied}, rec.kinds())

	ec.DenyPatterns(permissionstestutil.PatternsMust("https://*.example.com/b/*"), time.Time{}, webext.IncludeContained)
	changes := rec.take()
	require.Len(t, changes, 1)
	assert.Equal(t, webext.GrantedPatternsWereRemoved, changes[0].Kind)
	assert.ElementsMatch(t,
		permissionstestutil.PatternsMust("https://*.example.com/*", "https://www.example.com/a/*"),
		changes[0].Patterns)
	assert.Equal(t, []string{"https://webkit.org/*"}, matchpattern.NewSet(keys(ec.GrantedPatterns())...).Strings())

	// Setting the state of a pattern that matches all hosts only removes
	// an equal pattern.
	ec.SetPatternState(permissions.DeniedExplicitly, matchpattern.New("*://*/*"), time.Time{})
	assert.Len(t, ec.GrantedPatterns(), 1)

	// A narrower grant leaves broader denials in place.
	ec.SetPatternState(permissions.GrantedExplicitly, matchpattern.New("https://www.example.com/b/c"), time.Time{})
	assert.Len(t, ec.DeniedPatterns(), 2)

	ec.SetPatternState(permissions.GrantedExplicitly, matchpattern.New("https://*.example.com/*"), time.Time{})
	assert.Equal(t, []string{"*://*/*"}, matchpattern.NewSet(keys(ec.DeniedPatterns())...).Strings())

	// Invalid patterns are ignored.
	rec.take()
	ec.GrantPatterns([]matchpattern.Pattern{matchpattern.New("bad")}, time.Time{}, webext.EqualityOnly)
	ec.ResetPatterns([]matchpattern.Pattern{{}}, webext.IncludeContained)
	ec.SetPatternState(permissions.Unknown, matchpattern.Pattern{}, time.Time{})
	assert.Empty(t, rec.kinds())
}

func TestSetStatePanics(t *testing.T) {
	ec, _, _ := newContext(t, nil)
	for _, state := range []permissions.State{
		permissions.GrantedImplicitly,
		permissions.DeniedImplicitly,
		permissions.RequestedExplicitly,
		permissions.RequestedImplicitly,
	} {
		assert.Panics(t, func() { ec.SetPermissionState(state, "tabs", time.Time{}) }, state.String())
		assert.Panics(t, func() { ec.SetURLState(state, mustURL(t, "https://example.com/"), time.Time{}) }, state.String())
		assert.Panics(t, func() { ec.SetPatternState(state, matchpattern.AllURLs(), time.Time{}) }, state.String())
	}
	assert.Empty(t, ec.GrantedPermissions())
	assert.Empty(t, ec.GrantedPatterns())
}

func TestMassSetters(t *testing.T) {
	ec, _, rec := newContext(t, nil)

	ec.SetGrantedPermissions(map[string]time.Time{"tabs": {}})
	assert.True(t, ec.HasPermission("tabs", nil, 0))
	ec.SetDeniedPermissions(map[string]time.Time{"tabs": {}})
	assert.False(t, ec.HasPermission("tabs", nil, 0))
	assert.Empty(t, ec.GrantedPermissions())
	assert.Equal(t, []string{"tabs"}, keys(ec.DeniedPermissions()))
	assert.Equal(t, []webext.ChangeKind{
		webext.PermissionsWereGranted,
		webext.GrantedPermissionsWereRemoved,
		webext.PermissionsWereDenied,
	}, rec.kinds())

	ec.SetGrantedPermissions(map[string]time.Time{"tabs": {}})
	assert.True(t, ec.HasPermission("tabs", nil, 0))
	assert.Empty(t, ec.DeniedPermissions())

	// Expired entries are dropped and existing entries are replaced.
	input := map[string]time.Time{
		"cookies": start.Add(-time.Second),
		"alarms":  start.Add(time.Hour),
		"":        {},
	}
	rec.take()
	ec.SetGrantedPermissions(input)
	assert.Len(t, input, 3)
	granted := ec.GrantedPermissions()
	assert.Equal(t, []string{"alarms"}, keys(granted))
	assert.True(t, granted["alarms"].Equal(start.Add(time.Hour)))
	assert.Equal(t, []webext.ChangeKind{webext.GrantedPermissionsWereRemoved, webext.PermissionsWereGranted}, rec.kinds())

	all := map[matchpattern.Pattern]time.Time{matchpattern.AllURLs(): {}, {}: {}}
	ec.SetGrantedPatterns(all)
	assert.True(t, ec.HasAccessToAllURLs())
	assert.Equal(t, permissions.GrantedImplicitly, ec.URIState("https://example.com/", nil, 0))
	assert.Len(t, ec.GrantedPatterns(), 1)
	assert.Empty(t, ec.DeniedPatterns())

	ec.SetDeniedPatterns(all)
	assert.False(t, ec.HasAccessToAllURLs())
	assert.False(t, ec.HasAccessToURI("https://example.com/", nil, 0))
	assert.Len(t, ec.DeniedPatterns(), 1)
	assert.Empty(t, ec.GrantedPatterns())

	ec.SetGrantedPatterns(all)
	assert.True(t, ec.HasAccessToURI("https://example.com/", nil, 0))
	assert.Empty(t, ec.DeniedPatterns())

	ec.SetGrantedPermissions(nil)
	ec.SetDeniedPermissions(nil)
	ec.SetGrantedPatterns(nil)
	ec.SetDeniedPatterns(nil)
	assert.Empty(t, ec.GrantedPermissions())
	assert.Empty(t, ec.DeniedPermissions())
	assert.Empty(t, ec.GrantedPatterns())
	assert.Empty(t, ec.DeniedPatterns())
}

// TestPermissionGranting follows a typical sequence of changes made by
// an embedder in response to user choices.
func TestPermissionGranting(t *testing.T) {
	ec, clock, _ := newContext(t, permissionstestutil.NewMust("tabs", "https://*.example.com/*"))
	example := mustURL(t, "https://example.com/")

	assert.False(t, ec.HasPermission("tabs", nil, 0))
	assert.False(t, ec.HasPermission("cookies", nil, 0))
	assert.False(t, ec.HasAccessToAllURLs())
	assert.False(t, ec.HasAccessToAllHosts())
	assert.False(t, ec.HasAccessToURI("https://example.com/", nil, 0))
	assert.False(t, ec.HasAccessToURI("https://webkit.org", nil, 0))
	assert.Equal(t, permissions.RequestedExplicitly, ec.PermissionState("tabs", nil, 0))
	assert.Equal(t, permissions.Unknown, ec.PermissionState("cookies", nil, 0))
	assert.Equal(t, permissions.RequestedExplicitly, ec.URIState("https://example.com/", nil, 0))
	assert.Equal(t, permissions.Unknown, ec.URIState("https://webkit.org/", nil, 0))

	ec.SetPermissionState(permissions.GrantedExplicitly, "tabs", time.Time{})
	assert.True(t, ec.HasPermission("tabs", nil, 0))
	assert.Len(t, ec.GrantedPermissions(), 1)

	ec.SetURLState(permissions.GrantedExplicitly, example, time.Time{})
	assert.True(t, ec.HasAccessToURL(example, nil, 0))
	assert.Len(t, ec.GrantedPatterns(), 1)

	ec.SetURLState(permissions.DeniedExplicitly, example, time.Time{})
	assert.False(t, ec.HasAccessToURL(example, nil, 0))
	assert.Empty(t, ec.GrantedPatterns())
	assert.Len(t, ec.DeniedPatterns(), 1)

	ec.SetPermissionState(permissions.DeniedExplicitly, "tabs", time.Time{})
	assert.Empty(t, ec.GrantedPermissions())
	assert.Len(t, ec.DeniedPermissions(), 1)

	ec.SetURLState(permissions.Unknown, example, time.Time{})
	ec.SetPermissionState(permissions.Unknown, "tabs", time.Time{})
	assert.Empty(t, ec.GrantedPermissions())
	assert.Empty(t, ec.DeniedPermissions())
	assert.Empty(t, ec.GrantedPatterns())
	assert.Empty(t, ec.DeniedPatterns())

	ec.SetPatternState(permissions.GrantedExplicitly, matchpattern.AllURLs(), time.Time{})
	assert.Len(t, ec.GrantedPatterns(), 1)
	assert.True(t, ec.HasAccessToURL(example, nil, 0))
	assert.Equal(t, permissions.GrantedImplicitly, ec.URLState(example, nil, 0))
	assert.Equal(t, permissions.GrantedImplicitly, ec.URIState("https://webkit.org/", nil, 0))

	// Resetting a URL does not affect a pattern that matches all hosts.
	ec.SetURLState(permissions.Unknown, example, time.Time{})
	assert.Len(t, ec.GrantedPatterns(), 1)
	assert.Equal(t, permissions.GrantedImplicitly, ec.URLState(example, nil, 0))

	ec.SetURLState(permissions.DeniedExplicitly, example, time.Time{})
	assert.Len(t, ec.GrantedPatterns(), 1)
	assert.Len(t, ec.DeniedPatterns(), 1)
	assert.False(t, ec.HasAccessToURL(example, nil, 0))
	assert.Equal(t, permissions.DeniedExplicitly, ec.URLState(example, nil, 0))
	assert.Equal(t, permissions.GrantedImplicitly, ec.URIState("https://webkit.org/", nil, 0))

	ec.SetGrantedPatterns(nil)
	ec.SetDeniedPatterns(nil)
	assert.Empty(t, ec.GrantedPatterns())
	assert.Empty(t, ec.DeniedPatterns())

	// Expiring grants.
	ec.SetPatternState(permissions.GrantedExplicitly, matchpattern.AllURLs(), clock.Now().Add(2*time.Second))
	assert.True(t, ec.HasAccessToAllURLs())
	assert.Equal(t, permissions.GrantedImplicitly, ec.URLState(example, nil, 0))
	clock.Advance(3 * time.Second)
	assert.False(t, ec.HasAccessToAllURLs())
	assert.Equal(t, permissions.RequestedExplicitly, ec.URLState(example, nil, 0))
	assert.Empty(t, ec.GrantedPatterns())

	ec.SetPermissionState(permissions.GrantedExplicitly, "tabs", clock.Now().Add(2*time.Second))
	assert.True(t, ec.HasPermission("tabs", nil, 0))
	clock.Advance(3 * time.Second)
	assert.False(t, ec.HasPermission("tabs", nil, 0))
	assert.Empty(t, ec.GrantedPermissions())
}

func TestObserverReentrancy(t *testing.T) {
	var seen []string
	var ec *webext.Context
	obs := webext.ObserverFunc(func(c webext.Change) {
		// Observers are called without the lock held.
		seen = append(seen, ec.CurrentPermissions()...)
	})
	ec, _, _ = newContext(t, nil, webext.WithObserver(obs))
	ec.GrantPermissions([]string{"tabs"}, time.Time{})
	assert.True(t, slices.Equal([]string{"tabs"}, seen))
}
