// Copyright 2026 cloudeng llc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package webext

import (
	"fmt"
	"maps"
	"net/url"
	"slices"
	"strings"
	"time"

	"cloudeng.io/webext/expiring"
	"cloudeng.io/webext/matchpattern"
	"cloudeng.io/webext/permissions"
)

// Matching determines which stored patterns are removed when patterns
// are granted, denied or reset.
type Matching int

const (
	// EqualityOnly removes only stored patterns equal to one of those
	// supplied.
	EqualityOnly Matching = iota
	// IncludeContained also removes stored patterns whose hosts are
	// contained by one of those supplied, paths are ignored.
	IncludeContained
)

func nonEmpty(names []string) []string {
	return slices.DeleteFunc(slices.Clone(names), func(n string) bool { return len(n) == 0 })
}

func validPatterns(patterns []matchpattern.Pattern) []matchpattern.Pattern {
	return slices.DeleteFunc(slices.Clone(patterns), func(p matchpattern.Pattern) bool { return !p.IsValid() })
}

func patternStrings(patterns []matchpattern.Pattern) string {
	s := make([]string, len(patterns))
	for i, p := range patterns {
		s[i] = p.String()
	}
	return strings.Join(s, ",")
}

func removeMatching(set *expiring.Set[matchpattern.Pattern], patterns []matchpattern.Pattern, m Matching) []matchpattern.Pattern {
	if m == EqualityOnly {
		return set.Remove(patterns...)
	}
	return set.RemoveFunc(func(stored matchpattern.Pattern) bool {
		for _, p := range patterns {
			if p == stored || p.MatchesPattern(stored, matchpattern.IgnorePaths) {
				return true
			}
		}
		return false
	})
}

// sweep removes expired entries from all of the stored sets so that
// their removal is reported before any change made by a mutation.
func (ec *Context) sweep() {
	ec.grantedPermissions.Sweep()
	ec.deniedPermissions.Sweep()
	ec.grantedPatterns.Sweep()
	ec.deniedPatterns.Sweep()
}

// GrantPermissions grants the named permissions until expiration, a zero
// expiration grants them indefinitely. The permissions are no longer
// denied.
func (ec *Context) GrantPermissions(names []string, expiration time.Time) {
	ec.lock()
	defer ec.unlock()
	ec.addPermissions(names, expiration, true)
}

// DenyPermissions denies the named permissions until expiration, a zero
// expiration denies them indefinitely. The permissions are no longer
// granted.
func (ec *Context) DenyPermissions(names []string, expiration time.Time) {
	ec.lock()
	defer ec.unlock()
	ec.addPermissions(names, expiration, false)
}

func (ec *Context) addPermissions(names []string, expiration time.Time, grant bool) {
	names = nonEmpty(names)
	if len(names) == 0 {
		return
	}
	ec.sweep()
	set, opposite := ec.grantedPermissions, ec.deniedPermissions
	addedKind, removedKind := PermissionsWereGranted, DeniedPermissionsWereRemoved
	if !grant {
		set, opposite = opposite, set
		addedKind, removedKind = PermissionsWereDenied, GrantedPermissionsWereRemoved
	}
	removed := opposite.Remove(names...)
	added := set.Add(names, expiration)
	ec.notify(removedKind, removed)
	ec.notify(addedKind, added)
	if len(added) > 0 || len(removed) > 0 {
		ec.cache.Invalidate()
		ec.opts.logger.Info("permissions changed", "kind", addedKind.String(), "permissions", names, "expiration", expiration)
	}
}

// RemoveGrantedPermissions removes the named permissions from those granted.
func (ec *Context) RemoveGrantedPermissions(names ...string) {
	ec.lock()
	defer ec.unlock()
	ec.removePermissions(names, true, false)
}

// RemoveDeniedPermissions removes the named permissions from those denied.
func (ec *Context) RemoveDeniedPermissions(names ...string) {
	ec.lock()
	defer ec.unlock()
	ec.removePermissions(names, false, true)
}

// ResetPermissions removes the named permissions from both those granted
// and those denied.
func (ec *Context) ResetPermissions(names ...string) {
	ec.lock()
	defer ec.unlock()
	ec.removePermissions(names, true, true)
}

func (ec *Context) removePermissions(names []string, granted, denied bool) {
	names = nonEmpty(names)
	if len(names) == 0 {
		return
	}
	ec.sweep()
	var changed bool
	if granted {
		removed := ec.grantedPermissions.Remove(names...)
		ec.notify(GrantedPermissionsWereRemoved, removed)
		changed = len(removed) > 0
	}
	if denied {
		removed := ec.deniedPermissions.Remove(names...)
		ec.notify(DeniedPermissionsWereRemoved, removed)
		changed = changed || len(removed) > 0
	}
	if changed {
		ec.cache.Invalidate()
	}
}

// GrantPatterns grants the supplied patterns until expiration, a zero
// expiration grants them indefinitely. Denied patterns are removed as
// per m. Invalid patterns are ignored.
func (ec *Context) GrantPatterns(patterns []matchpattern.Pattern, expiration time.Time, m Matching) {
	ec.lock()
	defer ec.unlock()
	ec.addPatterns(patterns, expiration, m, true)
}

// DenyPatterns denies the supplied patterns until expiration, a zero
// expiration denies them indefinitely. Granted patterns are removed as
// per m. Invalid patterns are ignored.
func (ec *Context) DenyPatterns(patterns []matchpattern.Pattern, expiration time.Time, m Matching) {
	ec.lock()
	defer ec.unlock()
	ec.addPatterns(patterns, expiration, m, false)
}

func (ec *Context) addPatterns(patterns []matchpattern.Pattern, expiration time.Time, m Matching, grant bool) {
	patterns = validPatterns(patterns)
	if len(patterns) == 0 {
		return
	}
	ec.sweep()
	set, opposite := ec.grantedPatterns, ec.deniedPatterns
	addedKind, removedKind := PatternsWereGranted, DeniedPatternsWereRemoved
	if !grant {
		set, opposite = opposite, set
		addedKind, removedKind = PatternsWereDenied, GrantedPatternsWereRemoved
	}
	removed := removeMatching(opposite, patterns, m)
	added := set.Add(patterns, expiration)
	ec.notifyPatterns(removedKind, removed)
	ec.notifyPatterns(addedKind, added)
	if len(added) > 0 || len(removed) > 0 {
		ec.cache.Invalidate()
		ec.opts.logger.Info("match patterns changed", "kind", addedKind.String(), "patterns", patternStrings(patterns), "expiration", expiration)
	}
}

// RemoveGrantedPatterns removes patterns, as per m, from those granted.
func (ec *Context) RemoveGrantedPatterns(patterns []matchpattern.Pattern, m Matching) {
	ec.lock()
	defer ec.unlock()
	ec.removePatterns(patterns, m, true, false)
}

// RemoveDeniedPatterns removes patterns, as per m, from those denied.
func (ec *Context) RemoveDeniedPatterns(patterns []matchpattern.Pattern, m Matching) {
	ec.lock()
	defer ec.unlock()
	ec.removePatterns(patterns, m, false, true)
}

// ResetPatterns removes patterns, as per m, from both those granted and
// those denied.
func (ec *Context) ResetPatterns(patterns []matchpattern.Pattern, m Matching) {
	ec.lock()
	defer ec.unlock()
	ec.removePatterns(patterns, m, true, true)
}

func (ec *Context) removePatterns(patterns []matchpattern.Pattern, m Matching, granted, denied bool) {
	patterns = validPatterns(patterns)
	if len(patterns) == 0 {
		return
	}
	ec.sweep()
	var changed bool
	if granted {
		removed := removeMatching(ec.grantedPatterns, patterns, m)
		ec.notifyPatterns(GrantedPatternsWereRemoved, removed)
		changed = len(removed) > 0
	}
	if denied {
		removed := removeMatching(ec.deniedPatterns, patterns, m)
		ec.notifyPatterns(DeniedPatternsWereRemoved, removed)
		changed = changed || len(removed) > 0
	}
	if changed {
		ec.cache.Invalidate()
	}
}

func mustBeSettable(state permissions.State) {
	if !state.Settable() {
		panic(fmt.Sprintf("webext: permission state %v cannot be set directly", state))
	}
}

// SetPermissionState sets the state of the named permission. Only
// GrantedExplicitly, DeniedExplicitly and Unknown, which resets the
// permission, may be set, any other state results in a panic.
func (ec *Context) SetPermissionState(state permissions.State, name string, expiration time.Time) {
	mustBeSettable(state)
	switch state {
	case permissions.GrantedExplicitly:
		ec.GrantPermissions([]string{name}, expiration)
	case permissions.DeniedExplicitly:
		ec.DenyPermissions([]string{name}, expiration)
	default:
		ec.ResetPermissions(name)
	}
}

// SetURLState sets the state of the scheme and host of u, see
// SetPatternState.
func (ec *Context) SetURLState(state permissions.State, u *url.URL, expiration time.Time) {
	mustBeSettable(state)
	ec.SetPatternState(state, matchpattern.FromURL(u), expiration)
}

// SetPatternState sets the state of the supplied pattern. Setting the
// state of a pattern that does not match all hosts also removes any
// patterns it contains from the opposite state. Only GrantedExplicitly,
// DeniedExplicitly and Unknown, which resets the pattern, may be set, any
// other state results in a panic.
func (ec *Context) SetPatternState(state permissions.State, pattern matchpattern.Pattern, expiration time.Time) {
	mustBeSettable(state)
	m := IncludeContained
	if pattern.MatchesAllHosts() {
		m = EqualityOnly
	}
	patterns := []matchpattern.Pattern{pattern}
	switch state {
	case permissions.GrantedExplicitly:
		ec.GrantPatterns(patterns, expiration, m)
	case permissions.DeniedExplicitly:
		ec.DenyPatterns(patterns, expiration, m)
	default:
		ec.ResetPatterns(patterns, m)
	}
}

// replace replaces the contents of set with those entries that have not
// yet expired and returns the keys that were added or had their
// expiration changed, those that were removed and those now present.
func replace[K comparable](set *expiring.Set[K], entries map[K]time.Time, now time.Time) (added, removed, present []K) {
	prev := set.Entries()
	set.Clear()
	for k, exp := range entries {
		if exp.IsZero() {
			exp = expiring.Never
		}
		if !now.Before(exp) {
			continue
		}
		set.Add([]K{k}, exp)
		present = append(present, k)
		if old, ok := prev[k]; !ok || !old.Equal(exp) {
			added = append(added, k)
		}
		delete(prev, k)
	}
	for k := range prev {
		removed = append(removed, k)
	}
	return
}

// SetGrantedPermissions replaces all granted permissions with entries,
// a map of permission name to expiration. The permissions are no longer
// denied. Entries that have already expired are ignored.
func (ec *Context) SetGrantedPermissions(entries map[string]time.Time) {
	ec.lock()
	defer ec.unlock()
	ec.setPermissions(entries, true)
}

// SetDeniedPermissions replaces all denied permissions with entries,
// a map of permission name to expiration. The permissions are no longer
// granted. Entries that have already expired are ignored.
func (ec *Context) SetDeniedPermissions(entries map[string]time.Time) {
	ec.lock()
	defer ec.unlock()
	ec.setPermissions(entries, false)
}

func (ec *Context) setPermissions(entries map[string]time.Time, grant bool) {
	entries = maps.Clone(entries)
	delete(entries, "")
	ec.sweep()
	set, opposite := ec.grantedPermissions, ec.deniedPermissions
	addedKind, removedKind, oppositeKind := PermissionsWereGranted, GrantedPermissionsWereRemoved, DeniedPermissionsWereRemoved
	if !grant {
		set, opposite = opposite, set
		addedKind, removedKind, oppositeKind = PermissionsWereDenied, DeniedPermissionsWereRemoved, GrantedPermissionsWereRemoved
	}
	added, removed, present := replace(set, entries, ec.opts.now())
	fromOpposite := opposite.Remove(present...)
	ec.notify(removedKind, removed)
	ec.notify(oppositeKind, fromOpposite)
	ec.notify(addedKind, added)
	ec.cache.Invalidate()
}

// SetGrantedPatterns replaces all granted patterns with entries, a map
// of pattern to expiration. The patterns are no longer denied. Invalid
// patterns and entries that have already expired are ignored.
func (ec *Context) SetGrantedPatterns(entries map[matchpattern.Pattern]time.Time) {
	ec.lock()
	defer ec.unlock()
	ec.setPatterns(entries, true)
}

// SetDeniedPatterns replaces all denied patterns with entries, a map
// of pattern to expiration. The patterns are no longer granted. Invalid
// patterns and entries that have already expired are ignored.
func (ec *Context) SetDeniedPatterns(entries map[matchpattern.Pattern]time.Time) {
	ec.lock()
	defer ec.unlock()
	ec.setPatterns(entries, false)
}

func (ec *Context) setPatterns(entries map[matchpattern.Pattern]time.Time, grant bool) {
	valid := make(map[matchpattern.Pattern]time.Time, len(entries))
	for p, exp := range entries {
		if p.IsValid() {
			valid[p] = exp
		}
	}
	ec.sweep()
	set, opposite := ec.grantedPatterns, ec.deniedPatterns
	addedKind, removedKind, oppositeKind := PatternsWereGranted, GrantedPatternsWereRemoved, DeniedPatternsWereRemoved
	if !grant {
		set, opposite = opposite, set
		addedKind, removedKind, oppositeKind = PatternsWereDenied, DeniedPatternsWereRemoved, GrantedPatternsWereRemoved
	}
	added, removed, present := replace(set, valid, ec.opts.now())
	fromOpposite := removeMatching(opposite, present, EqualityOnly)
	ec.notifyPatterns(removedKind, removed)
	ec.notifyPatterns(oppositeKind, fromOpposite)
	ec.notifyPatterns(addedKind, added)
	ec.cache.Invalidate()
}

// GrantedPermissions returns the unexpired granted permissions and their
// expiration times.
func (ec *Context) GrantedPermissions() map[string]time.Time {
	ec.lock()
	defer ec.unlock()
	return ec.grantedPermissions.Entries()
}

// DeniedPermissions returns the unexpired denied permissions and their
// expiration times.
func (ec *Context) DeniedPermissions() map[string]time.Time {
	ec.lock()
	defer ec.unlock()
	return ec.deniedPermissions.Entries()
}

// GrantedPatterns returns the unexpired granted patterns and their
// expiration times.
func (ec *Context) GrantedPatterns() map[matchpattern.Pattern]time.Time {
	ec.lock()
	defer ec.unlock()
	return ec.grantedPatterns.Entries()
}

// DeniedPatterns returns the unexpired denied patterns and their
// expiration times.
func (ec *Context) DeniedPatterns() map[matchpattern.Pattern]time.Time {
	ec.lock()
	defer ec.unlock()
	return ec.deniedPatterns.Entries()
}

// CurrentPermissions returns the sorted names of the unexpired granted
// permissions.
func (ec *Context) CurrentPermissions() []string {
	ec.lock()
	defer ec.unlock()
	names := ec.grantedPermissions.Keys()
	slices.Sort(names)
	return names
}

// CurrentPatterns returns the unexpired granted patterns sorted by their
// string form.
func (ec *Context) CurrentPatterns() []matchpattern.Pattern {
	ec.lock()
	defer ec.unlock()
	return matchpattern.NewSet(ec.grantedPatterns.Keys()...).Sorted()
}
