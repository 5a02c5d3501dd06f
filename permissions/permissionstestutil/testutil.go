// Copyright 2026 cloudeng llc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package permissionstestutil provides fakes for use in tests that
// evaluate extension permissions.
package permissionstestutil

import (
	"strings"
	"sync"
	"time"

	"cloudeng.io/webext/matchpattern"
	"cloudeng.io/webext/permissions"
)

// Extension is a fake extension whose requested and optional
// permissions and patterns are set directly.
type Extension struct {
	Requested         permissions.Set
	RequestedPatterns matchpattern.Set
	Optional          permissions.Set
	OptionalPatterns  matchpattern.Set
}

func isPattern(s string) bool {
	return s == matchpattern.AllURLsString || strings.Contains(s, "://")
}

func split(namesAndPatterns []string) (permissions.Set, matchpattern.Set, error) {
	names := permissions.NewSet()
	var patterns []string
	for _, s := range namesAndPatterns {
		if isPattern(s) {
			patterns = append(patterns, s)
			continue
		}
		names.Add(s)
	}
	ps, err := matchpattern.ParseSet(patterns...)
	return names, ps, err
}

// New creates a fake extension from a list of permission names and match
// patterns, as they would appear in the permissions section of a version
// 2 manifest.
func New(namesAndPatterns ...string) (*Extension, error) {
	names, patterns, err := split(namesAndPatterns)
	if err != nil {
		return nil, err
	}
	return &Extension{
		Requested:         names,
		RequestedPatterns: patterns,
		Optional:          permissions.NewSet(),
		OptionalPatterns:  matchpattern.NewSet(),
	}, nil
}

// NewMust is like New but panics on error.
func NewMust(namesAndPatterns ...string) *Extension {
	ext, err := New(namesAndPatterns...)
	if err != nil {
		panic(err)
	}
	return ext
}

// WithOptionalMust adds optional permission names and patterns to the
// extension and panics on error.
func (e *Extension) WithOptionalMust(namesAndPatterns ...string) *Extension {
	names, patterns, err := split(namesAndPatterns)
	if err != nil {
		panic(err)
	}
	e.Optional, e.OptionalPatterns = names, patterns
	return e
}

// AllRequestedMatchPatterns implements webext.Extension.
func (e *Extension) AllRequestedMatchPatterns() matchpattern.Set {
	return e.RequestedPatterns
}

// OptionalPermissions implements webext.Extension.
func (e *Extension) OptionalPermissions() permissions.Set {
	return e.Optional
}

// OptionalPermissionMatchPatterns implements webext.Extension.
func (e *Extension) OptionalPermissionMatchPatterns() matchpattern.Set {
	return e.OptionalPatterns
}

// HasRequestedPermission implements webext.Extension.
func (e *Extension) HasRequestedPermission(name string) bool {
	return e.Requested.Contains(name)
}

// Tab is a fake tab with an optional temporary grant.
type Tab struct {
	Pattern   matchpattern.Pattern
	Temporary bool
}

// NewTabMust returns a tab with a temporary grant for pattern, it panics
// if pattern is not valid.
func NewTabMust(pattern string) *Tab {
	p, err := matchpattern.Parse(pattern)
	if err != nil {
		panic(err)
	}
	return &Tab{Pattern: p, Temporary: true}
}

// TemporaryPermissionMatchPattern implements webext.Tab.
func (t *Tab) TemporaryPermissionMatchPattern() (matchpattern.Pattern, bool) {
	return t.Pattern, t.Pattern.IsValid()
}

// HasTemporaryPermission implements webext.Tab.
func (t *Tab) HasTemporaryPermission() bool {
	return t.Temporary
}

// PatternsMust parses the supplied patterns and panics on error.
func PatternsMust(patterns ...string) []matchpattern.Pattern {
	out := make([]matchpattern.Pattern, 0, len(patterns))
	for _, s := range patterns {
		p, err := matchpattern.Parse(s)
		if err != nil {
			panic(err)
		}
		out = append(out, p)
	}
	return out
}

// Clock is a manually advanced clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock set to start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the clock's current time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
