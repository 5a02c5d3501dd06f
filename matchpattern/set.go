// Copyright 2026 cloudeng llc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package matchpattern

import (
	"net/url"
	"slices"
	"strings"

	"cloudeng.io/errors"
)

// Set represents a set of valid patterns.
type Set map[Pattern]struct{}

// NewSet returns a set containing the valid patterns in patterns.
func NewSet(patterns ...Pattern) Set {
	s := make(Set, len(patterns))
	s.Add(patterns...)
	return s
}

// ParseSet parses each of the supplied strings and returns a set of
// those that are valid along with an error describing those that are not.
func ParseSet(patterns ...string) (Set, error) {
	var errs errors.M
	s := make(Set, len(patterns))
	for _, str := range patterns {
		p, err := Parse(str)
		if err != nil {
			errs.Append(err)
			continue
		}
		s[p] = struct{}{}
	}
	return s, errs.Err()
}

// Add adds the valid patterns in patterns to the set.
func (s Set) Add(patterns ...Pattern) {
	for _, p := range patterns {
		if p.valid {
			s[p] = struct{}{}
		}
	}
}

// Contains returns true if p is a member of the set.
func (s Set) Contains(p Pattern) bool {
	_, ok := s[p]
	return ok
}

// Len returns the number of patterns in the set.
func (s Set) Len() int {
	return len(s)
}

// Sorted returns the members of the set ordered by their string form.
func (s Set) Sorted() []Pattern {
	out := make([]Pattern, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Pattern) int {
		return strings.Compare(a.String(), b.String())
	})
	return out
}

// Strings returns the sorted string forms of the set's members.
func (s Set) Strings() []string {
	out := make([]string, 0, len(s))
	for _, p := range s.Sorted() {
		out = append(out, p.String())
	}
	return out
}

// MatchesURL returns true if any member of the set matches u.
func (s Set) MatchesURL(u *url.URL) bool {
	for p := range s {
		if p.MatchesURL(u) {
			return true
		}
	}
	return false
}

// MatchesPattern returns true if any member of the set matches
// pattern as per Pattern.MatchesPattern.
func (s Set) MatchesPattern(pattern Pattern, opts ...MatchOption) bool {
	for p := range s {
		if p.MatchesPattern(pattern, opts...) {
			return true
		}
	}
	return false
}
