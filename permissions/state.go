// Copyright 2026 cloudeng llc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package permissions defines the vocabulary used to describe the
// permission state of an extension: the seven valued State lattice,
// the options that modify how a state is determined and the set of
// named permissions that an extension may request.
package permissions

import (
	"fmt"
)

// State represents the permission state of a named permission, URL or
// match pattern. The values are ordered from least to most permissive.
type State int

const (
	Unknown State = iota
	DeniedExplicitly
	DeniedImplicitly
	RequestedImplicitly
	RequestedExplicitly
	GrantedImplicitly
	GrantedExplicitly
)

var stateNames = [...]string{
	Unknown:             "unknown",
	DeniedExplicitly:    "denied_explicitly",
	DeniedImplicitly:    "denied_implicitly",
	RequestedImplicitly: "requested_implicitly",
	RequestedExplicitly: "requested_explicitly",
	GrantedImplicitly:   "granted_implicitly",
	GrantedExplicitly:   "granted_explicitly",
}

// String implements fmt.Stringer.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(stateNames) {
		return nil, fmt.Errorf("invalid permission state: %d", int(s))
	}
	return []byte(stateNames[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	st, err := ParseState(string(text))
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// ParseState returns the State named by name.
func ParseState(name string) (State, error) {
	for i, n := range stateNames {
		if n == name {
			return State(i), nil
		}
	}
	return Unknown, fmt.Errorf("unrecognised permission state: %q", name)
}

// IsGranted returns true for GrantedExplicitly and GrantedImplicitly.
func (s State) IsGranted() bool {
	return s == GrantedExplicitly || s == GrantedImplicitly
}

// IsRequested returns true for RequestedExplicitly and RequestedImplicitly.
func (s State) IsRequested() bool {
	return s == RequestedExplicitly || s == RequestedImplicitly
}

// IsDenied returns true for DeniedExplicitly and DeniedImplicitly.
func (s State) IsDenied() bool {
	return s == DeniedExplicitly || s == DeniedImplicitly
}

// Settable returns true for the states that may be assigned directly,
// namely GrantedExplicitly, DeniedExplicitly and Unknown (which resets
// any stored state).
func (s State) Settable() bool {
	return s == GrantedExplicitly || s == DeniedExplicitly || s == Unknown
}

// Options modify how a permission state is determined.
type Options int

const (
	// SkipRequested stops evaluation before any requested state is
	// considered, so that the result is granted, denied or unknown.
	SkipRequested Options = 1 << iota
	// IncludeOptional treats optional permissions and patterns as
	// implicitly requested.
	IncludeOptional
	// RequestedWithTabsPermission treats URLs as implicitly requested
	// when the tabs permission is held.
	RequestedWithTabsPermission
)

// Has returns true if all of the options in o are set.
func (opts Options) Has(o Options) bool {
	return opts&o == o
}
