// Copyright 2026 cloudeng llc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package webext

import (
	"fmt"

	"cloudeng.io/webext/matchpattern"
)

// ChangeKind identifies the kind of change reported to an Observer.
type ChangeKind int

const (
	PermissionsWereGranted ChangeKind = iota
	PermissionsWereDenied
	GrantedPermissionsWereRemoved
	DeniedPermissionsWereRemoved
	PatternsWereGranted
	PatternsWereDenied
	GrantedPatternsWereRemoved
	DeniedPatternsWereRemoved
)

var changeKindNames = [...]string{
	PermissionsWereGranted:        "permissions-were-granted",
	PermissionsWereDenied:         "permissions-were-denied",
	GrantedPermissionsWereRemoved: "granted-permissions-were-removed",
	DeniedPermissionsWereRemoved:  "denied-permissions-were-removed",
	PatternsWereGranted:           "patterns-were-granted",
	PatternsWereDenied:            "patterns-were-denied",
	GrantedPatternsWereRemoved:    "granted-patterns-were-removed",
	DeniedPatternsWereRemoved:     "denied-patterns-were-removed",
}

// String implements fmt.Stringer.
func (k ChangeKind) String() string {
	if k < 0 || int(k) >= len(changeKindNames) {
		return fmt.Sprintf("ChangeKind(%d)", int(k))
	}
	return changeKindNames[k]
}

// IsPatternChange returns true if the change concerns match patterns
// rather than named permissions.
func (k ChangeKind) IsPatternChange() bool {
	return k >= PatternsWereGranted
}

// Change describes a change to the stored permission state. Exactly one
// of Permissions and Patterns is populated, according to Kind.
type Change struct {
	Kind        ChangeKind
	Permissions []string
	Patterns    []matchpattern.Pattern
}

// Observer is notified of every change to the stored permission state,
// including entries removed because they expired. Observers are called
// synchronously, in the order that the changes occurred, once the
// Context is no longer locked and hence may safely call back into it.
type Observer interface {
	PermissionsChanged(Change)
}

// ObserverFunc is an adapter to allow the use of ordinary functions
// as Observers.
type ObserverFunc func(Change)

// PermissionsChanged implements Observer.
func (fn ObserverFunc) PermissionsChanged(c Change) {
	fn(c)
}
