// Copyright 2026 cloudeng llc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package permissions

import (
	"slices"
)

// Supported permission names.
const (
	ActiveTab                           = "activeTab"
	Alarms                              = "alarms"
	ClipboardWrite                      = "clipboardWrite"
	ContextMenus                        = "contextMenus"
	Cookies                             = "cookies"
	DeclarativeNetRequest               = "declarativeNetRequest"
	DeclarativeNetRequestFeedback       = "declarativeNetRequestFeedback"
	DeclarativeNetRequestWithHostAccess = "declarativeNetRequestWithHostAccess"
	Menus                               = "menus"
	NativeMessaging                     = "nativeMessaging"
	Notifications                       = "notifications"
	Scripting                           = "scripting"
	Storage                             = "storage"
	Tabs                                = "tabs"
	UnlimitedStorage                    = "unlimitedStorage"
	WebNavigation                       = "webNavigation"
	WebRequest                          = "webRequest"
	SidePanel                           = "sidePanel"
)

var supported = NewSet(
	ActiveTab,
	Alarms,
	ClipboardWrite,
	ContextMenus,
	Cookies,
	DeclarativeNetRequest,
	DeclarativeNetRequestFeedback,
	DeclarativeNetRequestWithHostAccess,
	Menus,
	NativeMessaging,
	Notifications,
	Scripting,
	Storage,
	Tabs,
	UnlimitedStorage,
	WebNavigation,
	WebRequest,
	SidePanel,
)

// Supported returns a copy of the set of supported permission names.
func Supported() Set {
	return supported.Clone()
}

// IsSupported returns true if name is a supported permission.
func IsSupported(name string) bool {
	return supported.Contains(name)
}

// Set represents a set of permission names.
type Set map[string]struct{}

// NewSet returns a set containing the non-empty names.
func NewSet(names ...string) Set {
	s := make(Set, len(names))
	s.Add(names...)
	return s
}

// Add adds the non-empty names to the set.
func (s Set) Add(names ...string) {
	for _, n := range names {
		if len(n) > 0 {
			s[n] = struct{}{}
		}
	}
}

// Contains returns true if name is in the set.
func (s Set) Contains(name string) bool {
	_, ok := s[name]
	return ok
}

// Clone returns a copy of the set.
func (s Set) Clone() Set {
	c := make(Set, len(s))
	for n := range s {
		c[n] = struct{}{}
	}
	return c
}

// Sorted returns the members of the set in sorted order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}
