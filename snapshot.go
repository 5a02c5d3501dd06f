// Copyright 2026 cloudeng llc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package webext

import (
	"time"

	"cloudeng.io/errors"
	"cloudeng.io/webext/matchpattern"
	"cloudeng.io/webext/store"
)

// Snapshot returns the unexpired stored state in a form suitable for
// persisting.
func (ec *Context) Snapshot() store.Snapshot {
	ec.lock()
	defer ec.unlock()
	return store.Snapshot{
		GrantedPermissions: ec.grantedPermissions.Entries(),
		DeniedPermissions:  ec.deniedPermissions.Entries(),
		GrantedPatterns:    patternKeys(ec.grantedPatterns.Entries()),
		DeniedPatterns:     patternKeys(ec.deniedPatterns.Entries()),
	}
}

func patternKeys(entries map[matchpattern.Pattern]time.Time) map[string]time.Time {
	out := make(map[string]time.Time, len(entries))
	for p, exp := range entries {
		out[p.String()] = exp
	}
	return out
}

// Restore replaces the stored state with that in snap. Patterns that
// cannot be parsed are skipped and reported in the returned error, all
// other entries are restored regardless. The new state is installed
// atomically, readers never observe a partially restored state.
func (ec *Context) Restore(snap store.Snapshot) error {
	var errs errors.M
	granted := parsePatternKeys(snap.GrantedPatterns, &errs)
	denied := parsePatternKeys(snap.DeniedPatterns, &errs)
	ec.lock()
	defer ec.unlock()
	ec.setPermissions(snap.GrantedPermissions, true)
	ec.setPermissions(snap.DeniedPermissions, false)
	ec.setPatterns(granted, true)
	ec.setPatterns(denied, false)
	return errs.Err()
}

func parsePatternKeys(entries map[string]time.Time, errs *errors.M) map[matchpattern.Pattern]time.Time {
	out := make(map[matchpattern.Pattern]time.Time, len(entries))
	for s, exp := range entries {
		p, err := matchpattern.Parse(s)
		if err != nil {
			errs.Append(err)
			continue
		}
		out[p] = exp
	}
	return out
}
