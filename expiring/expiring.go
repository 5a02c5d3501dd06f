// Copyright 2026 cloudeng llc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package expiring provides a set whose members each carry an
// expiration time and which are removed, lazily, once that time has
// passed. A watermark records the earliest expiration in the set so
// that the common case of nothing having expired costs a single
// comparison.
package expiring

import (
	"maps"
	"time"
)

// Never is the expiration used for entries that do not expire.
var Never = time.Date(9999, 12, 31, 23, 59, 0, 0, time.UTC)

// Set is a set of keys with expiration times. Expired entries are
// removed by Sweep, which is called by every read, so that an expired
// entry is never observed. A Set is not safe for concurrent use.
type Set[K comparable] struct {
	entries   map[K]time.Time
	next      time.Time
	now       func() time.Time
	onExpired func([]K)
}

// New returns a new Set that uses now to obtain the current time,
// time.Now if nil, and calls onExpired, if not nil, with the keys
// removed by each sweep.
func New[K comparable](now func() time.Time, onExpired func(removed []K)) *Set[K] {
	if now == nil {
		now = time.Now
	}
	return &Set[K]{
		entries:   map[K]time.Time{},
		next:      Never,
		now:       now,
		onExpired: onExpired,
	}
}

// Add adds keys with the specified expiration, a zero expiration is
// treated as Never. Keys that are already present with the same or a
// later expiration are left unchanged. The keys that were added or
// updated are returned.
func (s *Set[K]) Add(keys []K, expiration time.Time) []K {
	if expiration.IsZero() {
		expiration = Never
	}
	var added []K
	for _, k := range keys {
		if cur, ok := s.entries[k]; ok && !cur.Before(expiration) {
			continue
		}
		s.entries[k] = expiration
		added = append(added, k)
	}
	if len(added) > 0 && expiration.Before(s.next) {
		s.next = expiration
	}
	return added
}

// Remove removes the specified keys and returns those that were present.
func (s *Set[K]) Remove(keys ...K) []K {
	var removed []K
	for _, k := range keys {
		if _, ok := s.entries[k]; ok {
			delete(s.entries, k)
			removed = append(removed, k)
		}
	}
	return removed
}

// RemoveFunc removes every key for which fn returns true and returns
// the keys removed.
func (s *Set[K]) RemoveFunc(fn func(K) bool) []K {
	var removed []K
	for k := range s.entries {
		if fn(k) {
			removed = append(removed, k)
		}
	}
	for _, k := range removed {
		delete(s.entries, k)
	}
	return removed
}

// Clear removes all keys and returns those removed.
func (s *Set[K]) Clear() []K {
	removed := make([]K, 0, len(s.entries))
	for k := range s.entries {
		removed = append(removed, k)
	}
	clear(s.entries)
	s.next = Never
	return removed
}

// Sweep removes all expired entries, that is, those whose expiration
// is at or before the current time, and returns them. It returns
// immediately if the current time is before the watermark.
func (s *Set[K]) Sweep() []K {
	now := s.now()
	if now.Before(s.next) {
		return nil
	}
	var removed []K
	next := Never
	for k, exp := range s.entries {
		if !now.Before(exp) {
			removed = append(removed, k)
			continue
		}
		if exp.Before(next) {
			next = exp
		}
	}
	for _, k := range removed {
		delete(s.entries, k)
	}
	s.next = next
	if len(removed) > 0 && s.onExpired != nil {
		s.onExpired(removed)
	}
	return removed
}

// Contains returns true if k is present and has not expired.
func (s *Set[K]) Contains(k K) bool {
	s.Sweep()
	_, ok := s.entries[k]
	return ok
}

// Expiration returns the expiration of k.
func (s *Set[K]) Expiration(k K) (time.Time, bool) {
	s.Sweep()
	exp, ok := s.entries[k]
	return exp, ok
}

// Len returns the number of unexpired entries.
func (s *Set[K]) Len() int {
	s.Sweep()
	return len(s.entries)
}

// Keys returns the unexpired keys in no particular order.
func (s *Set[K]) Keys() []K {
	s.Sweep()
	keys := make([]K, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys
}

// Entries returns a copy of the unexpired entries.
func (s *Set[K]) Entries() map[K]time.Time {
	s.Sweep()
	return maps.Clone(s.entries)
}

// Range calls fn for each unexpired entry until fn returns false.
func (s *Set[K]) Range(fn func(K, time.Time) bool) {
	s.Sweep()
	for k, exp := range s.entries {
		if !fn(k, exp) {
			return
		}
	}
}

// Watermark returns the earliest expiration that may be present in
// the set, Never if the set is known to contain no expiring entries.
func (s *Set[K]) Watermark() time.Time {
	return s.next
}
