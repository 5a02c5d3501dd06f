// Copyright 2026 cloudeng llc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package urlcache provides a bounded, least-recently-used cache of
// permission states keyed by URL.
package urlcache

import (
	"cloudeng.io/webext/permissions"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxEntries is the capacity used when none, or an invalid
// one, is specified.
const DefaultMaxEntries = 100

// Cache is a least-recently-used cache of permission states. Unknown
// results are only ever trusted by lookups that skip requested states
// since the same URL may be requested when requested states are
// considered. A Cache is not safe for concurrent use without external
// synchronization of Lookup and Record with Invalidate.
type Cache struct {
	lru *lru.Cache[string, permissions.State]
}

// New returns a cache that holds at most maxEntries states.
func New(maxEntries int) *Cache {
	if maxEntries < 1 {
		maxEntries = DefaultMaxEntries
	}
	c, err := lru.New[string, permissions.State](maxEntries)
	if err != nil {
		// only returned for a non-positive size.
		panic(err)
	}
	return &Cache{lru: c}
}

// Lookup returns the cached state for key. A cached Unknown is treated
// as a miss unless skipRequested is set and a cached requested state
// is reported as Unknown when skipRequested is set. A hit makes key the
// most recently used entry.
func (c *Cache) Lookup(key string, skipRequested bool) (permissions.State, bool) {
	state, ok := c.lru.Peek(key)
	if !ok {
		return permissions.Unknown, false
	}
	if state == permissions.Unknown && !skipRequested {
		return permissions.Unknown, false
	}
	c.lru.Get(key)
	if skipRequested && state.IsRequested() {
		return permissions.Unknown, true
	}
	return state, true
}

// Record stores state for key, evicting the least recently used entry
// if the cache is full, and returns state.
func (c *Cache) Record(key string, state permissions.State) permissions.State {
	c.lru.Add(key, state)
	return state
}

// Invalidate removes all entries.
func (c *Cache) Invalidate() {
	c.lru.Purge()
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Keys returns the cached keys from least to most recently used.
func (c *Cache) Keys() []string {
	return c.lru.Keys()
}
