// Copyright 2026 cloudeng llc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package matchpattern_test

import (
	"testing"

	"cloudeng.io/webext/matchpattern"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSet(t *testing.T) {
	s, err := matchpattern.ParseSet("https://example.com/*", "bad", "*://*.test.org/*", "https://example.com/*")
	require.Error(t, err)
	assert.Contains(t, err.Error(), matchpattern.ErrMissingScheme.Error())
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []string{"*://*.test.org/*", "https://example.com/*"}, s.Strings())

	assert.True(t, s.Contains(matchpattern.New("https://example.com/*")))
	assert.False(t, s.Contains(matchpattern.New("https://example.com/")))

	s.Add(matchpattern.New("also bad"), matchpattern.AllURLs())
	assert.Equal(t, 3, s.Len())
	assert.Equal(t, []string{"*://*.test.org/*", "<all_urls>", "https://example.com/*"}, s.Strings())
}

func TestSetMatching(t *testing.T) {
	s := matchpattern.NewSet(
		matchpattern.New("https://example.com/a/*"),
		matchpattern.New("*://*.test.org/*"),
	)
	assert.True(t, s.MatchesURL(mustURL(t, "https://example.com/a/b")))
	assert.True(t, s.MatchesURL(mustURL(t, "http://www.test.org/")))
	assert.False(t, s.MatchesURL(mustURL(t, "https://example.com/b")))

	assert.True(t, s.MatchesPattern(matchpattern.New("https://sub.test.org/x")))
	assert.False(t, s.MatchesPattern(matchpattern.New("https://example.com/*")))
	assert.True(t, s.MatchesPattern(matchpattern.New("https://example.com/*"), matchpattern.IgnorePaths))

	empty := matchpattern.NewSet()
	assert.False(t, empty.MatchesURL(mustURL(t, "https://example.com/")))
}
