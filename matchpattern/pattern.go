// Copyright 2026 cloudeng llc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package matchpattern provides support for browser extension match
// patterns of the form <scheme>://<host><path> and the special
// <all_urls> pattern. Patterns are immutable, comparable values and
// may be used directly as map keys; two patterns created from the same
// string are equal.
//
// Schemes are restricted to http, https, file and the extension scheme,
// with * standing for http and https. Hosts may be *, a *.<domain>
// suffix or a literal host name. Paths must start with / and may contain
// any number of * wildcards, each of which matches any sequence of
// characters, including /.
//
// Malformed patterns are never reported as failures by New or FromURL,
// instead they yield an invalid pattern that matches nothing. Parse can
// be used to obtain the reason a pattern is malformed.
package matchpattern

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"

	"cloudeng.io/errors"
	"github.com/gobwas/glob"
	"golang.org/x/net/idna"
)

// AllURLsString is the string form of the pattern that matches
// every URL with a supported scheme.
const AllURLsString = "<all_urls>"

// ExtensionScheme is the URL scheme used for extension resources.
const ExtensionScheme = "webkit-extension"

var webSchemes = []string{"http", "https", "file"}

var (
	ErrMissingScheme = errors.New("missing scheme separator")
	ErrInvalidScheme = errors.New("invalid scheme")
	ErrInvalidHost   = errors.New("invalid host")
	ErrInvalidPath   = errors.New("invalid path")
)

// SupportedSchemes returns the schemes that a pattern may name
// explicitly.
func SupportedSchemes() []string {
	return append(slices.Clone(webSchemes), ExtensionScheme)
}

// IsSupportedScheme returns true if scheme may be used in a pattern
// or in a URL whose access is being evaluated.
func IsSupportedScheme(scheme string) bool {
	return slices.Contains(webSchemes, scheme) || IsExtensionScheme(scheme)
}

// IsExtensionScheme returns true for extension resource schemes.
func IsExtensionScheme(scheme string) bool {
	return scheme == ExtensionScheme
}

// Pattern represents a parsed match pattern. The zero value is an
// invalid pattern.
type Pattern struct {
	scheme  string
	host    string
	path    string
	allURLs bool
	valid   bool
}

// AllURLs returns the <all_urls> pattern.
func AllURLs() Pattern {
	return Pattern{scheme: "*", host: "*", path: "/*", allURLs: true, valid: true}
}

// New returns the pattern for s, or an invalid pattern if s is malformed.
func New(s string) Pattern {
	p, _ := Parse(s)
	return p
}

// Parse parses s as a match pattern.
func Parse(s string) (Pattern, error) {
	if s == AllURLsString {
		return AllURLs(), nil
	}
	scheme, rest, ok := strings.Cut(s, "://")
	if !ok {
		return Pattern{}, fmt.Errorf("%q: %w", s, ErrMissingScheme)
	}
	scheme = strings.ToLower(scheme)
	if scheme != "*" && !IsSupportedScheme(scheme) {
		return Pattern{}, fmt.Errorf("%q: %w: %q", s, ErrInvalidScheme, scheme)
	}
	idx := strings.IndexByte(rest, '/')
	if idx < 0 {
		return Pattern{}, fmt.Errorf("%q: %w: missing path", s, ErrInvalidPath)
	}
	host, path := rest[:idx], rest[idx:]
	host, err := parseHost(scheme, host)
	if err != nil {
		return Pattern{}, fmt.Errorf("%q: %w", s, err)
	}
	if _, err := compilePath(path); err != nil {
		return Pattern{}, fmt.Errorf("%q: %w: %v", s, ErrInvalidPath, err)
	}
	return Pattern{scheme: scheme, host: host, path: path, valid: true}, nil
}

// FromURL returns a pattern that matches the scheme and host of u with
// any path. The pattern is invalid if the scheme of u is not supported
// or u has no host and is not a file URL.
func FromURL(u *url.URL) Pattern {
	if u == nil {
		return Pattern{}
	}
	scheme := strings.ToLower(u.Scheme)
	if !IsSupportedScheme(scheme) {
		return Pattern{}
	}
	host := urlHost(u)
	if len(host) == 0 && scheme != "file" {
		return Pattern{}
	}
	return Pattern{scheme: scheme, host: host, path: "/*", valid: true}
}

func parseHost(scheme, host string) (string, error) {
	switch {
	case len(host) == 0:
		if scheme != "file" {
			return "", fmt.Errorf("%w: host is required for %q", ErrInvalidHost, scheme)
		}
		return host, nil
	case host == "*":
		return host, nil
	case strings.HasPrefix(host, "*."):
		domain := host[2:]
		if len(domain) == 0 || strings.Contains(domain, "*") {
			return "", fmt.Errorf("%w: %q", ErrInvalidHost, host)
		}
		d, err := normalizeHost(domain)
		if err != nil {
			return "", err
		}
		return "*." + d, nil
	case strings.Contains(host, "*"):
		return "", fmt.Errorf("%w: wildcard must be the first label: %q", ErrInvalidHost, host)
	}
	return normalizeHost(host)
}

func normalizeHost(host string) (string, error) {
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		return strings.ToLower(host), nil
	}
	if strings.Contains(host, ":") {
		return "", fmt.Errorf("%w: ports are not supported: %q", ErrInvalidHost, host)
	}
	ascii, err := idna.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidHost, host, err)
	}
	return strings.ToLower(ascii), nil
}

// urlHost returns the host of u in the form used by patterns.
func urlHost(u *url.URL) string {
	h := u.Hostname()
	if strings.Contains(h, ":") {
		return "[" + strings.ToLower(h) + "]"
	}
	if n, err := normalizeHost(h); err == nil {
		return n
	}
	return strings.ToLower(h)
}

// urlPath returns the unescaped path and query of u, pattern paths are
// matched in their unescaped form.
func urlPath(u *url.URL) string {
	p := u.Path
	if len(p) == 0 {
		p = "/"
	}
	if len(u.RawQuery) > 0 {
		p += "?" + u.RawQuery
	}
	return p
}

// globs caches compiled path globs keyed by pattern path.
var globs sync.Map

func compilePath(path string) (glob.Glob, error) {
	if len(path) == 0 || path[0] != '/' {
		return nil, fmt.Errorf("path must start with /: %q", path)
	}
	if g, ok := globs.Load(path); ok {
		return g.(glob.Glob), nil
	}
	parts := strings.Split(path, "*")
	for i, p := range parts {
		parts[i] = glob.QuoteMeta(p)
	}
	g, err := glob.Compile(strings.Join(parts, "*"))
	if err != nil {
		return nil, err
	}
	globs.Store(path, g)
	return g, nil
}

// IsValid returns true if the pattern was parsed successfully.
func (p Pattern) IsValid() bool {
	return p.valid
}

// Scheme returns the pattern's scheme, * for any web scheme.
func (p Pattern) Scheme() string { return p.scheme }

// Host returns the pattern's host component.
func (p Pattern) Host() string { return p.host }

// Path returns the pattern's path component.
func (p Pattern) Path() string { return p.path }

// String returns the canonical string form of the pattern. Invalid
// patterns are represented by the empty string.
func (p Pattern) String() string {
	if !p.valid {
		return ""
	}
	if p.allURLs {
		return AllURLsString
	}
	return p.scheme + "://" + p.host + p.path
}

// MatchesAllHosts returns true if the pattern's host is *.
func (p Pattern) MatchesAllHosts() bool {
	return p.valid && p.host == "*"
}

// MatchesAllURLs returns true for <all_urls> and for patterns
// whose scheme, host and path are all wildcards.
func (p Pattern) MatchesAllURLs() bool {
	if !p.valid {
		return false
	}
	return p.allURLs || (p.scheme == "*" && p.host == "*" && p.path == "/*")
}

// MatchesURL returns true if u is matched by the pattern.
func (p Pattern) MatchesURL(u *url.URL) bool {
	if !p.valid || u == nil {
		return false
	}
	if !p.matchesScheme(strings.ToLower(u.Scheme)) {
		return false
	}
	if !p.matchesHost(urlHost(u)) {
		return false
	}
	return p.matchesPath(urlPath(u))
}

// MatchOption controls how MatchesPattern compares patterns.
type MatchOption int

const (
	// IgnoreSchemes compares hosts and paths only.
	IgnoreSchemes MatchOption = 1 << iota
	// IgnorePaths compares schemes and hosts only.
	IgnorePaths
	// MatchBidirectionally succeeds if either pattern contains the other.
	MatchBidirectionally
)

// MatchesPattern returns true if every URL matched by other is also
// matched by p, subject to the supplied options.
func (p Pattern) MatchesPattern(other Pattern, opts ...MatchOption) bool {
	if !p.valid || !other.valid {
		return false
	}
	var o MatchOption
	for _, opt := range opts {
		o |= opt
	}
	if o&MatchBidirectionally != 0 {
		return p.contains(other, o) || other.contains(p, o)
	}
	return p.contains(other, o)
}

func (p Pattern) contains(other Pattern, o MatchOption) bool {
	if p == other {
		return true
	}
	if o&IgnoreSchemes == 0 && !p.containsScheme(other) {
		return false
	}
	if !p.containsHost(other.host) {
		return false
	}
	return o&IgnorePaths != 0 || p.matchesPath(other.path)
}

func (p Pattern) matchesScheme(scheme string) bool {
	switch {
	case p.allURLs:
		return slices.Contains(webSchemes, scheme)
	case p.scheme == "*":
		return scheme == "http" || scheme == "https"
	}
	return p.scheme == scheme
}

func (p Pattern) containsScheme(other Pattern) bool {
	switch {
	case p.allURLs:
		return true
	case other.allURLs:
		return false
	case p.scheme == "*":
		return other.scheme == "*" || other.scheme == "http" || other.scheme == "https"
	}
	return p.scheme == other.scheme
}

func (p Pattern) matchesHost(host string) bool {
	if p.host == "*" {
		return true
	}
	if domain, ok := strings.CutPrefix(p.host, "*."); ok {
		return host == domain || strings.HasSuffix(host, "."+domain)
	}
	return host == p.host
}

func (p Pattern) containsHost(host string) bool {
	if p.host == "*" {
		return true
	}
	if host == "*" {
		return false
	}
	if sub, ok := strings.CutPrefix(host, "*."); ok {
		if !strings.HasPrefix(p.host, "*.") {
			return false
		}
		host = sub
	}
	return p.matchesHost(host)
}

// matchesPath treats any * in path as a literal character, which is
// sufficient for containment since a * in p matches any sequence.
func (p Pattern) matchesPath(path string) bool {
	if p.path == path || p.path == "/*" {
		return true
	}
	g, err := compilePath(p.path)
	if err != nil {
		return false
	}
	return g.Match(path)
}
