// Copyright 2026 cloudeng llc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package manifest extracts the permission bearing sections of an
// extension's manifest.json. Only the keys that determine the permissions
// and match patterns an extension requests are interpreted, all others
// are ignored.
//
// Version 2 manifests list match patterns alongside permission names in
// the permissions and optional_permissions arrays. Version 3 manifests
// list them separately in host_permissions and optional_host_permissions.
// Content script and externally_connectable match patterns are also
// treated as requested.
package manifest

import (
	"fmt"
	"io/fs"
	"strings"

	"cloudeng.io/errors"
	"cloudeng.io/webext/matchpattern"
	"cloudeng.io/webext/permissions"
	"github.com/go-json-experiment/json"
	"golang.org/x/net/publicsuffix"
)

var (
	ErrInvalidManifest              = errors.New("invalid manifest")
	ErrInvalidEntry                 = errors.New("invalid manifest entry")
	ErrInvalidExternallyConnectable = errors.New("empty or invalid externally_connectable entry")
)

type contentScript struct {
	Matches []any `json:"matches"`
}

type externallyConnectable struct {
	Matches []any `json:"matches"`
	IDs     []any `json:"ids"`
}

type rawManifest struct {
	ManifestVersion         float64                `json:"manifest_version"`
	Permissions             []any                  `json:"permissions"`
	OptionalPermissions     []any                  `json:"optional_permissions"`
	HostPermissions         []any                  `json:"host_permissions"`
	OptionalHostPermissions []any                  `json:"optional_host_permissions"`
	ContentScripts          []contentScript        `json:"content_scripts"`
	ExternallyConnectable   *externallyConnectable `json:"externally_connectable"`
}

// Manifest represents the permissions requested by an extension. It
// implements webext.Extension.
type Manifest struct {
	version               int
	permissions           permissions.Set
	patterns              matchpattern.Set
	optional              permissions.Set
	optionalPatterns      matchpattern.Set
	contentScripts        matchpattern.Set
	externallyConnectable matchpattern.Set
	requested             matchpattern.Set
	err                   error
}

// Parse parses the supplied manifest.json. An error is returned only if
// the manifest is not valid JSON or its permission sections have the
// wrong type; invalid or unsupported entries are skipped and reported
// by Err.
func Parse(data []byte) (*Manifest, error) {
	var raw rawManifest
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.NewM(err, ErrInvalidManifest)
	}
	m := &Manifest{
		version:               int(raw.ManifestVersion),
		permissions:           permissions.NewSet(),
		patterns:              matchpattern.NewSet(),
		optional:              permissions.NewSet(),
		optionalPatterns:      matchpattern.NewSet(),
		contentScripts:        matchpattern.NewSet(),
		externallyConnectable: matchpattern.NewSet(),
	}
	if m.version == 0 {
		m.version = 2
	}
	var errs errors.M
	m.parsePermissions(&raw, &errs)
	m.parseContentScripts(raw.ContentScripts, &errs)
	m.parseExternallyConnectable(raw.ExternallyConnectable, &errs)
	m.requested = clonePatterns(m.patterns)
	for _, set := range []matchpattern.Set{m.externallyConnectable, m.contentScripts} {
		for p := range set {
			m.requested.Add(p)
		}
	}
	m.err = errs.Err()
	return m, nil
}

// Load reads and parses the named manifest from fsys.
func Load(fsys fs.ReadFileFS, name string) (*Manifest, error) {
	data, err := fsys.ReadFile(name)
	if err != nil {
		return nil, err
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", name, err)
	}
	return m, nil
}

func isPattern(s string) bool {
	return s == matchpattern.AllURLsString || strings.Contains(s, "://")
}

func stringEntries(section string, values []any, errs *errors.M) []string {
	out := make([]string, 0, len(values))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			errs.Append(fmt.Errorf("%w: %v[%v]: not a string: %v", ErrInvalidEntry, section, i, v))
			continue
		}
		if len(s) > 0 {
			out = append(out, s)
		}
	}
	return out
}

func parsePattern(section, s string, errs *errors.M) (matchpattern.Pattern, bool) {
	p, err := matchpattern.Parse(s)
	if err != nil {
		errs.Append(fmt.Errorf("%w: %v: %w", ErrInvalidEntry, section, err))
		return p, false
	}
	return p, true
}

func (m *Manifest) parsePermissions(raw *rawManifest, errs *errors.M) {
	v2 := m.version < 3
	for _, s := range stringEntries("permissions", raw.Permissions, errs) {
		if v2 && isPattern(s) {
			if p, ok := parsePattern("permissions", s, errs); ok {
				m.patterns.Add(p)
			}
			continue
		}
		if permissions.IsSupported(s) {
			m.permissions.Add(s)
		}
	}
	if !v2 {
		for _, s := range stringEntries("host_permissions", raw.HostPermissions, errs) {
			if p, ok := parsePattern("host_permissions", s, errs); ok {
				m.patterns.Add(p)
			}
		}
	}
	for _, s := range stringEntries("optional_permissions", raw.OptionalPermissions, errs) {
		if v2 && isPattern(s) {
			m.addOptionalPattern("optional_permissions", s, errs)
			continue
		}
		if !m.permissions.Contains(s) && permissions.IsSupported(s) {
			m.optional.Add(s)
		}
	}
	if !v2 {
		for _, s := range stringEntries("optional_host_permissions", raw.OptionalHostPermissions, errs) {
			m.addOptionalPattern("optional_host_permissions", s, errs)
		}
	}
}

func (m *Manifest) addOptionalPattern(section, s string, errs *errors.M) {
	p, ok := parsePattern(section, s, errs)
	if ok && !m.patterns.Contains(p) {
		m.optionalPatterns.Add(p)
	}
}

func (m *Manifest) parseContentScripts(scripts []contentScript, errs *errors.M) {
	for i, cs := range scripts {
		section := fmt.Sprintf("content_scripts[%v].matches", i)
		for _, s := range stringEntries(section, cs.Matches, errs) {
			if p, ok := parsePattern(section, s, errs); ok {
				m.contentScripts.Add(p)
			}
		}
	}
}

// isPublicSuffix returns true if host, ignoring any leading wildcard, is
// a public suffix such as com or co.uk.
func isPublicSuffix(host string) bool {
	host = strings.TrimPrefix(host, "*.")
	if len(host) == 0 || strings.HasPrefix(host, "[") {
		return false
	}
	suffix, _ := publicsuffix.PublicSuffix(host)
	return suffix == host
}

func (m *Manifest) parseExternallyConnectable(ec *externallyConnectable, errs *errors.M) {
	if ec == nil || (ec.Matches == nil && ec.IDs == nil) {
		return
	}
	const section = "externally_connectable.matches"
	invalid := false
	for _, s := range stringEntries(section, ec.Matches, errs) {
		p, ok := parsePattern(section, s, errs)
		if !ok {
			invalid = true
			continue
		}
		// Patterns must name at least a second level domain.
		if p.MatchesAllHosts() || p.MatchesAllURLs() || isPublicSuffix(p.Host()) {
			errs.Append(fmt.Errorf("%w: %q is too broad", ErrInvalidExternallyConnectable, s))
			invalid = true
			continue
		}
		m.externallyConnectable.Add(p)
	}
	ids := stringEntries("externally_connectable.ids", ec.IDs, errs)
	if !invalid && m.externallyConnectable.Len() == 0 && len(ids) == 0 {
		errs.Append(ErrInvalidExternallyConnectable)
	}
}

// Version returns the manifest version, 2 if none was specified.
func (m *Manifest) Version() int {
	return m.version
}

// Err returns the errors encountered for individual entries, if any.
func (m *Manifest) Err() error {
	return m.err
}

// Permissions returns the supported permission names requested by the
// extension.
func (m *Manifest) Permissions() permissions.Set {
	return m.permissions.Clone()
}

// PermissionMatchPatterns returns the match patterns requested in the
// permissions, or for version 3, host_permissions section.
func (m *Manifest) PermissionMatchPatterns() matchpattern.Set {
	return clonePatterns(m.patterns)
}

// ContentScriptMatchPatterns returns the match patterns used by content
// scripts.
func (m *Manifest) ContentScriptMatchPatterns() matchpattern.Set {
	return clonePatterns(m.contentScripts)
}

// ExternallyConnectableMatchPatterns returns the match patterns of web
// pages that may connect to the extension.
func (m *Manifest) ExternallyConnectableMatchPatterns() matchpattern.Set {
	return clonePatterns(m.externallyConnectable)
}

// AllRequestedMatchPatterns implements webext.Extension. It returns the
// union of the permission, content script and externally connectable
// patterns. The returned set is shared and must not be modified.
func (m *Manifest) AllRequestedMatchPatterns() matchpattern.Set {
	return m.requested
}

// OptionalPermissions implements webext.Extension. The returned set is
// shared and must not be modified.
func (m *Manifest) OptionalPermissions() permissions.Set {
	return m.optional
}

// OptionalPermissionMatchPatterns implements webext.Extension. The
// returned set is shared and must not be modified.
func (m *Manifest) OptionalPermissionMatchPatterns() matchpattern.Set {
	return m.optionalPatterns
}

// HasRequestedPermission implements webext.Extension.
func (m *Manifest) HasRequestedPermission(name string) bool {
	return m.permissions.Contains(name)
}

func clonePatterns(s matchpattern.Set) matchpattern.Set {
	out := make(matchpattern.Set, len(s))
	for p := range s {
		out.Add(p)
	}
	return out
}
