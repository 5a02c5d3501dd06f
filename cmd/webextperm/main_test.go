// Copyright 2026 cloudeng llc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"cloudeng.io/webext/accessgate"
	"cloudeng.io/webext/permissions"
)

const testManifest = `{
	"manifest_version": 3,
	"permissions": ["tabs", "cookies"],
	"optional_permissions": ["webNavigation"],
	"host_permissions": ["https://*.example.com/*"],
	"optional_host_permissions": ["https://optional.org/*"]
}`

func setup(t *testing.T) CommonFlags {
	t.Helper()
	dir := t.TempDir()
	mf := filepath.Join(dir, "manifest.json")
	if err := os.WriteFile(mf, []byte(testManifest), 0600); err != nil {
		t.Fatal(err)
	}
	cfg := filepath.Join(dir, "config.yaml")
	cfgData := "unique_identifier: test\nmanifest: " + mf + "\ngate:\n  forwarded: true\n"
	if err := os.WriteFile(cfg, []byte(cfgData), 0600); err != nil {
		t.Fatal(err)
	}
	return CommonFlags{
		Config: cfg,
		State:  filepath.Join(dir, "state", "permissions.yaml"),
	}
}

func run(t *testing.T, fn func(*permCmds) error) string {
	t.Helper()
	var out strings.Builder
	if err := fn(&permCmds{out: &out}); err != nil {
		t.Fatal(err)
	}
	return out.String()
}

func TestCheckAndSet(t *testing.T) {
	ctx := t.Context()
	cf := setup(t)
	check := &CheckFlags{CommonFlags: cf}
	set := &SetFlags{CommonFlags: cf}

	out := run(t, func(pc *permCmds) error {
		return pc.checkPermissions(ctx, check, []string{"tabs", "webNavigation", "geolocation"})
	})
	if got, want := out, "tabs: requested_explicitly\nwebNavigation: unknown\ngeolocation: unknown\n"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}

	check.IncludeOptional = true
	out = run(t, func(pc *permCmds) error {
		return pc.checkURLs(ctx, check, []string{"https://www.example.com/", "https://optional.org/a", "https://other.org/"})
	})
	if got, want := out, "https://www.example.com/: requested_explicitly\nhttps://optional.org/a: requested_implicitly\nhttps://other.org/: unknown\n"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	check.IncludeOptional = false

	run(t, func(pc *permCmds) error {
		return pc.setPermissions(permissions.GrantedExplicitly)(ctx, set, []string{"tabs"})
	})
	run(t, func(pc *permCmds) error {
		return pc.setPermissions(permissions.DeniedExplicitly)(ctx, set, []string{"cookies"})
	})
	run(t, func(pc *permCmds) error {
		return pc.setURLs(permissions.GrantedExplicitly)(ctx, set, []string{"https://www.example.com/index.html"})
	})
	run(t, func(pc *permCmds) error {
		return pc.setPatterns(permissions.DeniedExplicitly)(ctx, set, []string{"https://private.example.com/*"})
	})

	out = run(t, func(pc *permCmds) error {
		return pc.checkPermissions(ctx, check, []string{"tabs", "cookies"})
	})
	if got, want := out, "tabs: granted_explicitly\ncookies: denied_explicitly\n"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	out = run(t, func(pc *permCmds) error {
		return pc.checkPatterns(ctx, check, []string{"https://www.example.com/*", "https://private.example.com/*", "https://*.example.com/*"})
	})
	if got, want := out, "https://www.example.com/*: granted_explicitly\nhttps://private.example.com/*: denied_explicitly\nhttps://*.example.com/*: denied_explicitly\n"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}

	out = run(t, func(pc *permCmds) error {
		return pc.list(ctx, &cf, nil)
	})
	for _, want := range []string{
		"granted_permissions:", "tabs:", "denied_permissions:", "cookies:",
		"granted_match_patterns:", "https://www.example.com/*", "denied_match_patterns:", "https://private.example.com/*",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("%q does not contain %q", out, want)
		}
	}

	run(t, func(pc *permCmds) error {
		return pc.setPermissions(permissions.Unknown)(ctx, set, []string{"tabs", "cookies"})
	})
	out = run(t, func(pc *permCmds) error {
		return pc.checkPermissions(ctx, check, []string{"tabs", "cookies"})
	})
	if got, want := out, "tabs: requested_explicitly\ncookies: requested_explicitly\n"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestConcurrentSet(t *testing.T) {
	ctx := t.Context()
	cf := setup(t)
	names := []string{"alarms", "bookmarks", "cookies", "downloads", "history", "storage"}

	var wg sync.WaitGroup
	errs := make([]error, len(names))
	for i, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pc := &permCmds{out: &strings.Builder{}}
			errs[i] = pc.setPermissions(permissions.GrantedExplicitly)(ctx, &SetFlags{CommonFlags: cf}, []string{name})
		}()
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Errorf("%v: %v", names[i], err)
		}
	}

	out := run(t, func(pc *permCmds) error {
		return pc.checkPermissions(ctx, &CheckFlags{CommonFlags: cf}, names)
	})
	for _, name := range names {
		if want := name + ": granted_explicitly\n"; !strings.Contains(out, want) {
			t.Errorf("%q does not contain %q", out, want)
		}
	}
}

func TestErrors(t *testing.T) {
	ctx := t.Context()
	cf := setup(t)
	pc := &permCmds{out: &strings.Builder{}}

	if err := pc.checkPatterns(ctx, &CheckFlags{CommonFlags: cf}, []string{"ftp://example.com/*"}); err == nil {
		t.Errorf("expected an error")
	}
	noState := cf
	noState.State = ""
	if err := pc.setPermissions(permissions.GrantedExplicitly)(ctx, &SetFlags{CommonFlags: noState}, []string{"tabs"}); err == nil {
		t.Errorf("expected an error")
	}
	missing := cf
	missing.Config = filepath.Join(t.TempDir(), "missing.yaml")
	if err := pc.list(ctx, &missing, nil); err == nil {
		t.Errorf("expected an error")
	}
}

func TestGate(t *testing.T) {
	ctx := t.Context()
	cf := setup(t)
	run(t, func(pc *permCmds) error {
		return pc.setPatterns(permissions.GrantedExplicitly)(ctx, &SetFlags{CommonFlags: cf}, []string{"https://*.example.com/*"})
	})
	cfg, err := loadConfig(cf)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Gate.Forwarded {
		t.Errorf("gate config was not loaded")
	}
	ext, err := newExtension(ctx, cfg.Config)
	if err != nil {
		t.Fatal(err)
	}
	handler := accessgate.NewHandler(newAllowedRouter(), ext,
		accessgate.WithTargetExtractor(cfg.Gate.TargetExtractor()))

	for _, tc := range []struct {
		host string
		code int
	}{
		{"www.example.com", http.StatusNoContent},
		{"www.other.org", http.StatusForbidden},
	} {
		req := httptest.NewRequest("GET", "/a/b", nil)
		req.Header.Set("X-Forwarded-Proto", "https")
		req.Header.Set("X-Forwarded-Host", tc.host)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if got, want := w.Code, tc.code; got != want {
			t.Errorf("%v: got %v, want %v", tc.host, got, want)
		}
	}
}

func TestCLI(t *testing.T) {
	// Ensure that the command spec is valid and all runners are set.
	cli()
}
