// Copyright 2026 cloudeng llc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"cloudeng.io/errors"
	"cloudeng.io/logging/ctxlog"
	"cloudeng.io/sync/errgroup"
	"cloudeng.io/webext"
	"cloudeng.io/webext/accessgate"
	"cloudeng.io/webext/manifest"
	"cloudeng.io/webext/matchpattern"
	"cloudeng.io/webext/permissions"
	"cloudeng.io/webext/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"gopkg.in/yaml.v3"
)

// CommonFlags are used by all commands. Values specified as flags
// override those in the config file.
type CommonFlags struct {
	Config   string `subcmd:"config,,'yaml config file'"`
	Manifest string `subcmd:"manifest,,'path of the extension manifest.json'"`
	State    string `subcmd:"state,,'path of the file used to persist permission state'"`
	BaseURL  string `subcmd:"base-url,,'base url for the extension, only the scheme and host are used'"`
}

type CheckFlags struct {
	CommonFlags
	IncludeOptional bool `subcmd:"include-optional,false,'treat optional permissions and match patterns as requested'"`
	SkipRequested   bool `subcmd:"skip-requested,false,'ignore requested permissions and match patterns'"`
	Tabs            bool `subcmd:"with-tabs,false,'treat urls as requested if the tabs permission is requested'"`
}

func (f CheckFlags) options() permissions.Options {
	var opts permissions.Options
	if f.IncludeOptional {
		opts |= permissions.IncludeOptional
	}
	if f.SkipRequested {
		opts |= permissions.SkipRequested
	}
	if f.Tabs {
		opts |= permissions.RequestedWithTabsPermission
	}
	return opts
}

type SetFlags struct {
	CommonFlags
	Expires time.Duration `subcmd:"expires,0s,'duration after which the grant or denial expires, zero for never'"`
}

func (f SetFlags) expiration() time.Time {
	if f.Expires <= 0 {
		return time.Time{}
	}
	return time.Now().Add(f.Expires)
}

type ServeFlags struct {
	CommonFlags
	Addr      string        `subcmd:"addr,,'address to listen on, overrides the config file'"`
	Forwarded bool          `subcmd:"forwarded,false,'use the X-Forwarded-* headers to determine the url of a request'"`
	Proxy     bool          `subcmd:"proxy,false,'forward allowed requests to their url'"`
	Reload    time.Duration `subcmd:"reload,10s,'interval at which permission state is reloaded from the state file'"`
}

// config is the format of the config file.
type config struct {
	webext.Config `yaml:",inline"`
	Gate          accessgate.Config `yaml:"gate"`
}

func loadConfig(fv CommonFlags) (config, error) {
	var cfg config
	if len(fv.Config) > 0 {
		data, err := os.ReadFile(fv.Config)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file %v: %w", fv.Config, err)
		}
	}
	if len(fv.Manifest) > 0 {
		cfg.Manifest = fv.Manifest
	}
	if len(fv.State) > 0 {
		cfg.StateFile = fv.State
	}
	if len(fv.BaseURL) > 0 {
		cfg.BaseURL = fv.BaseURL
	}
	return cfg, nil
}

type permCmds struct {
	out io.Writer
}

// extension holds a Context and, if configured, the file its state is
// persisted in.
type extension struct {
	*webext.Context
	state *store.File
}

func newExtension(ctx context.Context, cfg webext.Config) (*extension, error) {
	var ext webext.Extension
	if len(cfg.Manifest) > 0 {
		data, err := os.ReadFile(cfg.Manifest)
		if err != nil {
			return nil, err
		}
		m, err := manifest.Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%v: %w", cfg.Manifest, err)
		}
		if err := m.Err(); err != nil {
			ctxlog.Info(ctx, "manifest contains invalid entries", "manifest", cfg.Manifest, "error", err)
		}
		ext = m
	}
	opts := append(cfg.Options(), webext.WithLogger(ctxlog.Logger(ctx)))
	ec, err := webext.NewContext(ext, opts...)
	if err != nil {
		return nil, err
	}
	e := &extension{Context: ec}
	if len(cfg.StateFile) == 0 {
		return e, nil
	}
	if e.state, err = store.NewFile(cfg.StateFile); err != nil {
		return nil, err
	}
	return e, e.reload(ctx)
}

func (e *extension) reload(ctx context.Context) error {
	if e.state == nil {
		return nil
	}
	snap, err := e.state.Load(ctx)
	if err != nil {
		return err
	}
	return e.Restore(snap)
}

func load(ctx context.Context, fv CommonFlags) (*extension, error) {
	cfg, err := loadConfig(fv)
	if err != nil {
		return nil, err
	}
	return newExtension(ctx, cfg.Config)
}

func parseURLs(args []string) ([]*url.URL, error) {
	var errs errors.M
	urls := make([]*url.URL, 0, len(args))
	for _, arg := range args {
		u, err := url.Parse(arg)
		if err != nil {
			errs.Append(err)
			continue
		}
		urls = append(urls, u)
	}
	return urls, errs.Err()
}

func parsePatterns(args []string) ([]matchpattern.Pattern, error) {
	var errs errors.M
	patterns := make([]matchpattern.Pattern, 0, len(args))
	for _, arg := range args {
		p, err := matchpattern.Parse(arg)
		if err != nil {
			errs.Append(fmt.Errorf("%v: %w", arg, err))
			continue
		}
		patterns = append(patterns, p)
	}
	return patterns, errs.Err()
}

func (pc *permCmds) checkPermissions(ctx context.Context, flags any, args []string) error {
	fv := flags.(*CheckFlags)
	ext, err := load(ctx, fv.CommonFlags)
	if err != nil {
		return err
	}
	for _, name := range args {
		fmt.Fprintf(pc.out, "%v: %v\n", name, ext.PermissionState(name, nil, fv.options()))
	}
	return nil
}

func (pc *permCmds) checkURLs(ctx context.Context, flags any, args []string) error {
	fv := flags.(*CheckFlags)
	urls, err := parseURLs(args)
	if err != nil {
		return err
	}
	ext, err := load(ctx, fv.CommonFlags)
	if err != nil {
		return err
	}
	for _, u := range urls {
		fmt.Fprintf(pc.out, "%v: %v\n", u, ext.URLState(u, nil, fv.options()))
	}
	return nil
}

func (pc *permCmds) checkPatterns(ctx context.Context, flags any, args []string) error {
	fv := flags.(*CheckFlags)
	patterns, err := parsePatterns(args)
	if err != nil {
		return err
	}
	ext, err := load(ctx, fv.CommonFlags)
	if err != nil {
		return err
	}
	for _, p := range patterns {
		fmt.Fprintf(pc.out, "%v: %v\n", p, ext.PatternState(p, nil, fv.options()))
	}
	return nil
}

// mutate applies fn to the extension's stored state. The state file
// remains locked from when it is read until the result is saved.
func mutate(ctx context.Context, fv CommonFlags, fn func(*extension)) error {
	ext, err := load(ctx, fv)
	if err != nil {
		return err
	}
	if ext.state == nil {
		return fmt.Errorf("a state file must be specified")
	}
	return ext.state.Update(ctx, func(snap store.Snapshot) (store.Snapshot, error) {
		if err := ext.Restore(snap); err != nil {
			return snap, err
		}
		fn(ext)
		return ext.Snapshot(), nil
	})
}

func (pc *permCmds) setPermissions(state permissions.State) func(context.Context, any, []string) error {
	return func(ctx context.Context, flags any, args []string) error {
		fv := flags.(*SetFlags)
		return mutate(ctx, fv.CommonFlags, func(ext *extension) {
			for _, name := range args {
				ext.SetPermissionState(state, name, fv.expiration())
			}
		})
	}
}

func (pc *permCmds) setURLs(state permissions.State) func(context.Context, any, []string) error {
	return func(ctx context.Context, flags any, args []string) error {
		fv := flags.(*SetFlags)
		urls, err := parseURLs(args)
		if err != nil {
			return err
		}
		return mutate(ctx, fv.CommonFlags, func(ext *extension) {
			for _, u := range urls {
				ext.SetURLState(state, u, fv.expiration())
			}
		})
	}
}

func (pc *permCmds) setPatterns(state permissions.State) func(context.Context, any, []string) error {
	return func(ctx context.Context, flags any, args []string) error {
		fv := flags.(*SetFlags)
		patterns, err := parsePatterns(args)
		if err != nil {
			return err
		}
		return mutate(ctx, fv.CommonFlags, func(ext *extension) {
			for _, p := range patterns {
				ext.SetPatternState(state, p, fv.expiration())
			}
		})
	}
}

func (pc *permCmds) list(ctx context.Context, flags any, _ []string) error {
	fv := flags.(*CommonFlags)
	ext, err := load(ctx, *fv)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(ext.Snapshot())
	if err != nil {
		return err
	}
	_, err = pc.out.Write(data)
	return err
}

// allowed responds to requests that have passed through the access gate,
// it is used when the server is not acting as a proxy, for example to
// authorize requests on behalf of a reverse proxy.
func allowed(w http.ResponseWriter, r *http.Request) {
	if u, ok := accessgate.Target(r.Context()); ok {
		w.Header().Set("X-Allowed-Url", u.String())
	}
	w.WriteHeader(http.StatusNoContent)
}

func newAllowedRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.HandleFunc("/*", allowed)
	return r
}

func (pc *permCmds) serve(ctx context.Context, flags any, _ []string) error {
	fv := flags.(*ServeFlags)
	cfg, err := loadConfig(fv.CommonFlags)
	if err != nil {
		return err
	}
	if len(fv.Addr) > 0 {
		cfg.Gate.Addr = fv.Addr
	}
	cfg.Gate.Forwarded = cfg.Gate.Forwarded || fv.Forwarded
	cfg.Gate.Proxy = cfg.Gate.Proxy || fv.Proxy

	ext, err := newExtension(ctx, cfg.Config)
	if err != nil {
		return err
	}
	denied := func(ctx context.Context, labels ...string) {
		ctxlog.Info(ctx, "request denied", "state", labels)
	}

	var g errgroup.T
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g.Go(func() error {
		defer cancel()
		return accessgate.Serve(ctx, cfg.Gate, ext, newAllowedRouter(), nil,
			accessgate.WithDeniedCounter(denied))
	})
	if ext.state != nil && fv.Reload > 0 {
		g.Go(func() error {
			return reloadPeriodically(ctx, ext, fv.Reload)
		})
	}
	return g.Wait()
}

// reloadPeriodically picks up changes made to the state file by other
// invocations of this command until ctx is canceled.
func reloadPeriodically(ctx context.Context, ext *extension, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if err := ext.reload(ctx); err != nil {
			ctxlog.Info(ctx, "failed to reload permission state", "path", ext.state.Path(), "error", err)
		}
	}
}
