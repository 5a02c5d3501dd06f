// Copyright 2026 cloudeng llc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Command webextperm manages the permissions granted to, or denied for,
// a web extension and reports the resulting permission state of
// permission names, URLs and match patterns. It can also run an access
// gate server that only allows requests for URLs that the extension
// has been granted access to.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"

	"cloudeng.io/cmdutil/subcmd"
	"cloudeng.io/logging"
	"cloudeng.io/logging/ctxlog"
	"cloudeng.io/webext/permissions"
)

const cmdSpec = `name: webextperm
summary: webextperm manages and evaluates the permissions of a web extension
commands:
  - name: check
    summary: display the permission state of permission names, urls or match patterns
    commands:
      - name: permission
        arguments:
          - names... - the permission names to check
      - name: url
        arguments:
          - urls... - the urls to check
      - name: pattern
        arguments:
          - patterns... - the match patterns to check
  - name: grant
    summary: grant permission names, access to the hosts of urls, or match patterns
    commands:
      - name: permission
        arguments:
          - names... - the permission names to grant
      - name: url
        arguments:
          - urls... - the urls whose scheme and host are to be granted
      - name: pattern
        arguments:
          - patterns... - the match patterns to grant
  - name: deny
    summary: deny permission names, access to the hosts of urls, or match patterns
    commands:
      - name: permission
        arguments:
          - names... - the permission names to deny
      - name: url
        arguments:
          - urls... - the urls whose scheme and host are to be denied
      - name: pattern
        arguments:
          - patterns... - the match patterns to deny
  - name: reset
    summary: remove any grant or denial of permission names, urls, or match patterns
    commands:
      - name: permission
        arguments:
          - names... - the permission names to reset
      - name: url
        arguments:
          - urls... - the urls whose scheme and host are to be reset
      - name: pattern
        arguments:
          - patterns... - the match patterns to reset
  - name: list
    summary: display the currently granted and denied permissions and match patterns
  - name: serve
    summary: run an http server that only allows requests for urls that the extension has been granted access to
`

func cli() *subcmd.CommandSetYAML {
	cmd := subcmd.MustFromYAML(cmdSpec)

	pc := &permCmds{out: os.Stdout}
	cmd.Set("check", "permission").MustRunner(pc.checkPermissions, &CheckFlags{})
	cmd.Set("check", "url").MustRunner(pc.checkURLs, &CheckFlags{})
	cmd.Set("check", "pattern").MustRunner(pc.checkPatterns, &CheckFlags{})

	for verb, state := range map[string]permissions.State{
		"grant": permissions.GrantedExplicitly,
		"deny":  permissions.DeniedExplicitly,
		"reset": permissions.Unknown,
	} {
		cmd.Set(verb, "permission").MustRunner(pc.setPermissions(state), &SetFlags{})
		cmd.Set(verb, "url").MustRunner(pc.setURLs(state), &SetFlags{})
		cmd.Set(verb, "pattern").MustRunner(pc.setPatterns(state), &SetFlags{})
	}

	cmd.Set("list").MustRunner(pc.list, &CommonFlags{})
	cmd.Set("serve").MustRunner(pc.serve, &ServeFlags{})
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	logger := slog.New(slog.NewJSONHandler(logging.NewJSONFormatter(os.Stderr, "", "  "), nil))
	ctx = ctxlog.WithLogger(ctx, logger)
	subcmd.Dispatch(ctx, cli())
}
