// Copyright 2026 cloudeng llc. All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package webext

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the configuration of a Context and of where its
// extension's manifest and persisted state are to be found.
type Config struct {
	UniqueIdentifier                  string `yaml:"unique_identifier" cmd:"identifier for the extension context, used to form the default base url"`
	BaseURL                           string `yaml:"base_url" cmd:"base url for the extension's own resources, only the scheme and host are used"`
	MaxCachedURLs                     int    `yaml:"max_cached_urls" cmd:"maximum number of url permission states to cache"`
	Manifest                          string `yaml:"manifest" cmd:"path of the extension's manifest.json"`
	StateFile                         string `yaml:"state_file" cmd:"path of the file used to persist granted and denied permissions"`
	RequestedOptionalAccessToAllHosts bool   `yaml:"requested_optional_access_to_all_hosts" cmd:"set if the extension has requested optional access to all hosts"`
	AccessToPrivateData               bool   `yaml:"access_to_private_data" cmd:"set if the extension may access private browsing data"`
}

// Options returns the options for NewContext represented by the config.
func (c Config) Options() []Option {
	var opts []Option
	if len(c.UniqueIdentifier) > 0 {
		opts = append(opts, WithUniqueIdentifier(c.UniqueIdentifier))
	}
	if len(c.BaseURL) > 0 {
		opts = append(opts, WithBaseURL(c.BaseURL))
	}
	if c.MaxCachedURLs > 0 {
		opts = append(opts, WithMaxCachedURLs(c.MaxCachedURLs))
	}
	opts = append(opts,
		WithRequestedOptionalAccessToAllHosts(c.RequestedOptionalAccessToAllHosts),
		WithAccessToPrivateData(c.AccessToPrivateData))
	return opts
}

// ParseConfig parses a YAML representation of a Config.
func ParseConfig(data []byte) (Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return c, nil
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return ParseConfig(data)
}
