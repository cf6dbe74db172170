// Copyright (c) 2024-2026, Hyperware Authors. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

// Package config loads the node's runtime configuration (fd-manager
// budget, peer limits, transport ports, timer/ulimit refresh intervals)
// from a TOML/YAML file plus environment overrides, the way the teacher's
// own config surfaces bind flags and file settings together — except here
// via spf13/viper instead of a hand-rolled directive template, since this
// config is small and dynamic (no install-time rendered file) rather than
// an admin-edited system conf.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// File is the node's runtime configuration (SPEC_FULL.md §0).
type File struct {
	Home string `mapstructure:"home"`

	WSPort  uint16 `mapstructure:"ws_port"`
	TCPPort uint16 `mapstructure:"tcp_port"`

	MaxPeers          int `mapstructure:"max_peers"`
	MaxPassthroughs   int `mapstructure:"max_passthroughs"`

	FdMax                    uint64        `mapstructure:"fd_max"`
	FdMaxPercentOfUlimit     uint64        `mapstructure:"fd_max_percent_of_ulimit"`
	FdCullFractionDenominator uint64       `mapstructure:"fd_cull_fraction_denominator"`
	UpdateUlimitEvery        time.Duration `mapstructure:"update_ulimit_every"`

	RestartMaxCrashes int           `mapstructure:"restart_max_crashes"`
	RestartWindow     time.Duration `mapstructure:"restart_window"`

	LogLevel string `mapstructure:"log_level"`
}

// Defaults mirrors the spec's suggested constants (§4.3, §4.6).
func Defaults() File {
	return File{
		Home:                      "~/.hyperdrive",
		WSPort:                    9000,
		TCPPort:                   9001,
		MaxPeers:                  256,
		MaxPassthroughs:           64,
		FdMaxPercentOfUlimit:      50,
		FdCullFractionDenominator: 2,
		UpdateUlimitEvery:         300 * time.Second,
		RestartMaxCrashes:         5,
		RestartWindow:             60 * time.Second,
		LogLevel:                 "info",
	}
}

// Load reads configuration from path (if non-empty), environment variables
// prefixed HYPERDRIVE_, and flags already bound into fs, layered over
// Defaults().
func Load(path string, fs *pflag.FlagSet) (File, error) {
	v := viper.New()

	def := Defaults()
	v.SetDefault("home", def.Home)
	v.SetDefault("ws_port", def.WSPort)
	v.SetDefault("tcp_port", def.TCPPort)
	v.SetDefault("max_peers", def.MaxPeers)
	v.SetDefault("max_passthroughs", def.MaxPassthroughs)
	v.SetDefault("fd_max_percent_of_ulimit", def.FdMaxPercentOfUlimit)
	v.SetDefault("fd_cull_fraction_denominator", def.FdCullFractionDenominator)
	v.SetDefault("update_ulimit_every", def.UpdateUlimitEvery)
	v.SetDefault("restart_max_crashes", def.RestartMaxCrashes)
	v.SetDefault("restart_window", def.RestartWindow)
	v.SetDefault("log_level", def.LogLevel)

	v.SetEnvPrefix("hyperdrive")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return File{}, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return File{}, fmt.Errorf("config: binding flags: %w", err)
		}
	}

	var out File
	if err := v.Unmarshal(&out); err != nil {
		return File{}, fmt.Errorf("config: unmarshaling: %w", err)
	}
	return out, nil
}
