// Package config loads and merges reviewd configuration from multiple
// sources.
//
// Precedence (highest to lowest):
//  1. CLI flags
//  2. Environment variables (REVIEWD_PROVIDER, REVIEWD_MODEL, etc.)
//  3. Config file ($XDG_CONFIG_HOME/reviewd/config.json)
//  4. Built-in defaults
//
// Use [Load] to obtain a merged [Config] and [Save] to persist one.
package config
