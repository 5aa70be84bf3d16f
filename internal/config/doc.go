// Package config loads and validates corral's TOML configuration. Defaults
// live in defaults.go, path expansion and casing fixups in normalize.go, and
// range checks in validate.go. Load resolves the config file from an explicit
// path, ~/.config/corral/config.toml, or ./corral.toml in that order.
package config
