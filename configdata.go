// Package kovaaksrpc provides embedded assets for the Kovaaks RPC daemon.
//
// The root package exists solely to embed [config.default.toml] via
// [DefaultConfigTOML]. The daemon copies this file to the data directory on
// first run so users always start from a documented settings file.
package kovaaksrpc

import _ "embed"

// DefaultConfigTOML holds the raw bytes of config.default.toml, embedded at
// build time.
//
//go:embed config.default.toml
var DefaultConfigTOML []byte
