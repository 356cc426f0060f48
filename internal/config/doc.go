// Package config loads the streamer configuration from YAML with ${VAR}
// expansion, environment overrides, defaults and validation.
package config
