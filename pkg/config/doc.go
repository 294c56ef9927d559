// Package config loads agenthub settings from defaults, an optional YAML
// file, AGENTHUB_* environment variables and command-line flags, each layer
// overriding the one before. Nested keys map to environment variables with
// dots replaced by underscores, so hub.request_timeout is read from
// AGENTHUB_HUB_REQUEST_TIMEOUT.
package config
