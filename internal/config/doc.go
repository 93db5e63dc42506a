// Package config handles configuration loading, parsing, and validation
// from various sources (environment variables, files). It provides type-safe
// access to application settings needed by different components while keeping
// configuration details separate from business logic.
//
// Every key can be set from the environment with the ZIMIT_ prefix, dots
// replaced by underscores: tracker.digest_key is read from ZIMIT_TRACKER_DIGEST_KEY.
package config
