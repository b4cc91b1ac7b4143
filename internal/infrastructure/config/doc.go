// Package config handles loading and validating auth core configuration.
//
// Configuration is layered: hardcoded defaults, then the YAML file, then
// AUTHCORE_* environment variable overrides. Validate() rejects configs
// that would run the service in an insecure state (missing or short JWT
// secret, no mail transport).
package config
