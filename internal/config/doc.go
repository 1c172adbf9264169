// Package config loads runtime configuration for the gophstore CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected with -c or -config.
//  3. Environment variables prefixed GOPHSTORE_, with values from a .env
//     file in the working directory filling in unset ones.
//  4. Command-line flags, which override everything above.
//
// # JSON schema
//
// Durations use timex.Duration, so they can be strings like "90s" or
// integer nanoseconds:
//
//	{
//	  "s3_endpoint": "http://127.0.0.1:9000",
//	  "s3_bucket": "vault",
//	  "s3_path_style": true,
//	  "state_db": "/var/lib/gophstore/state.db",
//	  "restore_poll_interval": "1m"
//	}
//
// Malformed input in any source panics, as with the flag package's
// PanicOnError mode.
package config
