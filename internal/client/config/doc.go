// Package config loads runtime configuration for the gophmove operator CLI.
//
// Sources, later ones winning:
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected with -c or -config.
//  3. GOPHMOVECTL_* environment variables.
//  4. Command-line flags.
//
// Supported flags
//
//	-a string   base URL of the gophmove server
//	-k string   operator bearer token
//	-r int      request timeout (seconds)
//	-v int      validity of tokens minted by the token command (minutes)
//
// # JSON schema
//
// Durations accept strings like "5m" or integer nanoseconds:
//
//	{
//	  "server_url": "https://move.example",
//	  "token": "eyJ...",
//	  "request_timeout": "10m",
//	  "token_validity": "12h"
//	}
package config
