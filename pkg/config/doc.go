// Package config loads gatekeeper's YAML configuration.
//
// A configuration file is decoded over the built-in defaults, so a file only
// needs the keys it changes:
//
//	state:
//	  dir: .gatekeeper/state
//	trust:
//	  events:
//	    inspect: 12
//	policy:
//	  rules_path: ./rules
//	  override_tokens: ["let-me-through"]
//
// Environment variables named GATEKEEPER_<SECTION>_<FIELD> take precedence
// over the file, for example GATEKEEPER_STATE_DIR or
// GATEKEEPER_POLICY_OVERRIDE_TOKENS (comma-separated). Validate collects
// every problem into a single ValidationError.
//
// The CLI loads configuration once per invocation with
// LoadConfigWithEnvOverrides and passes it down explicitly; tests
// should build a *Config directly with Default.
package config
