// Package config handles loading and validating shutterd configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields, relay numbers, and group membership
//   - Default value handling
//   - Conversion of installer-facing second delays into the
//     millisecond Durations the rest of the system works in
//
// The schema is gated by config_version: only v1.x files are accepted,
// so a file written for a future incompatible layout fails loudly at
// startup instead of moving shutters to the wrong positions.
//
// Security Considerations:
//   - Sensitive values (MQTT passwords) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Performance Characteristics:
//   - Configuration is loaded once at startup
//   - No runtime overhead after initial load
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	shutters := cfg.ShutterInventory()
package config
