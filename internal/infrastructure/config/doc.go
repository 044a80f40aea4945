// Package config handles loading and validating the Gray Logic Tasmota
// service configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with GRAYLOGIC_TASMOTA_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// The device list itself lives in a separate bridge file referenced by
// protocols.tasmota.config_file (see internal/bridges/tasmota).
//
// Security Considerations:
//   - Sensitive values (passwords, tokens) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - Without a JWT secret, property writes over the REST API are unauthenticated
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Site.Name)
package config
