// Package config handles loading and validating Warden configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with WARDEN_* environment variables
//   - Validation of required fields, reporting every problem at once
//   - Default value handling
//
// Security Considerations:
//   - Tokens and passwords (MQTT, InfluxDB, Telegram) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/warden.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Instance.Name)
package config
