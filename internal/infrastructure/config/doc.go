// Package config handles loading and validating Payload Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with PAYLOAD_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Sensitive values (MQTT password, Influx token, JWT secret, operator key)
// should be supplied through the environment rather than the file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Camera.Address)
package config
