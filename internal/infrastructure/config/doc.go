// Package config handles loading and validating the garden core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Optional .env file support for local deployments
//   - Overriding with GARDEN_* environment variables
//   - Validation of required fields
//
// Security Considerations:
//   - Broker passwords and database tokens should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Site.Name)
package config
