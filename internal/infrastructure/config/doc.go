// Package config handles loading and validating review core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - The application secret signs contractor QR tokens and admin sessions,
//     and keys encryption of stored console credentials. Set it via
//     REVIEWCORE_APP_SECRET, never in a committed file.
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Contractor.AppURL)
package config
