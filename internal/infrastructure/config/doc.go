// Package config handles loading and validating the spool scale configuration.
//
// This package manages:
//   - Loading configuration from a YAML file
//   - Overriding with SPOOLSCALE_* environment variables
//   - Validation of required fields and timing bounds
//   - Default values matching the scale firmware's behaviour
//
// The registration code is never part of the configuration. The backend
// URL here is only the initial value; once the device registers, the
// persisted credential wins.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Device.ID)
package config
