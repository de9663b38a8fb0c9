// Package config loads and validates Gatekeeper configuration.
//
// Values are layered: built-in defaults, then the YAML file, then
// GATEKEEPER_* environment variables. Validate runs last and rejects the
// configuration as a whole, listing every problem it found.
//
// Secrets (JWT secret, Redis, MQTT and InfluxDB credentials, API keys) should
// come from the environment and the file should be 0600.
//
// A missing or short security.jwt.secret is fatal: the process refuses to
// start rather than falling back to a built-in key.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return fmt.Errorf("loading config: %w", err)
//	}
package config
