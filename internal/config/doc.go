// Package config provides configuration management for the triage service.
//
// Configuration is loaded from environment variables using the env package.
// All configuration values have defaults suitable for local development:
// no Redis, the heuristic reasoner and a SQLite memory store under data/.
//
// Example usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Printf("HTTP server will listen on %s\n", cfg.GetHTTPAddr())
package config
