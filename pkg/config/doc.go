// Package config loads and validates the service configuration.
//
// Configuration comes from a YAML file with environment variable
// overrides on top, so secrets like the platform login key never have
// to live on disk. Unknown fields in the file are rejected to catch
// typos early.
//
// # Usage Example
//
//	cfg, err := config.Load("vtagger.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Environment Overrides
//
//	VTAGGER_UMBRELLA_BASE_URL   platform API base URL
//	VTAGGER_UMBRELLA_LOGIN_KEY  platform login key
//	VTAGGER_STORE_PATH          SQLite database path
//	VTAGGER_DIMENSIONS_DIR      dimension documents directory
//	VTAGGER_LISTEN_ADDR         HTTP listen address
//	VTAGGER_LOG_LEVEL           log level (trace..fatal)
package config
