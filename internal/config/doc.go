// Package config handles configuration loading for foyer.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	guest:
//	  registration_shared_secret: "${FOYER_REGISTRATION_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Configuration Sections
//
// Homeserver connection:
//
//	homeserver:
//	  url: "https://matrix.example.org"
//	  server_name: "example.org"
//
// Guest provisioning:
//
//	guest:
//	  registration_shared_secret: "${FOYER_REGISTRATION_SECRET}"
//
// Departments (at least one required):
//
//	departments:
//	  - id: "support"
//	    name: "Support"
//	    description: "General product help"
//	    bot_user_id: "@support-bot:example.org"
//	    access_token: "${FOYER_SUPPORT_TOKEN}"
//	    responders:
//	      - "@agent-smith:example.org"
//
// Session persistence:
//
//	session:
//	  backend: "file"   # memory, file, sqlite, redis
//	  path: "./foyer-session.json"
//	  key: "default"    # record key for sqlite and redis backends
//	  redis:
//	    addr: "localhost:6379"
//	    password: ""
//	    db: 0
//
// Space organization (optional):
//
//	spaces:
//	  enabled: true
//	  bot_user_id: "@support-bot:example.org"
//	  access_token: "${FOYER_SUPPORT_TOKEN}"
//	  root_name: "Customer Support"
//	  state_path: "./foyer-spaces.json"
//
// Timeline:
//
//	timeline:
//	  history_limit: 50
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() validates:
//
//   - Homeserver URL syntax and server name presence
//   - Registration shared secret presence
//   - Department ids are unique and carry bot credentials
//   - Session backend is a known kind with the settings it needs
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("./config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
