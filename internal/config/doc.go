// Package config handles configuration loading for clonepilot.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// Defaults are applied before validation, so an almost empty file is usable.
//
// # Configuration File
//
// Lookup order:
//
//  1. Path given with --config
//  2. Path from CLONEPILOT_CONFIG environment variable
//  3. ./config.yaml (current directory)
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	directline:
//	  secret: "${DIRECTLINE_SECRET}"
//
// DIRECTLINE_SECRET and DIRECTLINE_ENDPOINT are also read directly when the
// file leaves those values empty. CLONEPILOT_DB_PATH overrides database.path.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	polling:
//	  interval: "300ms"
//	  grace: "300ms"
//	  deadline: "30s"
//
// # Configuration Sections
//
// Remote agent:
//
//	directline:
//	  endpoint: "https://europe.directline.botframework.com/v3/directline"
//	  secret: "${DIRECTLINE_SECRET}"
//	  user_id: "user"                 # activities from this id are our own echoes
//	  start_event: "startConversation"
//	  forward_first_message: false
//	  oauth:                          # optional, replaces the static secret
//	    token_url: "https://login.example/oauth2/v2.0/token"
//	    client_id: "${CLIENT_ID}"
//	    client_secret: "${CLIENT_SECRET}"
//	    scopes: ["https://api.example/.default"]
//
// Reply collection:
//
//	polling:
//	  policy: "quiescence"   # quiescence, signal
//	  max_attempts: 20
//	  quiet_polls: 3
//	  max_fetch_failures: 1
//	  awaiting_input_events: ["awaitingInput"]
//
// Sessions:
//
//	database:
//	  path: ""   # empty or ":memory:" for in-process, otherwise a SQLite file
//
// Tailscale:
//
//	tailscale:
//	  enabled: false
//	  hostname: "clonepilot"
//	  auth_key: "${TS_AUTHKEY}"
//	  https: true
//	  funnel: false
//
// # Validation
//
// Validate() checks the polling policy and counts, the JWT secret length,
// the Tailscale hostname and the logging options. A missing Direct Line
// credential is reported by the transport, not by Validate.
package config
