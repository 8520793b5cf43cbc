// ABOUTME: Package documentation for the config package
// ABOUTME: Describes config file formats and expansion behavior

// Package config loads the coven-relay configuration.
//
// Configuration lives in a single YAML or TOML file (selected by extension)
// with ${VAR} environment variable expansion applied to the raw content
// before parsing. Duration fields are written as Go duration strings
// ("4s", "1m30s") and parsed after unmarshaling. Load validates required
// fields and fills defaults, so a returned Config is always usable.
//
// Example YAML:
//
//	matrix:
//	  homeserver: https://matrix.example.org
//	  user_id: "@relay:example.org"
//	  access_token: ${MATRIX_ACCESS_TOKEN}
//	completion:
//	  base_url: https://api.openai.com/v1
//	  api_key: ${OPENAI_API_KEY}
//	  model: gpt-4o-mini
//	database:
//	  path: /var/lib/coven-relay/relay.db
//	bot:
//	  admin_user_id: "@admin:example.org"
//	  edit_interval: 4s
//	logging:
//	  level: info
package config
