// Package config handles configuration loading for mentorsync.
//
// Configuration is loaded from YAML files with environment variable
// expansion. Values in the form ${VAR_NAME} are replaced from the
// environment before parsing, so tokens and URLs can stay out of the
// file itself:
//
//	realtime:
//	  url: "${PEERLY_REALTIME_URL}"
//	  max_reconnect_attempts: 5
//	  reconnect_base_delay: "1s"
//
//	api:
//	  base_url: "${PEERLY_API_URL}"
//
// Duration fields accept Go duration strings ("500ms", "1m30s").
// Missing optional fields are filled with package defaults; required
// fields are checked by Validate.
package config
