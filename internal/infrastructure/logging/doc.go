// Package logging builds the bridge's slog logger from the logging config
// section.
//
// Records are JSON by default (format "text" switches to logfmt) and carry
// service and version fields. Output goes to stdout, stderr or a file
// rotated by lumberjack:
//
//	logging:
//	  level: info        # debug, info, warn, error
//	  format: json
//	  output: file
//	  file:
//	    path: /var/log/lmbridge/lmbridge.log
//	    max_size: 50     # MB
//	    max_backups: 5
//	    max_age: 28      # days
//	    compress: true
//
// Attributes named password, token, access_token, refresh_token, ble_token,
// installation_key or secret are replaced with "[REDACTED]". Do not rely on
// that for values logged under other keys.
package logging
