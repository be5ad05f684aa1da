// Package logging builds the structured slog logger shared by every
// subsystem of the access control core.
//
// Entries carry service and version attributes; subsystems add a component
// attribute through Logger.Component. Values under keys ending in
// "password", "token" or "secret" are replaced with [REDACTED] before they
// are written.
//
//	logging:
//	  level: info     # debug, info, warn, error
//	  format: json    # json, text
//	  output: stdout  # stdout, stderr
//
// Card identifiers appear only in access-decision entries.
package logging
