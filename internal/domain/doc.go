// Package domain defines the core business types for the sequence automation engine.
//
// Types in this package are value objects with no database dependencies and no
// HTTP concerns. They are the shared language between the engine, its
// repositories, the event intake, and the mailer.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - JSON/DB tags are allowed (they're metadata, not behavior)
//   - Parsing and validation of opaque config payloads into tagged unions lives here
//   - Constants and enums belong here
package domain
