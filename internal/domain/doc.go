// Package domain defines the core business types for the drip campaign engine.
//
// Types in this package carry no database dependencies and no HTTP concerns.
// They are the shared language between handlers, services, workers and
// repositories.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - JSON/DB tags are allowed (they're metadata, not behavior)
//   - State transitions are methods that take the current time as an
//     argument and never read the wall clock themselves
//   - Constants and enums belong here
package domain
