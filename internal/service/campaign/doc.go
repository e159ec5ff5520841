// Package campaign implements campaign lifecycle control and metric rollup.
//
// The Controller half gates status changes (start, pause, schedule, edit,
// complete, archive). The Aggregator half recomputes counters from
// enrollments and derives rates. It depends on repository interfaces
// defined in this package and should never import from api/.
//
// Repository implementations live in repository/postgres/ and repository/memory/.
package campaign
