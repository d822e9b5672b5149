// Package postgres implements the sequence engine's store interfaces against
// PostgreSQL using database/sql and lib/pq.
//
// Enrollment progress writes are single-row compare-and-swap updates on the
// version column; step logs are insert-only.
package postgres
