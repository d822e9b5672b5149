// Package sequence implements the sequence automation engine.
//
// The Evaluator turns trigger events into enrollments, the Processor walks an
// enrollment through its sequence's ordered steps, and the Worker polls for
// due enrollments and hands each one to the Processor. Persistence, email
// dispatch and locking are consumed through the interfaces in interfaces.go;
// Postgres implementations live in repository/postgres/.
//
// Enrollment rows are written with compare-and-swap on their Version, so two
// processors racing on the same enrollment cannot both advance it.
package sequence
