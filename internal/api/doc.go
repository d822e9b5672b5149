// Package api exposes the sequence engine over HTTP: health probes, trigger
// event ingestion, and worker statistics.
//
// Handlers depend on small interfaces (TriggerEnroller, WorkerMonitor,
// ConsumerMonitor) so they can be tested with httptest and fakes.
package api
