// Package eventlog provides LogStore implementations for the append-only
// event log: a process-local in-memory store for tests and demos and a
// durable SQLite-backed store for deployments that must survive restarts.
package eventlog
