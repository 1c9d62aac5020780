// Package eventlog implements the bounded, persisted activity log and the
// session tracker that groups entries into named runs.
//
// The durable form is a JSON array of {timestamp, sessionId?, level, message}
// objects stored as a single storage document and rewritten on every
// mutation. Sessions live in memory only.
package eventlog
