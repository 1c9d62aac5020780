// Package storage provides the persistence layer used by the daemon.
//
// It stores:
//   - The event log document (a JSON array, rewritten as a whole)
//   - Scheduling preferences (constraints, interval, scheduled flag)
package storage
