// Package handoff drives one background sync run: it hands work from a worker
// goroutine to the single serialized owner loop, waits on two bounded phases
// (bootstrap, then completion) and always releases the sync guard and ends the
// run's session, whatever the outcome.
package handoff
