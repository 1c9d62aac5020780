// Package notifier turns run lifecycle events into operator alerts.
//
// It listens on the event bus, renders finished (and optionally skipped) runs
// as short messages and delivers them through a queue drained by a single
// worker: rate limited, retried with jittered backoff, and deduplicated so a
// sync that keeps failing the same way does not flood the chat.
package notifier
