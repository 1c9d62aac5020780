// Package scheduler triggers periodic work. It owns registration and trigger
// timing only: each trigger checks the request's constraints against the
// host and hands the job to the task engine.
package scheduler
