// Package host implements the coordinator's host-side collaborators:
// foreground probes, the condition probe used for scheduling constraints,
// and run promoters.
package host
