// Package sinks holds the progress consumers wired by progress.enabled:
// structured logs and Prometheus collectors.
package sinks
