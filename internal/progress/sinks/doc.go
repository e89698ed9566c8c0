// Package sinks holds the progress consumers wired by the server: a zap
// logger, Prometheus collectors and the job store.
package sinks
