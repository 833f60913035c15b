// Package sinks implements progress consumers: a structured zap log sink and
// a Prometheus sink. Each satisfies progress.Sink.
package sinks
