// Package telemetry provides structured logging, Prometheus metrics
// and distributed tracing for the VTagger service.
package telemetry
