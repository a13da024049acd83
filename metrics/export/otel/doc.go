// Package otel binds tgauth Engine counters to OpenTelemetry observable
// instruments. The caller owns the MeterProvider and passes a Meter in.
package otel
