// Package prometheus exposes tgauth Engine counters as a prometheus.Collector.
//
// The exporter registers itself in a private registry and never touches
// prometheus.DefaultRegisterer. Mount [Exporter.Handler] on the metrics route.
// Counter names are tgauth_*_total and the only histogram is
// tgauth_validate_latency_seconds.
package prometheus
