// Package internaldefs holds the metric names, help strings and histogram
// bounds shared by the Prometheus and OpenTelemetry exporters, so both expose
// identical series for the same Engine snapshot.
package internaldefs
