// Package otel publishes hybridAuth engine metrics through an OpenTelemetry
// Meter supplied by the caller.
//
// Each engine counter becomes an Int64ObservableCounter. The authorize
// latency histogram is reported as two gauges, a cumulative _bucket series
// labelled le and a _count series, because the OTel API has no observable
// histogram. A single callback reads [hybridAuth.Engine.MetricsSnapshot] per
// collection cycle.
package otel
