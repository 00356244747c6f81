// Package prometheus exposes hybridAuth engine metrics through
// client_golang.
//
// [NewCollector] wraps an [hybridAuth.Engine] as a prometheus.Collector.
// Counter names are hybridauth_*_total and the single histogram is
// hybridauth_authorize_latency_seconds. Nothing is registered globally;
// callers register the collector or mount [Collector.Handler].
package prometheus
