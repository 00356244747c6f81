// Package internaldefs holds the metric names, help strings and bucket
// boundaries shared by the Prometheus and OTel exporters, so both expose
// identical series for the same engine.
//
// It performs no I/O and does not import any exporter package.
package internaldefs
