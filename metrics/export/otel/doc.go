// Package otel bridges authgate metrics to an OpenTelemetry Meter.
//
// Counters become Int64ObservableCounter instruments; each histogram bucket
// becomes an Int64ObservableGauge holding its cumulative count. The caller
// owns the MeterProvider.
package otel
