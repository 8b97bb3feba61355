// Package prometheus exposes authgate counters and latency histograms in the
// Prometheus text exposition format.
//
// Counters are named authgate_*_total. The login and token validation
// histograms appear only when the engine records latency. Mount
// [Exporter.Handler] yourself; nothing is registered globally.
package prometheus
