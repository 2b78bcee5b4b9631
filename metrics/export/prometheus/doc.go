// Package prometheus exposes engine counters as a prometheus.Collector.
//
// Counters are named authcore_*_total; the single histogram is
// authcore_authenticate_latency_seconds. [Handler] mounts the collector on
// a private registry.
package prometheus
