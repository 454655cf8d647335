// Package instrumentation provides OpenTelemetry metrics and tracing for the
// connector. When disabled it falls back to no-op providers so instrumented
// code paths carry zero overhead.
package instrumentation
