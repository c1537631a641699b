// Package testutil provides testing utilities for the ingress-guard packages.
//
// It offers a concurrency-safe mock clock, a log capture helper, and helpers
// for asserting on OpenTelemetry metrics through a manual reader.
package testutil
