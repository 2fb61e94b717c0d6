// Package tracing is a thin wrapper around OpenTelemetry so the rest of the
// code base can emit spans without depending on the upstream API directly.
// Applications that do not need tracing simply never call Init; spans are
// then no-ops.
package tracing
