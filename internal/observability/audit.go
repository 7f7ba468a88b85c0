package observability

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// AuditEvent emits one structured security-audit record. Reasons are for the
// log only; HTTP responses stay generic so failures do not leak which
// sub-check tripped.
func AuditEvent(ctx context.Context, eventName, outcome, reason string, attrs ...any) {
	base := []any{
		"event_name", eventName,
		"outcome", outcome,
		"reason", reason,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		base = append(base, "trace_id", sc.TraceID().String())
	}
	base = append(base, attrs...)
	slog.InfoContext(ctx, "audit.event", base...)
}
