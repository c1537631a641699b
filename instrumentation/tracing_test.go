package instrumentation

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingInstrumentation(t *testing.T) (*Instrumentation, *tracetest.SpanRecorder) {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	inst, err := New(Config{Enabled: true, TracerProvider: tp})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return inst, recorder
}

func TestRecordError(t *testing.T) {
	inst, recorder := newRecordingInstrumentation(t)

	_, span := inst.Tracer("security").Start(context.Background(), "test-span")
	RecordError(span, errors.New("test error"))
	span.End()

	ended := recorder.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(ended))
	}
	if ended[0].Status().Code != codes.Error {
		t.Errorf("status = %v, want %v", ended[0].Status().Code, codes.Error)
	}
}

func TestSetSpanSuccess(t *testing.T) {
	inst, recorder := newRecordingInstrumentation(t)

	_, span := inst.Tracer("security").Start(context.Background(), "test-span")
	SetSpanSuccess(span)
	span.End()

	if got := recorder.Ended()[0].Status().Code; got != codes.Ok {
		t.Errorf("status = %v, want %v", got, codes.Ok)
	}
}

func TestAddQuotaAttributes(t *testing.T) {
	inst, recorder := newRecordingInstrumentation(t)

	_, span := inst.Tracer("security").Start(context.Background(), "quota")
	AddQuotaAttributes(span, true, 5, 3, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	span.End()

	attrs := recorder.Ended()[0].Attributes()
	found := map[string]string{}
	for _, kv := range attrs {
		found[string(kv.Key)] = kv.Value.Emit()
	}

	if found[AttrQuotaRemaining] != "3" {
		t.Errorf("%s = %q, want %q", AttrQuotaRemaining, found[AttrQuotaRemaining], "3")
	}
	if found[AttrQuotaResetAt] != "2026-01-02T03:04:05Z" {
		t.Errorf("%s = %q", AttrQuotaResetAt, found[AttrQuotaResetAt])
	}
}

func TestAddIdentityAttributes_OmitsEmptyIP(t *testing.T) {
	inst, recorder := newRecordingInstrumentation(t)

	_, span := inst.Tracer("security").Start(context.Background(), "identity")
	AddIdentityAttributes(span, "fingerprint", true, "")
	span.End()

	for _, kv := range recorder.Ended()[0].Attributes() {
		if string(kv.Key) == AttrClientIP {
			t.Errorf("%s should not be set for empty IP", AttrClientIP)
		}
	}
}

func TestHelpers_NilSpan(t *testing.T) {
	// Should not panic
	RecordError(nil, errors.New("x"))
	SetSpanSuccess(nil)
	SetSpanError(nil, "x")
	AddUploadAttributes(nil, "text/plain", "", 0, "empty")
	AddStorageAttributes(nil, "apply", "memory")
	AddHTTPAttributes(nil, "POST", "/api/analyze", 200)
}
