package security

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestGenerateRequestID(t *testing.T) {
	id1 := GenerateRequestID()
	id2 := GenerateRequestID()

	if id1 == id2 {
		t.Error("Expected unique request IDs")
	}
	if _, err := uuid.Parse(id1); err != nil {
		t.Errorf("GenerateRequestID() = %q is not a UUID: %v", id1, err)
	}
	if !isValidRequestID(id1) {
		t.Errorf("generated ID %q should pass validation", id1)
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-123")
	if got := GetRequestID(ctx); got != "req-123" {
		t.Errorf("GetRequestID() = %q, want %q", got, "req-123")
	}
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("GetRequestID() on empty context = %q, want empty", got)
	}
}

func TestIsValidRequestID(t *testing.T) {
	tests := []struct {
		name      string
		requestID string
		valid     bool
	}{
		{name: "alphanumeric", requestID: "abc123", valid: true},
		{name: "UUID format", requestID: "550e8400-e29b-41d4-a716-446655440000", valid: true},
		{name: "underscores", requestID: "req_abc_123", valid: true},
		{name: "max length 128", requestID: strings.Repeat("a", 128), valid: true},
		{name: "exceeds max length", requestID: strings.Repeat("a", 129), valid: false},
		{name: "empty", requestID: "", valid: false},
		{name: "CRLF injection", requestID: "abc\r\nX-Injected: yes", valid: false},
		{name: "space", requestID: "abc 123", valid: false},
		{name: "dot", requestID: "abc.123", valid: false},
		{name: "null byte", requestID: "abc\x00", valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isValidRequestID(tt.requestID); got != tt.valid {
				t.Errorf("isValidRequestID(%q) = %v, want %v", tt.requestID, got, tt.valid)
			}
		})
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name         string
		upstreamID   string
		wantPreserve bool
	}{
		{name: "generates new ID when not present", upstreamID: "", wantPreserve: false},
		{name: "preserves valid upstream ID", upstreamID: "upstream-id-42", wantPreserve: true},
		{name: "replaces ID with CRLF", upstreamID: "bad\r\nid", wantPreserve: false},
		{name: "replaces overly long ID", upstreamID: strings.Repeat("x", 200), wantPreserve: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = GetRequestID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodPost, "/api/analyze", nil)
			if tt.upstreamID != "" {
				req.Header.Set(RequestIDHeader, tt.upstreamID)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			got := rr.Header().Get(RequestIDHeader)
			if got == "" {
				t.Fatal("response is missing X-Request-ID")
			}
			if got != seen {
				t.Errorf("context ID %q differs from header %q", seen, got)
			}
			if tt.wantPreserve && got != tt.upstreamID {
				t.Errorf("X-Request-ID = %q, want upstream %q", got, tt.upstreamID)
			}
			if !tt.wantPreserve && got == tt.upstreamID {
				t.Errorf("X-Request-ID should have been regenerated, got %q", got)
			}
		})
	}
}
