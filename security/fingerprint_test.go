package security

import (
	"net/http"
	"strings"
	"testing"
)

func TestFingerprint(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{
			name:    "no headers",
			headers: nil,
			want:    "29tds",
		},
		{
			name:    "user agent only keeps negative sign",
			headers: map[string]string{"User-Agent": "curl/8.4.0"},
			want:    "-rxzfmr",
		},
		{
			name: "browser headers",
			headers: map[string]string{
				"User-Agent":         "Mozilla/5.0",
				"Accept-Language":    "en-US",
				"Accept-Encoding":    "gzip, br",
				"Sec-CH-UA":          `"Chromium";v="128"`,
				"Sec-CH-UA-Platform": `"macOS"`,
			},
			want: "zff4lm",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			for k, v := range tt.headers {
				h.Set(k, v)
			}
			if got := Fingerprint(h); got != tt.want {
				t.Errorf("Fingerprint() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFingerprint_IgnoresOtherHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("User-Agent", "curl/8.4.0")
	before := Fingerprint(h)

	h.Set("Cookie", "session=abc")
	h.Set("X-Forwarded-For", "203.0.113.1")

	if after := Fingerprint(h); after != before {
		t.Errorf("Fingerprint() changed from %q to %q after unrelated headers", before, after)
	}
}

func TestFingerprintInput_PositionStable(t *testing.T) {
	h := http.Header{}
	h.Set("Accept-Encoding", "gzip")

	if got := fingerprintInput(h); got != "||gzip||" {
		t.Errorf("fingerprintInput() = %q, want %q", got, "||gzip||")
	}
}

func TestKeyedFingerprint(t *testing.T) {
	h := http.Header{}

	got, err := keyedFingerprint([]byte("secret"), h)
	if err != nil {
		t.Fatalf("keyedFingerprint() error = %v", err)
	}
	if got != "kn25r15563780" {
		t.Errorf("keyedFingerprint() = %q, want %q", got, "kn25r15563780")
	}

	other, err := keyedFingerprint([]byte("another"), h)
	if err != nil {
		t.Fatalf("keyedFingerprint() error = %v", err)
	}
	if other == got {
		t.Error("different keys should give different fingerprints")
	}
	if !strings.HasPrefix(other, "k") {
		t.Errorf("keyed fingerprint %q should start with k", other)
	}
}

func TestKeyedFingerprint_KeyTooLong(t *testing.T) {
	if _, err := keyedFingerprint(make([]byte, 65), http.Header{}); err == nil {
		t.Error("keyedFingerprint() with 65-byte key should fail")
	}
}
