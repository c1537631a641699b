package security

import (
	"encoding/binary"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// fingerprintHeaders are the request headers combined into a client fingerprint.
var fingerprintHeaders = []string{
	"User-Agent",
	"Accept-Language",
	"Accept-Encoding",
	"Sec-Ch-Ua",
	"Sec-Ch-Ua-Platform",
}

// maxFingerprintKeyLength is the largest key BLAKE2b accepts.
const maxFingerprintKeyLength = blake2b.Size

// fingerprintInput joins the fingerprint headers with "|". Missing headers
// contribute an empty segment so the positions stay stable.
func fingerprintInput(h http.Header) string {
	parts := make([]string, len(fingerprintHeaders))
	for i, name := range fingerprintHeaders {
		parts[i] = h.Get(name)
	}
	return strings.Join(parts, "|")
}

// Fingerprint returns the unkeyed client fingerprint for h: a 32-bit rolling
// hash (h = h*31 + b, wrapping) over the joined headers, rendered in base 36.
// Negative results keep their sign. This is a bucketing aid, not a security
// primitive; anyone can reproduce it from the same headers.
func Fingerprint(h http.Header) string {
	return rollingHash(fingerprintInput(h))
}

func rollingHash(s string) string {
	var hash int32
	for i := 0; i < len(s); i++ {
		hash = (hash << 5) - hash + int32(s[i])
	}
	return strconv.FormatInt(int64(hash), 36)
}

// keyedFingerprint returns "k" followed by the base-36 rendering of the first
// eight bytes of a BLAKE2b-128 MAC of the joined headers.
func keyedFingerprint(key []byte, h http.Header) (string, error) {
	mac, err := blake2b.New(16, key)
	if err != nil {
		return "", fmt.Errorf("failed to create fingerprint MAC: %w", err)
	}
	mac.Write([]byte(fingerprintInput(h)))
	sum := mac.Sum(nil)
	return "k" + strconv.FormatUint(binary.BigEndian.Uint64(sum[:8]), 36), nil
}
