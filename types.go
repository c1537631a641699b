package guard

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/giantswarm/ingress-guard/security"
	"github.com/giantswarm/ingress-guard/upload"
)

// AnalyzeRequest is the JSON body accepted by the guarded endpoint.
type AnalyzeRequest struct {
	// FileData is the base64-encoded file content.
	FileData string `json:"fileData"`

	// FileName is informational only and never used for type detection.
	FileName string `json:"fileName,omitempty"`

	// FileType is the MIME type declared by the client.
	FileType string `json:"fileType"`
}

// AnalyzeResponse is the JSON body written by ServeAnalyze on success.
type AnalyzeResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data,omitempty"`
}

// Upload is an authenticated upload handed to downstream handlers.
type Upload struct {
	// Name is the client-supplied file name.
	Name string

	// Type is the content type confirmed by signature sniffing.
	Type upload.Format

	// Data is the decoded file content.
	Data []byte
}

// Size returns the decoded payload size in bytes.
func (u *Upload) Size() int {
	if u == nil {
		return 0
	}
	return len(u.Data)
}

type uploadContextKey struct{}

// WithUpload returns a context carrying the authenticated upload.
func WithUpload(ctx context.Context, up *Upload) context.Context {
	return context.WithValue(ctx, uploadContextKey{}, up)
}

// UploadFromContext returns the upload authenticated by Handler.Protect.
func UploadFromContext(ctx context.Context) (*Upload, bool) {
	if ctx == nil {
		return nil, false
	}
	up, ok := ctx.Value(uploadContextKey{}).(*Upload)
	return up, ok && up != nil
}

// IdentityFromContext returns the caller identity resolved by Handler.Protect.
func IdentityFromContext(ctx context.Context) (security.Identity, bool) {
	if ctx == nil {
		return security.Identity{}, false
	}
	return security.IdentityFromContext(ctx)
}

// decodeFileData decodes base64 file data. Standard and URL alphabets are
// accepted with or without padding, and a data URL prefix is stripped.
func decodeFileData(s string) ([]byte, error) {
	if i := strings.Index(s, ";base64,"); i >= 0 && strings.HasPrefix(s, "data:") {
		s = s[i+len(";base64,"):]
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, s)

	var firstErr error
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		data, err := enc.DecodeString(s)
		if err == nil {
			return data, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

// TextLimits bounds extracted document text, in characters.
type TextLimits struct {
	Min int
	Max int
}

// DefaultTextLimits returns the 100 to 50,000 character bounds.
func DefaultTextLimits() TextLimits {
	return TextLimits{Min: DefaultMinTextLength, Max: DefaultMaxTextLength}
}

// ValidateExtractedText checks text extracted from an authenticated upload
// against the default limits.
func ValidateExtractedText(text string) error {
	return DefaultTextLimits().Validate(text)
}

// Validate returns a 400 *Error when text is outside the limits.
// Length is counted in Unicode code points.
func (l TextLimits) Validate(text string) error {
	n := utf8.RuneCountInString(text)
	if n < l.Min {
		return NewError(ErrorCodeContentTooShort,
			fmt.Sprintf("Document text must be at least %d characters.", l.Min), http.StatusBadRequest)
	}
	if n > l.Max {
		return NewError(ErrorCodeContentTooLong,
			fmt.Sprintf("Document text must be at most %d characters.", l.Max), http.StatusBadRequest)
	}
	return nil
}
