package upload

import (
	"mime"
	"strings"
)

// Format is a MIME type naming a file format. The zero value means the format
// could not be identified.
type Format string

// Formats known to the sniffer.
const (
	FormatUnknown Format = ""
	FormatPDF     Format = "application/pdf"
	FormatDOCX    Format = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	FormatMSWord  Format = "application/msword"
	FormatText    Format = "text/plain"
	// FormatZIP is detected for ZIP archives that are not office documents.
	// It is never accepted as an upload.
	FormatZIP Format = "application/zip"
)

// acceptedFormats maps each declarable upload type to the format the sniffer
// must detect for it. Legacy .doc uploads are handed to the same extractor as
// .docx, so they have to carry an OOXML package as well.
var acceptedFormats = map[Format]Format{
	FormatPDF:    FormatPDF,
	FormatDOCX:   FormatDOCX,
	FormatMSWord: FormatDOCX,
	FormatText:   FormatText,
}

// String returns the MIME type, or "unknown" for FormatUnknown.
func (f Format) String() string {
	if f == FormatUnknown {
		return "unknown"
	}
	return string(f)
}

// IsAccepted reports whether f may be declared for an upload.
func (f Format) IsAccepted() bool {
	_, ok := acceptedFormats[f]
	return ok
}

// AcceptedFormats returns the declarable upload types.
func AcceptedFormats() []Format {
	return []Format{FormatPDF, FormatDOCX, FormatMSWord, FormatText}
}

// ParseFormat normalizes a caller-declared content type. Parameters such as
// charset are dropped and the media type is lower-cased. Unparseable input
// yields FormatUnknown.
func ParseFormat(declared string) Format {
	declared = strings.TrimSpace(declared)
	if declared == "" {
		return FormatUnknown
	}
	mediaType, _, err := mime.ParseMediaType(declared)
	if err != nil {
		return FormatUnknown
	}
	return Format(strings.ToLower(mediaType))
}
