package upload

import "bytes"

const (
	// officeScanLimit is how far into a ZIP payload the sniffer looks for
	// OOXML package entries. Local file headers for [Content_Types].xml and
	// word/ parts appear within the first kilobyte of documents produced by
	// common office suites.
	officeScanLimit = 1000

	// textScanLimit is how many leading bytes the plain-text heuristic inspects.
	textScanLimit = 100
)

var (
	pdfMagic = []byte("%PDF")
	zipMagic = []byte{'P', 'K', 0x03, 0x04}
	utf8BOM  = []byte{0xEF, 0xBB, 0xBF}

	officeMarkers = [][]byte{
		[]byte("[Content_Types].xml"),
		[]byte("word/"),
	}
)

// signatureRule maps a byte matcher to the format it identifies.
// Rules with declaredOnly set are consulted only when the caller declared
// that format, since text has no signature of its own.
type signatureRule struct {
	format       Format
	declaredOnly Format
	match        func(data []byte) bool
}

// signatureRules is evaluated in order; the first match wins, so more specific
// rules come first.
var signatureRules = []signatureRule{
	{format: FormatPDF, match: hasPrefix(pdfMagic)},
	{format: FormatDOCX, match: isOfficePackage},
	{format: FormatZIP, match: hasPrefix(zipMagic)},
	{format: FormatText, declaredOnly: FormatText, match: hasPrefix(utf8BOM)},
	{format: FormatText, declaredOnly: FormatText, match: looksLikeText},
}

// Sniff returns the format identified by the leading bytes of data, or
// FormatUnknown. declared only unlocks the text rules; it never changes which
// binary signature matches. Sniff is pure and safe for concurrent use.
func Sniff(data []byte, declared Format) Format {
	if len(data) == 0 {
		return FormatUnknown
	}
	for _, rule := range signatureRules {
		if rule.declaredOnly != FormatUnknown && rule.declaredOnly != declared {
			continue
		}
		if rule.match(data) {
			return rule.format
		}
	}
	return FormatUnknown
}

func hasPrefix(magic []byte) func([]byte) bool {
	return func(data []byte) bool {
		return bytes.HasPrefix(data, magic)
	}
}

func isOfficePackage(data []byte) bool {
	if !bytes.HasPrefix(data, zipMagic) {
		return false
	}
	head := data[:min(len(data), officeScanLimit)]
	for _, marker := range officeMarkers {
		if bytes.Contains(head, marker) {
			return true
		}
	}
	return false
}

// looksLikeText accepts tab, LF, CR, printable ASCII and any byte with the
// high bit set. Every other control byte fails the check.
func looksLikeText(data []byte) bool {
	for _, b := range data[:min(len(data), textScanLimit)] {
		switch {
		case b == '\t', b == '\n', b == '\r':
		case b >= 0x20 && b <= 0x7E:
		case b >= 0x80:
		default:
			return false
		}
	}
	return true
}
