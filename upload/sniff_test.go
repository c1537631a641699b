package upload

import (
	"bytes"
	"testing"
)

func docxHead() []byte {
	var b bytes.Buffer
	b.Write([]byte{'P', 'K', 0x03, 0x04, 0x14, 0x00, 0x06, 0x00})
	b.Write(make([]byte, 22))
	b.WriteString("[Content_Types].xml")
	b.Write(make([]byte, 64))
	return b.Bytes()
}

func TestSniff(t *testing.T) {
	zipOnly := append([]byte{'P', 'K', 0x03, 0x04}, []byte("mimetypeapplication/epub+zip")...)
	wordOnly := append([]byte{'P', 'K', 0x03, 0x04}, []byte("....word/document.xml")...)
	markerTooLate := append(append([]byte{'P', 'K', 0x03, 0x04}, make([]byte, 1000)...), []byte("word/")...)

	tests := []struct {
		name     string
		data     []byte
		declared Format
		want     Format
	}{
		{name: "empty", data: nil, declared: FormatPDF, want: FormatUnknown},
		{name: "pdf", data: []byte("%PDF-1.7\n%\xe2\xe3\xcf\xd3"), declared: FormatPDF, want: FormatPDF},
		{name: "pdf regardless of declared", data: []byte("%PDF-1.4"), declared: FormatText, want: FormatPDF},
		{name: "pdf magic only", data: []byte("%PDF"), declared: FormatPDF, want: FormatPDF},
		{name: "short pdf prefix", data: []byte("%PD"), declared: FormatPDF, want: FormatUnknown},
		{name: "docx content types marker", data: docxHead(), declared: FormatDOCX, want: FormatDOCX},
		{name: "docx word marker", data: wordOnly, declared: FormatDOCX, want: FormatDOCX},
		{name: "plain zip", data: zipOnly, declared: FormatDOCX, want: FormatZIP},
		{name: "marker past scan limit", data: markerTooLate, declared: FormatDOCX, want: FormatZIP},
		{name: "zip magic only", data: []byte{'P', 'K', 0x03, 0x04}, declared: FormatDOCX, want: FormatZIP},
		{name: "single byte", data: []byte{'P'}, declared: FormatDOCX, want: FormatUnknown},
		{name: "BOM text", data: []byte{0xEF, 0xBB, 0xBF, 'h', 'i'}, declared: FormatText, want: FormatText},
		{name: "BOM only", data: []byte{0xEF, 0xBB, 0xBF}, declared: FormatText, want: FormatText},
		{name: "ascii text", data: []byte("Hello,\tworld\r\n"), declared: FormatText, want: FormatText},
		{name: "utf8 text", data: []byte("Grüße aus Köln"), declared: FormatText, want: FormatText},
		{name: "text not declared", data: []byte("Hello world"), declared: FormatPDF, want: FormatUnknown},
		{name: "text with NUL", data: []byte("Hello\x00world"), declared: FormatText, want: FormatUnknown},
		{name: "zero bytes declared text", data: make([]byte, 200), declared: FormatText, want: FormatUnknown},
		{name: "zero bytes declared pdf", data: make([]byte, 200), declared: FormatPDF, want: FormatUnknown},
		{
			name:     "control byte beyond text scan window",
			data:     append(bytes.Repeat([]byte("a"), 100), 0x01),
			declared: FormatText,
			want:     FormatText,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sniff(tt.data, tt.declared); got != tt.want {
				t.Errorf("Sniff() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSniff_Idempotent(t *testing.T) {
	data := docxHead()
	first := Sniff(data, FormatDOCX)
	for i := 0; i < 3; i++ {
		if got := Sniff(data, FormatDOCX); got != first {
			t.Fatalf("Sniff() = %q on call %d, want %q", got, i+2, first)
		}
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
	}{
		{"application/pdf", FormatPDF},
		{"Application/PDF", FormatPDF},
		{"text/plain; charset=utf-8", FormatText},
		{"  application/msword ", FormatMSWord},
		{"", FormatUnknown},
		{"not a mime;;;", FormatUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseFormat(tt.in); got != tt.want {
				t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormat_IsAccepted(t *testing.T) {
	for _, f := range AcceptedFormats() {
		if !f.IsAccepted() {
			t.Errorf("%s should be accepted", f)
		}
	}
	for _, f := range []Format{FormatZIP, FormatUnknown, "image/png"} {
		if f.IsAccepted() {
			t.Errorf("%s should not be accepted", f)
		}
	}
	if FormatUnknown.String() != "unknown" {
		t.Errorf("FormatUnknown.String() = %q", FormatUnknown.String())
	}
}
