package main

import (
	"bytes"
	"context"
	"log/slog"
	"unicode/utf8"

	guard "github.com/giantswarm/ingress-guard"
	"github.com/giantswarm/ingress-guard/upload"
)

// acceptedUpload is what the demo analyzer reports back.
type acceptedUpload struct {
	FileName   string `json:"fileName,omitempty"`
	Type       string `json:"type"`
	Bytes      int    `json:"bytes"`
	Characters int    `json:"characters,omitempty"`
}

// stubAnalyzer stands in for document extraction and analysis. Plain text
// is checked against the extracted text limits; other formats are reported
// as accepted without extraction.
type stubAnalyzer struct {
	server *guard.Server
	logger *slog.Logger
}

func (a stubAnalyzer) Analyze(_ context.Context, up *guard.Upload) (any, error) {
	result := acceptedUpload{
		FileName: up.Name,
		Type:     up.Type.String(),
		Bytes:    up.Size(),
	}

	if up.Type == upload.FormatText {
		text := string(bytes.TrimPrefix(up.Data, []byte{0xEF, 0xBB, 0xBF}))
		if err := a.server.ValidateText(text); err != nil {
			return nil, err
		}
		result.Characters = utf8.RuneCountInString(text)
	}

	a.logger.Debug("Upload accepted", "type", result.Type, "bytes", result.Bytes)
	return result, nil
}
