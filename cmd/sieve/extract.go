package main

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/ledongthuc/pdf"
)

// extractPDFText is the batch coordinator's text-extraction seam, backed by
// a pure-Go PDF reader. Encrypted or image-only PDFs fail here and the
// assessment surfaces the error.
func extractPDFText(_ context.Context, data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("failed to extract text: %w", err)
	}
	var sb bytes.Buffer
	if _, err := io.Copy(&sb, plain); err != nil {
		return "", fmt.Errorf("failed to read extracted text: %w", err)
	}
	return sb.String(), nil
}
