package utils

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
)

// GzipText compresses extracted document text for storage. Short strings
// are stored as-is by callers; this always compresses.
func GzipText(text string) ([]byte, error) {
	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)
	if _, err := writer.Write([]byte(text)); err != nil {
		return nil, fmt.Errorf("failed to write to gzip writer: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

// GunzipText reverses GzipText.
func GunzipText(compressed []byte) (string, error) {
	if len(compressed) == 0 {
		return "", nil
	}

	reader, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return "", fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("failed to read from gzip reader: %w", err)
	}
	return string(data), nil
}
