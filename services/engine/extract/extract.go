// Copyright (C) 2025 Loomworks (engineering@loomworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extract owns the uploaded-file storage and the text-extraction
// collaborator boundary.
//
// The engine treats PDF parsing as opaque: Extractor is the interface the
// node executor calls, and the bundled implementation does only the
// structural checks the engine itself is responsible for (existence,
// header, encryption marker) plus a best-effort pull of literal text.
// Deployments wanting real PDF fidelity inject their own Extractor.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Sentinel errors for extraction failures.
var (
	// ErrFileNotFound indicates the file path does not exist.
	ErrFileNotFound = errors.New("file not found")

	// ErrCorrupted indicates the file is not a readable PDF.
	ErrCorrupted = errors.New("pdf file is corrupted or invalid")

	// ErrEncrypted indicates the PDF is encrypted and unsupported.
	ErrEncrypted = errors.New("encrypted pdfs are not supported")
)

// Extractor converts a stored file into plain text.
type Extractor interface {
	// ExtractText reads the file at path and returns its text content.
	//
	// Outputs:
	//   string - Extracted text.
	//   error - ErrFileNotFound, ErrCorrupted or ErrEncrypted.
	ExtractText(path string) (string, error)
}

// pdfMagic is the header every PDF starts with.
var pdfMagic = []byte("%PDF-")

// TextExtractor is the bundled Extractor implementation.
//
// It validates the header and encryption marker, then pulls literal
// strings out of uncompressed content streams. Compressed streams yield
// the documented fallback text rather than an error, matching the
// "no text content" behavior of the upstream extraction service.
type TextExtractor struct{}

// NoTextFallback is returned when a valid PDF yields no literal text.
const NoTextFallback = "No text content found in PDF"

// ExtractText implements Extractor.
func (TextExtractor) ExtractText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	if !bytes.HasPrefix(data, pdfMagic) {
		return "", ErrCorrupted
	}
	if bytes.Contains(data, []byte("/Encrypt")) {
		return "", ErrEncrypted
	}

	text := literalStrings(data)
	if strings.TrimSpace(text) == "" {
		return NoTextFallback, nil
	}
	return strings.TrimSpace(text), nil
}

// literalStrings collects parenthesized string literals from the raw
// bytes. This recovers text from uncompressed content streams only.
func literalStrings(data []byte) string {
	var b strings.Builder
	depth := 0
	escaped := false

	for _, c := range data {
		if depth > 0 {
			if escaped {
				escaped = false
				b.WriteByte(c)
				continue
			}
			switch c {
			case '\\':
				escaped = true
			case '(':
				depth++
			case ')':
				depth--
				if depth == 0 {
					b.WriteByte('\n')
				}
			default:
				if depth > 0 && c >= 0x20 && c < 0x7F {
					b.WriteByte(c)
				}
			}
			continue
		}
		if c == '(' {
			depth = 1
		}
	}
	return b.String()
}
