// Copyright (C) 2025 Loomworks (engineering@loomworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extract

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// MaxFileSize caps uploads at 10MB.
const MaxFileSize = 10 * 1024 * 1024

// allowedMimeTypes for uploads.
var allowedMimeTypes = map[string]bool{
	"application/pdf": true,
}

// ValidateUpload checks an uploaded file before it is stored.
//
// Outputs:
//
//	bool - True when the upload is acceptable.
//	string - Human-readable rejection reason otherwise.
func ValidateUpload(content []byte, mimeType string) (bool, string) {
	if !allowedMimeTypes[mimeType] {
		return false, fmt.Sprintf("invalid file type: expected PDF, got %s", mimeType)
	}
	if len(content) == 0 {
		return false, "empty file uploaded"
	}
	if len(content) > MaxFileSize {
		return false, fmt.Sprintf("file too large: maximum size is %dMB", MaxFileSize/(1024*1024))
	}
	if !bytes.HasPrefix(content, pdfMagic) {
		return false, "file is not a valid PDF document"
	}
	if bytes.Contains(content, []byte("/Encrypt")) {
		return false, "encrypted PDFs are not supported"
	}
	return true, ""
}

// FileStore writes uploads to a local directory.
type FileStore struct {
	uploadDir string
}

// NewFileStore creates the upload directory if needed.
func NewFileStore(uploadDir string) (*FileStore, error) {
	if err := os.MkdirAll(uploadDir, 0750); err != nil {
		return nil, fmt.Errorf("create upload directory %s: %w", uploadDir, err)
	}
	return &FileStore{uploadDir: uploadDir}, nil
}

// Store writes content to disk under a fresh id.
//
// Outputs:
//
//	string - The generated file id.
//	string - The on-disk path.
//	error - Non-nil if the write fails.
func (f *FileStore) Store(content []byte, filename string) (string, string, error) {
	fileID := uuid.NewString()

	ext := filepath.Ext(filename)
	if ext == "" {
		ext = ".pdf"
	}
	path := filepath.Join(f.uploadDir, fileID+ext)

	if err := os.WriteFile(path, content, 0640); err != nil {
		return "", "", fmt.Errorf("store file %s: %w", path, err)
	}
	return fileID, path, nil
}
