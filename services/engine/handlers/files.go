// Copyright (C) 2025 Loomworks (engineering@loomworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loomworks/loom/services/engine/datatypes"
	"github.com/loomworks/loom/services/engine/extract"
	"github.com/loomworks/loom/services/engine/model"
	"github.com/loomworks/loom/services/engine/store"
)

// UploadFile accepts a multipart PDF upload, validates it and stores
// both the bytes and the metadata record. The returned file_id is what
// an extract_text node references.
func UploadFile(st *store.Store, files *extract.FileStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		header, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing multipart field: file"})
			return
		}

		f, err := header.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read upload"})
			return
		}
		defer f.Close()

		content, err := io.ReadAll(io.LimitReader(f, extract.MaxFileSize+1))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read upload"})
			return
		}

		mimeType := header.Header.Get("Content-Type")
		if ok, reason := extract.ValidateUpload(content, mimeType); !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": reason})
			return
		}

		fileID, path, err := files.Store(content, header.Filename)
		if err != nil {
			slog.Error("store upload", "filename", header.Filename, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store file"})
			return
		}

		record := model.UploadedFile{
			ID:        fileID,
			Filename:  header.Filename,
			MimeType:  mimeType,
			SizeBytes: int64(len(content)),
			FilePath:  path,
			CreatedAt: time.Now().UTC(),
		}
		if err := st.CreateFile(record); err != nil {
			slog.Error("record upload", "file_id", fileID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record file"})
			return
		}

		c.JSON(http.StatusCreated, datatypes.UploadResponse{
			FileID:    fileID,
			Filename:  record.Filename,
			SizeBytes: record.SizeBytes,
		})
	}
}

// GetFile returns upload metadata.
func GetFile(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		file, err := st.GetFile(c.Param("fileId"))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load file"})
			return
		}
		c.JSON(http.StatusOK, file)
	}
}

// HealthCheck answers liveness probes.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
