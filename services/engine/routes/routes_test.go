// Copyright (C) 2025 Loomworks (engineering@loomworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/pkg/logging"
	"github.com/loomworks/loom/services/engine/agent"
	"github.com/loomworks/loom/services/engine/datatypes"
	"github.com/loomworks/loom/services/engine/extract"
	"github.com/loomworks/loom/services/engine/format"
	"github.com/loomworks/loom/services/engine/job"
	"github.com/loomworks/loom/services/engine/model"
	"github.com/loomworks/loom/services/engine/node"
	"github.com/loomworks/loom/services/engine/store"
	"github.com/loomworks/loom/services/llm"
)

type testEnv struct {
	router *gin.Engine
	store  *store.Store
	orch   *job.Orchestrator
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s, err := store.New(store.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	logger := logging.New(logging.Config{Quiet: true})
	client := &llm.MockClient{Responses: []string{"generated text"}}
	agentExec := agent.NewExecutor(client, format.Apply, logger)
	exec := node.NewExecutor(s, client, extract.TextExtractor{}, agentExec, nil, logger)
	orch := job.NewOrchestrator(s, job.NewQueue(2, 20), exec, "", nil, logger)

	files, err := extract.NewFileStore(t.TempDir())
	require.NoError(t, err)

	router := gin.New()
	SetupRoutes(router, s, orch, files, 20)
	return &testEnv{router: router, store: s, orch: orch}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func (e *testEnv) createWorkflow(t *testing.T) model.Workflow {
	t.Helper()
	w := e.do(t, http.MethodPost, "/v1/workflows", gin.H{"name": "pipeline"})
	require.Equal(t, http.StatusCreated, w.Code)
	return decode[model.Workflow](t, w)
}

func TestHealth(t *testing.T) {
	env := setupEnv(t)
	w := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWorkflows_CreateAndGet(t *testing.T) {
	env := setupEnv(t)

	wf := env.createWorkflow(t)
	assert.Equal(t, "pipeline", wf.Name)
	assert.NotEmpty(t, wf.ID)

	w := env.do(t, http.MethodPost, "/v1/workflows", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code, "name is required")

	w = env.do(t, http.MethodGet, "/v1/workflows/"+wf.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode[datatypes.WorkflowDetail](t, w)
	assert.Empty(t, detail.Nodes)

	w = env.do(t, http.MethodGet, "/v1/workflows/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNodes_AdmissionValidation(t *testing.T) {
	env := setupEnv(t)
	wf := env.createWorkflow(t)
	base := "/v1/workflows/" + wf.ID + "/nodes"

	w := env.do(t, http.MethodPost, base, gin.H{
		"node_type": "formatter",
		"config":    gin.H{"rules": []string{"lowercase"}},
	})
	assert.Equal(t, http.StatusCreated, w.Code)

	// Invalid configs are rejected with the offending field named.
	w = env.do(t, http.MethodPost, base, gin.H{
		"node_type": "generative_ai",
		"config":    gin.H{"model": "gpt-4o", "prompt": "no placeholder"},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "{text}")

	w = env.do(t, http.MethodPost, base, gin.H{
		"node_type": "agent",
		"config": gin.H{
			"objective":      "x",
			"tools":          []string{"llm_call"},
			"budgets":        gin.H{},
			"max_concurrent": 99,
		},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "max_concurrent")

	w = env.do(t, http.MethodPost, base, gin.H{"node_type": "teleport"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/v1/workflows/missing/nodes", gin.H{"node_type": "formatter"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNodes_OrderIndexAppends(t *testing.T) {
	env := setupEnv(t)
	wf := env.createWorkflow(t)
	base := "/v1/workflows/" + wf.ID + "/nodes"

	for i := 0; i < 3; i++ {
		w := env.do(t, http.MethodPost, base, gin.H{
			"node_type": "formatter",
			"config":    gin.H{"rules": []string{"lowercase"}},
		})
		require.Equal(t, http.StatusCreated, w.Code)
		n := decode[model.Node](t, w)
		assert.Equal(t, i, n.OrderIndex)
	}
}

func TestEdges_SyncValidation(t *testing.T) {
	env := setupEnv(t)
	wf := env.createWorkflow(t)
	nodesPath := "/v1/workflows/" + wf.ID + "/nodes"
	edgesPath := "/v1/workflows/" + wf.ID + "/edges"

	var ids []string
	for i := 0; i < 2; i++ {
		w := env.do(t, http.MethodPost, nodesPath, gin.H{
			"node_type": "formatter",
			"config":    gin.H{"rules": []string{"lowercase"}},
		})
		require.Equal(t, http.StatusCreated, w.Code)
		ids = append(ids, decode[model.Node](t, w).ID)
	}

	w := env.do(t, http.MethodPost, edgesPath, gin.H{"from_node_id": ids[0], "to_node_id": ids[1]})
	require.Equal(t, http.StatusCreated, w.Code)
	edge := decode[model.Edge](t, w)
	assert.Equal(t, model.DefaultFromPort, edge.FromPort)
	assert.Equal(t, model.DefaultToPort, edge.ToPort)

	// Closing the loop is rejected and not persisted.
	w = env.do(t, http.MethodPost, edgesPath, gin.H{"from_node_id": ids[1], "to_node_id": ids[0]})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "cycle")

	w = env.do(t, http.MethodGet, edgesPath, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]model.Edge](t, w), 1)

	w = env.do(t, http.MethodPost, edgesPath, gin.H{"from_node_id": ids[0], "to_node_id": "ghost"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "unknown node")
}

func TestJobs_EndToEnd(t *testing.T) {
	env := setupEnv(t)
	wf := env.createWorkflow(t)
	nodesPath := "/v1/workflows/" + wf.ID + "/nodes"

	for _, body := range []gin.H{
		{"node_type": "extract_text", "config": gin.H{}},
		{"node_type": "generative_ai", "config": gin.H{"model": "gpt-4o", "prompt": "Summarize: {text}"}},
		{"node_type": "formatter", "config": gin.H{"rules": []string{"lowercase"}}},
	} {
		w := env.do(t, http.MethodPost, nodesPath, body)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := env.do(t, http.MethodPost, "/v1/workflows/"+wf.ID+"/jobs", nil)
	require.Equal(t, http.StatusAccepted, w.Code)
	jb := decode[model.Job](t, w)

	env.orch.Wait()

	w = env.do(t, http.MethodGet, "/v1/jobs/"+jb.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	detail := decode[datatypes.JobDetail](t, w)
	assert.Equal(t, model.StatusSucceeded, detail.Status)
	require.Len(t, detail.Steps, 3)
	assert.Equal(t, "generated text", detail.Steps[1].OutputText)
	assert.Contains(t, detail.FinalOutput, "generated text")

	w = env.do(t, http.MethodGet, "/v1/jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/v1/workflows/"+wf.ID+"/jobs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]model.Job](t, w), 1)
}

func TestJobs_WorkflowNotFound(t *testing.T) {
	env := setupEnv(t)
	w := env.do(t, http.MethodPost, "/v1/workflows/missing/jobs", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestQueueStatus(t *testing.T) {
	env := setupEnv(t)
	w := env.do(t, http.MethodGet, "/v1/queue", nil)
	require.Equal(t, http.StatusOK, w.Code)
	status := decode[datatypes.QueueStatus](t, w)
	assert.Equal(t, 0, status.PendingDepth)
	assert.Equal(t, 20, status.MaxQueueSize)
}

func multipartPDF(t *testing.T, field, filename string, content []byte, mimeType string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	header.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestFiles_UploadAndGet(t *testing.T) {
	env := setupEnv(t)
	pdf := []byte("%PDF-1.4\nBT (hello) Tj ET\n%%EOF")

	body, contentType := multipartPDF(t, "file", "doc.pdf", pdf, "application/pdf")
	req := httptest.NewRequest(http.MethodPost, "/v1/files", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	resp := decode[datatypes.UploadResponse](t, w)
	assert.NotEmpty(t, resp.FileID)
	assert.Equal(t, int64(len(pdf)), resp.SizeBytes)

	w2 := env.do(t, http.MethodGet, "/v1/files/"+resp.FileID, nil)
	require.Equal(t, http.StatusOK, w2.Code)

	// Wrong mime type is rejected before storage.
	body, contentType = multipartPDF(t, "file", "doc.txt", []byte("plain"), "text/plain")
	req = httptest.NewRequest(http.MethodPost, "/v1/files", body)
	req.Header.Set("Content-Type", contentType)
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
