// Copyright (C) 2025 Loomworks (engineering@loomworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package agent

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomworks/loom/pkg/logging"
	"github.com/loomworks/loom/services/engine/format"
	"github.com/loomworks/loom/services/llm"
)

func testExecutor(client llm.LLMClient) *Executor {
	logger := logging.New(logging.Config{Quiet: true})
	return NewExecutor(client, format.Apply, logger)
}

func baseConfig() map[string]any {
	return map[string]any{
		"objective": "summarize the document",
		"tools":     []any{"llm_call", "formatter"},
		"budgets":   map[string]any{},
	}
}

func TestRun_ObjectiveAchievedFirstIteration(t *testing.T) {
	mock := &llm.MockClient{Responses: []string{"complete"}}
	cfg, err := ParseConfig(baseConfig())
	require.NoError(t, err)

	res := testExecutor(mock).Run(context.Background(), cfg, "Seed Text")

	assert.Equal(t, ReasonObjectiveAchieved, res.TerminationReason)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, "Seed Text", res.OutputText)
	assert.Equal(t, 1, mock.Calls())
	require.Len(t, res.ExecutionLog, 1)
	assert.Equal(t, "complete", res.ExecutionLog[0].Action)
}

func TestRun_MaxIterationsReached(t *testing.T) {
	// The scripted action never matches a tool, so every iteration burns
	// exactly one decision call until the budget runs out.
	mock := &llm.MockClient{Responses: []string{"keep thinking"}}
	raw := baseConfig()
	raw["max_iterations"] = 2
	cfg, err := ParseConfig(raw)
	require.NoError(t, err)

	res := testExecutor(mock).Run(context.Background(), cfg, "input")

	assert.Equal(t, ReasonMaxIterations, res.TerminationReason)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, 2, mock.Calls())
	assert.Len(t, res.ExecutionLog, 2)
	assert.Equal(t, "input", res.OutputText, "text unchanged without tools")
}

func TestRun_FormatterTool(t *testing.T) {
	mock := &llm.MockClient{Responses: []string{"formatter", "complete"}}
	cfg, err := ParseConfig(baseConfig())
	require.NoError(t, err)

	res := testExecutor(mock).Run(context.Background(), cfg, "MIXED Case")

	assert.Equal(t, ReasonObjectiveAchieved, res.TerminationReason)
	assert.Equal(t, "mixed case", res.OutputText, "default formatting rule is lowercase")
	assert.Equal(t, 2, res.Iterations)
}

func TestRun_LLMCallReplacesText(t *testing.T) {
	mock := &llm.MockClient{Responses: []string{"llm_call", "Processed summary.", "complete"}}
	cfg, err := ParseConfig(baseConfig())
	require.NoError(t, err)

	res := testExecutor(mock).Run(context.Background(), cfg, "raw document text")

	assert.Equal(t, ReasonObjectiveAchieved, res.TerminationReason)
	assert.Equal(t, "Processed summary.", res.OutputText)
	assert.Equal(t, 3, mock.Calls(), "decision, process, decision")
}

func TestRun_SubstringDecisionDoesNotTerminate(t *testing.T) {
	// "incomplete" contains the completion token but is not it; the loop
	// must treat it as an unrecognized action and keep iterating.
	mock := &llm.MockClient{Responses: []string{"incomplete"}}
	raw := baseConfig()
	raw["max_iterations"] = 2
	cfg, err := ParseConfig(raw)
	require.NoError(t, err)

	res := testExecutor(mock).Run(context.Background(), cfg, "input")

	assert.Equal(t, ReasonMaxIterations, res.TerminationReason)
	assert.Equal(t, 2, res.Iterations)
	require.Len(t, res.ExecutionLog, 2)
	assert.NotEmpty(t, res.ExecutionLog[0].Warning)
}

func TestRun_SentenceMentioningToolIsNotDispatched(t *testing.T) {
	// A chatty reply naming a tool is not the tool token.
	mock := &llm.MockClient{Responses: []string{"let's run the formatter on this", "complete"}}
	cfg, err := ParseConfig(baseConfig())
	require.NoError(t, err)

	res := testExecutor(mock).Run(context.Background(), cfg, "MIXED Case")

	assert.Equal(t, ReasonObjectiveAchieved, res.TerminationReason)
	assert.Equal(t, "MIXED Case", res.OutputText, "formatter must not fire on a substring match")
	require.Len(t, res.ExecutionLog, 2)
	assert.NotEmpty(t, res.ExecutionLog[0].Warning)
}

func TestRun_PDFExtractWarnsOnlyWithoutFileReference(t *testing.T) {
	raw := baseConfig()
	raw["tools"] = []any{"pdf_extract"}
	cfg, err := ParseConfig(raw)
	require.NoError(t, err)

	mock := &llm.MockClient{Responses: []string{"pdf_extract", "complete"}}
	res := testExecutor(mock).Run(context.Background(), cfg, "plain text, nothing to read")
	require.Len(t, res.ExecutionLog, 2)
	assert.NotEmpty(t, res.ExecutionLog[0].Warning)

	mock = &llm.MockClient{Responses: []string{"pdf_extract", "complete"}}
	res = testExecutor(mock).Run(context.Background(), cfg, "source file_id: 1b2c3d")
	require.Len(t, res.ExecutionLog, 2)
	assert.Empty(t, res.ExecutionLog[0].Warning)
}

func TestDecisionPrompt_PreviewTruncatesOnRunes(t *testing.T) {
	cfg, err := ParseConfig(baseConfig())
	require.NoError(t, err)

	text := strings.Repeat("号", statePreviewLen+100)
	prompt := testExecutor(&llm.MockClient{}).decisionPrompt(cfg, text)

	assert.True(t, utf8.ValidString(prompt))
	assert.Contains(t, prompt, strings.Repeat("号", statePreviewLen)+"...")
	assert.NotContains(t, prompt, strings.Repeat("号", statePreviewLen+1))
}

func TestRun_UngrantedToolIsNotDispatched(t *testing.T) {
	mock := &llm.MockClient{Responses: []string{"formatter", "complete"}}
	raw := baseConfig()
	raw["tools"] = []any{"llm_call"}
	cfg, err := ParseConfig(raw)
	require.NoError(t, err)

	res := testExecutor(mock).Run(context.Background(), cfg, "MIXED Case")

	assert.Equal(t, ReasonObjectiveAchieved, res.TerminationReason)
	assert.Equal(t, "MIXED Case", res.OutputText, "formatter was not granted")
	require.Len(t, res.ExecutionLog, 2)
	assert.NotEmpty(t, res.ExecutionLog[0].Warning)
}

func TestRun_LLMTimeoutAfterRetries(t *testing.T) {
	mock := &llm.MockClient{Responses: []string{"complete"}, Delay: 200 * time.Millisecond}
	raw := baseConfig()
	raw["timeout_seconds"] = 0.05
	raw["max_retries"] = 0
	cfg, err := ParseConfig(raw)
	require.NoError(t, err)

	res := testExecutor(mock).Run(context.Background(), cfg, "input")

	assert.Equal(t, ReasonLLMTimeout, res.TerminationReason)
	assert.Equal(t, "input", res.OutputText)
	assert.Empty(t, res.ErrorMessage)
}

func TestRun_TimeoutExceededBeforeIteration(t *testing.T) {
	mock := &llm.MockClient{Responses: []string{"complete"}}
	cfg := &Config{
		Objective:      "x",
		Tools:          []string{ToolLLMCall},
		MaxIterations:  5,
		MaxRetries:     0,
		TimeoutSeconds: 1e-9,
	}

	res := testExecutor(mock).Run(context.Background(), cfg, "input")

	assert.Equal(t, ReasonTimeoutExceeded, res.TerminationReason)
	assert.Zero(t, mock.Calls())
}

func TestRun_UpstreamErrorIsNonFatal(t *testing.T) {
	mock := &llm.MockClient{Err: llm.ErrAuthentication}
	cfg, err := ParseConfig(baseConfig())
	require.NoError(t, err)

	res := testExecutor(mock).Run(context.Background(), cfg, "input")

	assert.Equal(t, ReasonError, res.TerminationReason)
	assert.NotEmpty(t, res.ErrorMessage)
	assert.Equal(t, "input", res.OutputText)
}

func TestRun_RetriesUseBackoff(t *testing.T) {
	mock := &llm.MockClient{Err: llm.ErrTimeout}
	raw := baseConfig()
	raw["max_retries"] = 2
	cfg, err := ParseConfig(raw)
	require.NoError(t, err)

	exec := testExecutor(mock)
	var slept []time.Duration
	exec.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	res := exec.Run(context.Background(), cfg, "input")

	assert.Equal(t, ReasonLLMTimeout, res.TerminationReason)
	assert.Equal(t, 3, mock.Calls(), "initial attempt plus two retries")
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, slept)
}

func TestParseConfig_Validation(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(map[string]any)
		wantErr string
	}{
		{"missing objective", func(m map[string]any) { delete(m, "objective") }, "objective"},
		{"missing tools", func(m map[string]any) { delete(m, "tools") }, "tools"},
		{"empty tools", func(m map[string]any) { m["tools"] = []any{} }, "non-empty list"},
		{"unknown tool", func(m map[string]any) { m["tools"] = []any{"web_search"} }, "invalid tool"},
		{"missing budgets", func(m map[string]any) { delete(m, "budgets") }, "budgets"},
		{"budgets not a map", func(m map[string]any) { m["budgets"] = "cheap" }, "must be a map"},
		{"max_concurrent too high", func(m map[string]any) { m["max_concurrent"] = 11 }, "between 1 and 10"},
		{"max_concurrent zero", func(m map[string]any) { m["max_concurrent"] = 0 }, "between 1 and 10"},
		{"max_concurrent fractional", func(m map[string]any) { m["max_concurrent"] = 1.5 }, "between 1 and 10"},
		{"timeout zero", func(m map[string]any) { m["timeout_seconds"] = 0 }, "between 0 and 30"},
		{"timeout too high", func(m map[string]any) { m["timeout_seconds"] = 30.5 }, "between 0 and 30"},
		{"max_retries negative", func(m map[string]any) { m["max_retries"] = -1 }, "between 0 and 3"},
		{"max_retries too high", func(m map[string]any) { m["max_retries"] = 4 }, "between 0 and 3"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := baseConfig()
			tc.mutate(raw)

			ok, reason := ValidateConfig(raw)
			assert.False(t, ok)
			assert.Contains(t, reason, tc.wantErr)

			_, err := ParseConfig(raw)
			assert.Error(t, err)
		})
	}
}

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig(baseConfig())
	require.NoError(t, err)

	assert.Equal(t, DefaultMaxIterations, cfg.MaxIterations)
	assert.Equal(t, DefaultMaxConcurrent, cfg.MaxConcurrent)
	assert.Equal(t, DefaultTimeoutSeconds, cfg.TimeoutSeconds)
	assert.Equal(t, DefaultMaxRetries, cfg.MaxRetries)
	assert.Equal(t, []string{"lowercase"}, cfg.FormattingRules)
}

func TestParseConfig_JSONNumbers(t *testing.T) {
	// JSON decoding hands every number over as float64.
	raw := baseConfig()
	raw["max_concurrent"] = float64(3)
	raw["timeout_seconds"] = float64(12)
	raw["max_retries"] = float64(1)

	cfg, err := ParseConfig(raw)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.MaxConcurrent)
	assert.Equal(t, 12.0, cfg.TimeoutSeconds)
	assert.Equal(t, 1, cfg.MaxRetries)
}

func TestRun_ContextCancelled(t *testing.T) {
	mock := &llm.MockClient{Responses: []string{"complete"}}
	cfg, err := ParseConfig(baseConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := testExecutor(mock).Run(ctx, cfg, "input")
	assert.Equal(t, ReasonError, res.TerminationReason)
	assert.Contains(t, res.ErrorMessage, "context canceled")
}
