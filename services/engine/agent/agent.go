// Copyright (C) 2025 Loomworks (engineering@loomworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package agent runs a bounded tool-using loop inside a workflow node.
//
// Description:
//
//	The executor repeatedly asks an LLM to pick the next action given an
//	objective, a granted tool set and the current text, and dispatches
//	that action. Every budget is hard: wall-clock timeout, iteration cap
//	and per-call retry cap. The loop never fails the surrounding job with
//	an unbounded hang; every exit path produces a Result carrying a
//	termination reason.
//
// Thread Safety: an Executor is safe for concurrent Run calls; all loop
// state is local to the call.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/loomworks/loom/pkg/logging"
	"github.com/loomworks/loom/services/llm"
)

// TerminationReason explains why the agent loop stopped.
type TerminationReason string

const (
	// ReasonObjectiveAchieved means the model declared the objective met.
	ReasonObjectiveAchieved TerminationReason = "objective_achieved"
	// ReasonMaxIterations means the iteration budget ran out.
	ReasonMaxIterations TerminationReason = "max_iterations_reached"
	// ReasonTimeoutExceeded means the wall-clock budget ran out between
	// iterations.
	ReasonTimeoutExceeded TerminationReason = "timeout_exceeded"
	// ReasonLLMTimeout means a single LLM call kept timing out past the
	// retry budget.
	ReasonLLMTimeout TerminationReason = "llm_timeout"
	// ReasonError means an unrecoverable failure inside the loop.
	ReasonError TerminationReason = "error"
)

// LogEntry is one line of the agent execution log.
type LogEntry struct {
	Iteration int     `json:"iteration"`
	Action    string  `json:"action"`
	Timestamp float64 `json:"timestamp"`
	Warning   string  `json:"warning,omitempty"`
}

// Result is the outcome of one agent run. Runs never fail outright;
// failures are encoded in TerminationReason and ErrorMessage.
type Result struct {
	OutputText        string
	TerminationReason TerminationReason
	Iterations        int
	Elapsed           time.Duration
	ExecutionLog      []LogEntry
	ErrorMessage      string
}

const (
	decisionModel   = "gpt-4o-mini"
	statePreviewLen = 500
	perCallTimeout  = 10 * time.Second
	completeToken   = "complete"
)

// errLLMTimeout is internal to the retry loop.
var errLLMTimeout = errors.New("llm call timed out after retries")

// Applier applies formatting rules to text. Satisfied by format.Apply.
type Applier func(text string, rules []string) (string, error)

// Executor drives the bounded agent loop.
type Executor struct {
	llm    llm.LLMClient
	format Applier
	logger *logging.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewExecutor builds an Executor around an LLM client and a formatter.
func NewExecutor(client llm.LLMClient, format Applier, logger *logging.Logger) *Executor {
	return &Executor{
		llm:    client,
		format: format,
		logger: logger,
		sleep:  contextSleep,
	}
}

// Run executes the agent loop for a parsed configuration.
//
// Inputs:
//
//	ctx - Cancels the run; cancellation surfaces as the error reason.
//	cfg - Parsed agent configuration (see ParseConfig).
//	inputText - Seed text from the upstream node.
//
// Outputs:
//
//	*Result - Always non-nil; inspect TerminationReason.
func (e *Executor) Run(ctx context.Context, cfg *Config, inputText string) *Result {
	start := time.Now()
	timeout := time.Duration(cfg.TimeoutSeconds * float64(time.Second))

	res := &Result{OutputText: inputText}
	text := inputText

	finish := func(reason TerminationReason) *Result {
		res.TerminationReason = reason
		res.OutputText = text
		res.Elapsed = time.Since(start)
		e.logger.Slog().Info("agent run finished",
			"reason", string(reason),
			"iterations", res.Iterations,
			"elapsed_ms", res.Elapsed.Milliseconds())
		return res
	}
	fail := func(err error) *Result {
		res.ErrorMessage = err.Error()
		e.logger.Slog().Error("agent run failed", "error", Redact(err.Error()))
		return finish(ReasonError)
	}

	for iteration := 1; iteration <= cfg.MaxIterations; iteration++ {
		if time.Since(start) > timeout {
			return finish(ReasonTimeoutExceeded)
		}
		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		action, err := e.callWithRetry(ctx, e.decisionPrompt(cfg, text), cfg, start, timeout)
		switch {
		case errors.Is(err, errLLMTimeout):
			return finish(ReasonLLMTimeout)
		case err != nil:
			return fail(err)
		}

		action = strings.ToLower(strings.TrimSpace(action))
		res.Iterations = iteration
		entry := LogEntry{
			Iteration: iteration,
			Action:    action,
			Timestamp: time.Since(start).Seconds(),
		}
		e.logger.Slog().Debug("agent decision",
			"iteration", iteration,
			"action", Redact(action))

		// The decision must be the exact token; "incomplete" or a sentence
		// mentioning a tool name is not an instruction.
		if action == completeToken {
			res.ExecutionLog = append(res.ExecutionLog, entry)
			return finish(ReasonObjectiveAchieved)
		}

		switch {
		case action == ToolLLMCall && cfg.HasTool(ToolLLMCall):
			out, err := e.callWithRetry(ctx, e.processPrompt(cfg, text), cfg, start, timeout)
			switch {
			case errors.Is(err, errLLMTimeout):
				entry.Warning = "llm_call timed out; keeping previous text"
			case err != nil:
				res.ExecutionLog = append(res.ExecutionLog, entry)
				return fail(err)
			default:
				text = out
			}
		case action == ToolFormatter && cfg.HasTool(ToolFormatter):
			formatted, err := e.format(text, cfg.FormattingRules)
			if err != nil {
				res.ExecutionLog = append(res.ExecutionLog, entry)
				return fail(err)
			}
			text = formatted
		case action == ToolPDFExtract && cfg.HasTool(ToolPDFExtract):
			// Extraction needs a file reference; warn only when the current
			// text carries none.
			if !strings.Contains(text, "file_id:") {
				entry.Warning = "pdf_extract skipped: no file_id reference in the current text"
			}
		default:
			entry.Warning = fmt.Sprintf("unrecognized action %q; continuing", action)
		}
		res.ExecutionLog = append(res.ExecutionLog, entry)
	}

	return finish(ReasonMaxIterations)
}

// decisionPrompt asks the model to choose the next action. The state
// preview is capped so config-sized budgets stay meaningful.
func (e *Executor) decisionPrompt(cfg *Config, text string) string {
	preview := text
	if runes := []rune(preview); len(runes) > statePreviewLen {
		preview = string(runes[:statePreviewLen]) + "..."
	}
	return fmt.Sprintf(
		"Objective: %s\nAvailable tools: %s\nCurrent state: %s\n\n"+
			"Decide the next action. Reply with one tool name, or %q if the objective is achieved.",
		cfg.Objective, strings.Join(cfg.Tools, ", "), preview, completeToken)
}

func (e *Executor) processPrompt(cfg *Config, text string) string {
	return fmt.Sprintf("Task: %s\n\nText:\n%s", cfg.Objective, text)
}

// callWithRetry issues one LLM call with the per-call timeout clamped to
// the remaining wall-clock budget, retrying timeouts with exponential
// backoff. Non-timeout errors are returned as-is.
func (e *Executor) callWithRetry(ctx context.Context, prompt string, cfg *Config, start time.Time, timeout time.Duration) (string, error) {
	params := llm.GenerationParams{Model: decisionModel}

	for retry := 0; retry <= cfg.MaxRetries; retry++ {
		remaining := timeout - time.Since(start)
		if remaining <= 0 {
			break
		}
		callTimeout := perCallTimeout
		if remaining < callTimeout {
			callTimeout = remaining
		}

		callCtx, cancel := context.WithTimeout(ctx, callTimeout)
		out, err := e.llm.Generate(callCtx, prompt, params)
		cancel()

		if err == nil {
			return out, nil
		}
		if !isTimeout(err) {
			return "", err
		}
		if retry < cfg.MaxRetries {
			backoff := time.Duration(1<<uint(retry)) * time.Second
			e.logger.Slog().Warn("llm call timed out, retrying",
				"retry", retry+1, "backoff", backoff.String())
			if err := e.sleep(ctx, backoff); err != nil {
				return "", err
			}
		}
	}
	return "", errLLMTimeout
}

func isTimeout(err error) bool {
	return errors.Is(err, llm.ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

func contextSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
