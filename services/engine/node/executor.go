// Copyright (C) 2025 Loomworks (engineering@loomworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package node validates node configurations and executes single nodes.
//
// Description:
//
//	The Executor is the dispatch point between a typed workflow node and
//	the collaborator that implements its behavior: the extractor for
//	extract_text, the LLM client for generative_ai, the formatter rules
//	for formatter and the bounded agent loop for agent. Every invocation
//	records exactly one JobStep, moved from Running to a terminal status
//	with the node's configuration snapshotted at call time.
//
// Thread Safety: an Executor is safe for concurrent Execute calls.
package node

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/loomworks/loom/pkg/logging"
	"github.com/loomworks/loom/services/engine/agent"
	"github.com/loomworks/loom/services/engine/extract"
	"github.com/loomworks/loom/services/engine/format"
	"github.com/loomworks/loom/services/engine/model"
	"github.com/loomworks/loom/services/engine/observability"
	"github.com/loomworks/loom/services/engine/store"
	"github.com/loomworks/loom/services/llm"
)

// ExtractedPrefix marks pass-through output of an extract_text node that
// had no file to read.
const ExtractedPrefix = "[EXTRACTED] "

// ErrUnknownNodeType is returned when dispatch meets a type outside the
// closed set.
var ErrUnknownNodeType = errors.New("unknown node type")

// Executor runs one workflow node and records its JobStep.
type Executor struct {
	store     *store.Store
	llm       llm.LLMClient
	extractor extract.Extractor
	agent     *agent.Executor
	metrics   *observability.EngineMetrics
	logger    *logging.Logger
}

// NewExecutor wires the executor to its collaborators. metrics may be
// nil in tests.
func NewExecutor(
	st *store.Store,
	client llm.LLMClient,
	extractor extract.Extractor,
	agentExec *agent.Executor,
	metrics *observability.EngineMetrics,
	logger *logging.Logger,
) *Executor {
	return &Executor{
		store:     st,
		llm:       client,
		extractor: extractor,
		agent:     agentExec,
		metrics:   metrics,
		logger:    logger,
	}
}

// Execute runs the node against inputText and persists its JobStep.
//
// Inputs:
//
//	ctx - Cancels in-flight LLM and agent work.
//	jobID - The job this step belongs to.
//	node - The node to execute; dispatch is on node.Type.
//	inputText - Aggregated upstream output (or the seed text).
//
// Outputs:
//
//	string - The node's output text; empty on failure.
//	error - Non-nil when the step failed; the JobStep already records it.
func (e *Executor) Execute(ctx context.Context, jobID string, node model.Node, inputText string) (string, error) {
	ctx, span := otel.Tracer("loom/engine/node").Start(ctx, "node.execute",
		trace.WithAttributes(
			attribute.String("node.id", node.ID),
			attribute.String("node.type", string(node.Type)),
			attribute.String("job.id", jobID)))
	defer span.End()

	start := time.Now()
	nodeID := node.ID

	step := model.JobStep{
		ID:             uuid.NewString(),
		JobID:          jobID,
		NodeID:         &nodeID,
		NodeType:       node.Type,
		Status:         model.StatusRunning,
		StartedAt:      start,
		InputText:      inputText,
		ConfigSnapshot: maps.Clone(node.Config),
	}
	if err := e.store.SaveJobStep(&step); err != nil {
		return "", fmt.Errorf("record step for node %s: %w", nodeID, err)
	}

	output, runErr := e.run(ctx, node, inputText)

	finished := time.Now()
	step.FinishedAt = &finished
	if runErr != nil {
		step.Status = model.StatusFailed
		step.ErrorMessage = runErr.Error()
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
	} else {
		step.Status = model.StatusSucceeded
		step.OutputText = output
	}
	if err := e.store.SaveJobStep(&step); err != nil {
		e.logger.Slog().Error("persist step result", "step_id", step.ID, "error", err)
	}

	e.metrics.ObserveNode(string(node.Type), string(step.Status), time.Since(start))
	e.logger.Slog().Debug("node executed",
		"job_id", jobID,
		"node_id", nodeID,
		"node_type", string(node.Type),
		"status", string(step.Status),
		"elapsed_ms", time.Since(start).Milliseconds())

	if runErr != nil {
		return "", runErr
	}
	return output, nil
}

// run dispatches on the closed node-type set.
func (e *Executor) run(ctx context.Context, node model.Node, inputText string) (string, error) {
	switch node.Type {
	case model.NodeTypeExtractText:
		return e.runExtractText(node, inputText)
	case model.NodeTypeGenerativeAI:
		return e.runGenerative(ctx, node, inputText)
	case model.NodeTypeFormatter:
		return e.runFormatter(node, inputText)
	case model.NodeTypeAgent:
		return e.runAgent(ctx, node, inputText)
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownNodeType, node.Type)
}

// runExtractText reads the referenced upload, or marks the input as
// pass-through when the node carries no file reference.
func (e *Executor) runExtractText(node model.Node, inputText string) (string, error) {
	fileID, _ := node.Config["file_id"].(string)
	if fileID == "" {
		return ExtractedPrefix + inputText, nil
	}

	file, err := e.store.GetFile(fileID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("file not found: %s: %w", fileID, err)
		}
		return "", fmt.Errorf("look up file %s: %w", fileID, err)
	}
	return e.extractor.ExtractText(file.FilePath)
}

func (e *Executor) runGenerative(ctx context.Context, node model.Node, inputText string) (string, error) {
	if ok, reason := validateGenerative(node.Config); !ok {
		return "", errors.New(reason)
	}

	modelName := node.Config["model"].(string)
	promptTemplate := node.Config["prompt"].(string)
	prompt := strings.ReplaceAll(promptTemplate, PromptPlaceholder, inputText)

	params := llm.GenerationParams{Model: modelName}
	if raw, ok := node.Config["temperature"]; ok {
		f, _ := floatValue(raw)
		t := float32(f)
		params.Temperature = &t
	}
	if raw, ok := node.Config["top_p"]; ok {
		f, _ := floatValue(raw)
		t := float32(f)
		params.TopP = &t
	}
	if raw, ok := node.Config["max_tokens"]; ok {
		n, _ := intValue(raw)
		params.MaxTokens = &n
	}

	output, err := e.llm.Generate(ctx, prompt, params)
	if err != nil {
		e.metrics.LLMRequest(modelName, "error")
		return "", fmt.Errorf("generate with %s: %w", modelName, err)
	}
	e.metrics.LLMRequest(modelName, "success")
	return output, nil
}

func (e *Executor) runFormatter(node model.Node, inputText string) (string, error) {
	rules, ok := stringList(node.Config["rules"])
	if !ok {
		return "", errors.New("formatter rules must be a list of strings")
	}
	return format.Apply(inputText, rules)
}

// runAgent parses the agent budget and runs the bounded loop. Budget
// exhaustion is a successful step with the loop's best text; only the
// loop's own error reason fails the step.
func (e *Executor) runAgent(ctx context.Context, node model.Node, inputText string) (string, error) {
	cfg, err := agent.ParseConfig(node.Config)
	if err != nil {
		return "", err
	}

	res := e.agent.Run(ctx, cfg, inputText)
	e.logger.Slog().Info("agent step finished",
		"node_id", node.ID,
		"reason", string(res.TerminationReason),
		"iterations", res.Iterations)

	if res.TerminationReason == agent.ReasonError {
		return "", fmt.Errorf("agent run failed: %s", res.ErrorMessage)
	}
	return res.OutputText, nil
}
