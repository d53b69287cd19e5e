// Copyright (C) 2025 Loomworks (engineering@loomworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package job owns the job lifecycle: admission through the bounded
// queue, linear or DAG execution, finalization and the promotion of
// queued work as running jobs finish.
//
// Description:
//
//	The Orchestrator is the single owner of the in-process Queue. Job
//	records are durable in the store, but which job runs next is decided
//	here. Promoted jobs execute on supervised goroutines tracked by a
//	WaitGroup so shutdown can drain in-flight work, and a promoted job's
//	terminal state is always observable in the store.
//
// Thread Safety: all methods are safe for concurrent use.
package job

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/loomworks/loom/pkg/logging"
	"github.com/loomworks/loom/services/engine/graph"
	"github.com/loomworks/loom/services/engine/model"
	"github.com/loomworks/loom/services/engine/node"
	"github.com/loomworks/loom/services/engine/observability"
	"github.com/loomworks/loom/services/engine/store"
)

// DefaultSeedText feeds nodes that have no upstream input.
const DefaultSeedText = "Initial text from document"

// PlaceholderOutput is the final output of a job none of whose steps
// succeeded.
const PlaceholderOutput = "No output produced"

// finalOutputSteps caps how many trailing succeeded steps contribute to
// the job's final output.
const finalOutputSteps = 3

// Sentinel errors surfaced to the API layer.
var (
	// ErrWorkflowNotFound rejects a job for a missing workflow.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrQueueFull rejects a job when the global pending queue is full.
	ErrQueueFull = errors.New("job queue is full")
)

// Orchestrator creates, admits and executes jobs.
type Orchestrator struct {
	store    *store.Store
	queue    *Queue
	exec     *node.Executor
	seedText string
	metrics  *observability.EngineMetrics
	logger   *logging.Logger

	wg sync.WaitGroup
}

// NewOrchestrator wires the orchestrator. An empty seedText falls back
// to DefaultSeedText; metrics may be nil.
func NewOrchestrator(
	st *store.Store,
	queue *Queue,
	exec *node.Executor,
	seedText string,
	metrics *observability.EngineMetrics,
	logger *logging.Logger,
) *Orchestrator {
	if seedText == "" {
		seedText = DefaultSeedText
	}
	return &Orchestrator{
		store:    st,
		queue:    queue,
		exec:     exec,
		seedText: seedText,
		metrics:  metrics,
		logger:   logger,
	}
}

// Queue exposes the admission state for status endpoints.
func (o *Orchestrator) Queue() *Queue {
	return o.queue
}

// Submit creates a job for the workflow and admits it.
//
// Inputs:
//
//	workflowID - Must reference an existing workflow.
//
// Outputs:
//
//	model.Job - The created job; Status is Pending until execution
//	starts asynchronously.
//	error - ErrWorkflowNotFound, ErrQueueFull, or a store failure. On
//	ErrQueueFull no job record remains behind.
func (o *Orchestrator) Submit(workflowID string) (model.Job, error) {
	if _, err := o.store.GetWorkflow(workflowID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.Job{}, fmt.Errorf("%w: %s", ErrWorkflowNotFound, workflowID)
		}
		return model.Job{}, err
	}

	jb := model.Job{
		ID:         uuid.NewString(),
		WorkflowID: workflowID,
		Status:     model.StatusPending,
		StartedAt:  time.Now().UTC(),
	}
	if err := o.store.SaveJob(jb); err != nil {
		return model.Job{}, err
	}

	switch o.queue.Enqueue(workflowID, jb.ID) {
	case AdmissionRejected:
		// A capacity rejection must not leave an orphaned Pending record.
		if err := o.store.DeleteJob(jb.ID); err != nil {
			o.logger.Slog().Error("delete rejected job", "job_id", jb.ID, "error", err)
		}
		o.metrics.QueueRejected("queue_full")
		return model.Job{}, ErrQueueFull
	case AdmissionRunning:
		o.startJob(jb)
	case AdmissionQueued:
		o.logger.Slog().Info("job queued", "job_id", jb.ID, "workflow_id", workflowID)
	}
	o.metrics.SetQueueDepth(o.queue.Depth())
	return jb, nil
}

// Wait blocks until all in-flight job goroutines finish. Used at
// shutdown and by tests asserting promoted jobs reach a terminal state.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// startJob runs the job on a tracked goroutine.
func (o *Orchestrator) startJob(jb model.Job) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.runJob(context.Background(), jb)
	}()
}

// runJob drives one job to a terminal state, then promotes queued work.
func (o *Orchestrator) runJob(ctx context.Context, jb model.Job) {
	ctx, span := otel.Tracer("loom/engine/job").Start(ctx, "job.run",
		trace.WithAttributes(
			attribute.String("job.id", jb.ID),
			attribute.String("workflow.id", jb.WorkflowID)))
	defer span.End()

	jb.Status = model.StatusRunning
	if err := o.store.SaveJob(jb); err != nil {
		o.logger.Slog().Error("mark job running", "job_id", jb.ID, "error", err)
	}
	o.metrics.JobStarted()
	o.logger.Slog().Info("job started", "job_id", jb.ID, "workflow_id", jb.WorkflowID)

	execErr := o.executeWorkflow(ctx, jb)

	finished := time.Now().UTC()
	jb.FinishedAt = &finished
	if execErr != nil {
		jb.Status = model.StatusFailed
		jb.ErrorMessage = execErr.Error()
	} else {
		jb.Status = model.StatusSucceeded
		jb.FinalOutput = o.finalOutput(jb.ID)
	}
	if err := o.store.SaveJob(jb); err != nil {
		o.logger.Slog().Error("finalize job", "job_id", jb.ID, "error", err)
	}
	o.metrics.JobFinished(string(jb.Status))
	o.logger.Slog().Info("job finished",
		"job_id", jb.ID,
		"status", string(jb.Status),
		"error", jb.ErrorMessage)

	// Complete-and-promote is one critical section in the queue; the
	// promoted job then starts on its own supervised goroutine.
	if promoted, ok := o.queue.Complete(jb.WorkflowID, jb.ID); ok {
		next, err := o.store.GetJob(promoted.JobID)
		if err != nil {
			o.logger.Slog().Error("load promoted job", "job_id", promoted.JobID, "error", err)
		} else {
			o.logger.Slog().Info("job promoted", "job_id", next.ID)
			o.startJob(next)
		}
	}
	o.metrics.SetQueueDepth(o.queue.Depth())
}

// executeWorkflow picks the execution strategy: linear declaration order
// when the workflow has no edges, batched DAG execution otherwise.
func (o *Orchestrator) executeWorkflow(ctx context.Context, jb model.Job) error {
	nodes, err := o.store.ListNodes(jb.WorkflowID)
	if err != nil {
		return fmt.Errorf("load nodes: %w", err)
	}
	edges, err := o.store.ListEdges(jb.WorkflowID)
	if err != nil {
		return fmt.Errorf("load edges: %w", err)
	}

	if len(edges) == 0 {
		return o.executeLinear(ctx, jb, nodes)
	}
	return o.executeDAG(ctx, jb, nodes, edges)
}

// executeLinear chains nodes in declaration order, each node's output
// feeding the next node's input.
func (o *Orchestrator) executeLinear(ctx context.Context, jb model.Job, nodes []model.Node) error {
	text := o.seedText
	for _, n := range nodes {
		out, err := o.exec.Execute(ctx, jb.ID, n, text)
		if err != nil {
			return err
		}
		text = out
	}
	return nil
}

type nodeResult struct {
	nodeID string
	output string
	err    error
}

// executeDAG validates the graph, then runs scheduler batches. Nodes in
// a batch execute concurrently; the first failure aborts the job without
// waiting out siblings, which run to completion independently and have
// their results discarded.
func (o *Orchestrator) executeDAG(ctx context.Context, jb model.Job, nodes []model.Node, edges []model.Edge) error {
	nodeIDs := make([]string, len(nodes))
	byID := make(map[string]model.Node, len(nodes))
	for i, n := range nodes {
		nodeIDs[i] = n.ID
		byID[n.ID] = n
	}

	if err := graph.ValidateEdges(nodeIDs, edges); err != nil {
		return fmt.Errorf("invalid workflow graph: %w", err)
	}

	outputs := make(map[string]string, len(nodes))
	batches := graph.Schedule(nodeIDs, edges)

	for {
		batch, ok := batches.Next()
		if !ok {
			return nil
		}

		results := make(chan nodeResult, len(batch))
		for _, nodeID := range batch {
			n := byID[nodeID]
			input := o.seedText
			if deps := graph.Dependencies(nodeID, edges); len(deps) > 0 {
				input = graph.AggregateInputs(deps, outputs)
			}

			o.wg.Add(1)
			go func() {
				defer o.wg.Done()
				out, err := o.exec.Execute(ctx, jb.ID, n, input)
				results <- nodeResult{nodeID: n.ID, output: out, err: err}
			}()
		}

		// The channel is buffered to the batch size, so siblings of a
		// failed node never block on send after we stop receiving.
		for range batch {
			res := <-results
			if res.err != nil {
				return res.err
			}
			outputs[res.nodeID] = res.output
		}
	}
}

// finalOutput joins the outputs of the last succeeded steps, in
// execution order, with a blank line between them.
func (o *Orchestrator) finalOutput(jobID string) string {
	steps, err := o.store.ListJobSteps(jobID)
	if err != nil {
		o.logger.Slog().Error("load steps for final output", "job_id", jobID, "error", err)
		return PlaceholderOutput
	}

	var outs []string
	for _, step := range steps {
		if step.Status == model.StatusSucceeded {
			outs = append(outs, step.OutputText)
		}
	}
	if len(outs) == 0 {
		return PlaceholderOutput
	}
	if len(outs) > finalOutputSteps {
		outs = outs[len(outs)-finalOutputSteps:]
	}
	return strings.Join(outs, "\n\n")
}
