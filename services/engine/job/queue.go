// Copyright (C) 2025 Loomworks (engineering@loomworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package job

import (
	"sync"
)

// Queue admission defaults.
const (
	DefaultMaxConcurrentPerWorkflow = 2
	DefaultMaxQueueSize             = 20
)

// Admission is the outcome of an Enqueue call.
type Admission int

const (
	// AdmissionRejected means the global pending queue is full.
	AdmissionRejected Admission = iota
	// AdmissionRunning means the job took a free concurrency slot and
	// should start executing immediately.
	AdmissionRunning
	// AdmissionQueued means the job joined the pending FIFO.
	AdmissionQueued
)

type queueEntry struct {
	jobID      string
	workflowID string
}

// Promoted identifies a pending job moved to running by Complete.
type Promoted struct {
	JobID      string
	WorkflowID string
}

// Queue is the in-process scheduling state for jobs: a per-workflow
// running set and a single global pending FIFO.
//
// Invariants, held under one mutex:
//   - len(running[wf]) <= maxPerWorkflow for every workflow
//   - len(pending) <= maxPending
//   - a job id appears in at most one of running/pending
//
// Both check-then-act sequences (enqueue-check-and-insert and
// complete-and-promote) run as single critical sections so a completion
// can never race an admission into overcommitting a slot.
type Queue struct {
	mu             sync.Mutex
	maxPerWorkflow int
	maxPending     int
	running        map[string][]string
	pending        []queueEntry
}

// NewQueue builds a Queue. Non-positive limits fall back to defaults.
func NewQueue(maxPerWorkflow, maxPending int) *Queue {
	if maxPerWorkflow <= 0 {
		maxPerWorkflow = DefaultMaxConcurrentPerWorkflow
	}
	if maxPending <= 0 {
		maxPending = DefaultMaxQueueSize
	}
	return &Queue{
		maxPerWorkflow: maxPerWorkflow,
		maxPending:     maxPending,
		running:        make(map[string][]string),
	}
}

// CanEnqueue reports whether a new job for the workflow would be
// admitted. The capacity gates are independent: a full pending queue
// always rejects, while a workflow at its running limit alone does not
// (the job defers to pending).
func (q *Queue) CanEnqueue(workflowID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) < q.maxPending
}

// Enqueue admits a job: straight into the running set when the workflow
// has a free slot, otherwise onto the pending FIFO. Returns
// AdmissionRejected when the pending queue is full; the caller must
// surface a capacity error and must not leave an orphaned job record.
func (q *Queue) Enqueue(workflowID, jobID string) Admission {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) >= q.maxPending {
		return AdmissionRejected
	}
	if len(q.running[workflowID]) < q.maxPerWorkflow {
		q.running[workflowID] = append(q.running[workflowID], jobID)
		return AdmissionRunning
	}
	q.pending = append(q.pending, queueEntry{jobID: jobID, workflowID: workflowID})
	return AdmissionQueued
}

// Complete removes a finished job from its workflow's running set and
// promotes at most one pending job whose own workflow now has a free
// slot, in FIFO order. The caller must start executing the promoted job.
func (q *Queue) Complete(workflowID, jobID string) (Promoted, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.removeRunning(workflowID, jobID)

	for i, entry := range q.pending {
		if len(q.running[entry.workflowID]) >= q.maxPerWorkflow {
			continue
		}
		q.pending = append(q.pending[:i], q.pending[i+1:]...)
		q.running[entry.workflowID] = append(q.running[entry.workflowID], entry.jobID)
		return Promoted{JobID: entry.jobID, WorkflowID: entry.workflowID}, true
	}
	return Promoted{}, false
}

func (q *Queue) removeRunning(workflowID, jobID string) {
	jobs := q.running[workflowID]
	for i, id := range jobs {
		if id == jobID {
			q.running[workflowID] = append(jobs[:i], jobs[i+1:]...)
			break
		}
	}
	if len(q.running[workflowID]) == 0 {
		delete(q.running, workflowID)
	}
}

// Depth returns the pending-queue length.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// RunningCount returns how many jobs of the workflow are executing.
func (q *Queue) RunningCount(workflowID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.running[workflowID])
}
