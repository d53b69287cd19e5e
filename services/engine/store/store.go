// Copyright (C) 2025 Loomworks (engineering@loomworks.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/loomworks/loom/services/engine/model"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Key prefixes. Records are JSON values under typed keys so prefix scans
// give per-workflow and per-job listings without secondary indexes.
const (
	prefixWorkflow = "wf:"
	prefixNode     = "node:" // node:<workflowID>:<nodeID>
	prefixEdge     = "edge:" // edge:<workflowID>:<edgeID>
	prefixJob      = "job:"  // job:<jobID>
	prefixJobIdx   = "jobidx:" // jobidx:<workflowID>:<jobID> -> jobID
	prefixStep     = "step:" // step:<jobID>:<seq, zero-padded>
	prefixFile     = "file:"
)

// Store is the engine's persistence layer.
//
// # Thread Safety
//
// Store is safe for concurrent use; BadgerDB transactions provide
// per-record consistency.
type Store struct {
	db     *badger.DB
	logger *slog.Logger

	// stepSeq orders job steps across the process lifetime. Seeded from
	// the wall clock so restarts keep keys monotonic.
	stepSeq atomic.Uint64

	gcStop chan struct{}
	gcOnce sync.Once
}

// New opens the store with the given configuration.
func New(cfg Config) (*Store, error) {
	db, err := open(cfg)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		db:     db,
		logger: logger,
		gcStop: make(chan struct{}),
	}
	s.stepSeq.Store(uint64(time.Now().UnixNano()))

	if cfg.GCInterval > 0 && !cfg.InMemory {
		go s.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return s, nil
}

// Close stops background GC and closes the database.
func (s *Store) Close() error {
	s.gcOnce.Do(func() { close(s.gcStop) })
	return s.db.Close()
}

// runGC runs value-log garbage collection until Close.
func (s *Store) runGC(interval time.Duration, discardRatio float64) {
	if discardRatio <= 0 {
		discardRatio = 0.5
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.gcStop:
			return
		case <-ticker.C:
			for {
				if err := s.db.RunValueLogGC(discardRatio); err != nil {
					break // badger.ErrNoRewrite means nothing to collect
				}
			}
		}
	}
}

// --- generic helpers ---

func (s *Store) put(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

func (s *Store) get(key string, out any) error {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	return err
}

// scan decodes every value under prefix into fresh T values.
func scan[T any](s *Store, prefix string) ([]T, error) {
	var results []T
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var record T
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &record)
			})
			if err != nil {
				return err
			}
			results = append(results, record)
		}
		return nil
	})
	return results, err
}

// --- workflows ---

// CreateWorkflow persists a new workflow record.
func (s *Store) CreateWorkflow(wf model.Workflow) error {
	return s.put(prefixWorkflow+wf.ID, wf)
}

// GetWorkflow returns the workflow or ErrNotFound.
func (s *Store) GetWorkflow(id string) (model.Workflow, error) {
	var wf model.Workflow
	err := s.get(prefixWorkflow+id, &wf)
	return wf, err
}

// ListWorkflows returns all workflows, newest first.
func (s *Store) ListWorkflows() ([]model.Workflow, error) {
	workflows, err := scan[model.Workflow](s, prefixWorkflow)
	if err != nil {
		return nil, err
	}
	sort.Slice(workflows, func(i, j int) bool {
		return workflows[i].CreatedAt.After(workflows[j].CreatedAt)
	})
	return workflows, nil
}

// --- nodes ---

func nodeKey(workflowID, nodeID string) string {
	return prefixNode + workflowID + ":" + nodeID
}

// CreateNode persists a node under its workflow.
func (s *Store) CreateNode(node model.Node) error {
	return s.put(nodeKey(node.WorkflowID, node.ID), node)
}

// GetNode returns the node or ErrNotFound.
func (s *Store) GetNode(workflowID, nodeID string) (model.Node, error) {
	var node model.Node
	err := s.get(nodeKey(workflowID, nodeID), &node)
	return node, err
}

// ListNodes returns a workflow's nodes in declaration order.
func (s *Store) ListNodes(workflowID string) ([]model.Node, error) {
	nodes, err := scan[model.Node](s, prefixNode+workflowID+":")
	if err != nil {
		return nil, err
	}
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].OrderIndex != nodes[j].OrderIndex {
			return nodes[i].OrderIndex < nodes[j].OrderIndex
		}
		return nodes[i].CreatedAt.Before(nodes[j].CreatedAt)
	})
	return nodes, nil
}

// DeleteNode removes a node and nulls the node reference on historical
// job steps. The denormalized NodeType on each step survives, so run
// history stays readable after the node is gone.
func (s *Store) DeleteNode(workflowID, nodeID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		key := []byte(nodeKey(workflowID, nodeID))
		if _, err := txn.Get(key); err != nil {
			return err
		}
		return txn.Delete(key)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return s.nullifyStepRefs(nodeID)
}

// nullifyStepRefs clears NodeID on every step that referenced the node.
func (s *Store) nullifyStepRefs(nodeID string) error {
	steps, err := scan[model.JobStep](s, prefixStep)
	if err != nil {
		return err
	}
	for _, step := range steps {
		if step.NodeID == nil || *step.NodeID != nodeID {
			continue
		}
		step.NodeID = nil
		if err := s.put(stepKey(step.JobID, step.Seq), step); err != nil {
			return err
		}
	}
	return nil
}

// --- edges ---

func edgeKey(workflowID, edgeID string) string {
	return prefixEdge + workflowID + ":" + edgeID
}

// CreateEdge persists an edge under its workflow.
func (s *Store) CreateEdge(edge model.Edge) error {
	return s.put(edgeKey(edge.WorkflowID, edge.ID), edge)
}

// ListEdges returns a workflow's edges in creation order.
func (s *Store) ListEdges(workflowID string) ([]model.Edge, error) {
	edges, err := scan[model.Edge](s, prefixEdge+workflowID+":")
	if err != nil {
		return nil, err
	}
	sort.Slice(edges, func(i, j int) bool {
		return edges[i].CreatedAt.Before(edges[j].CreatedAt)
	})
	return edges, nil
}

// --- jobs ---

// SaveJob creates or replaces a job record. Callers supply the full
// record state each call.
func (s *Store) SaveJob(job model.Job) error {
	if err := s.put(prefixJob+job.ID, job); err != nil {
		return err
	}
	return s.put(prefixJobIdx+job.WorkflowID+":"+job.ID, job.ID)
}

// GetJob returns the job or ErrNotFound.
func (s *Store) GetJob(id string) (model.Job, error) {
	var job model.Job
	err := s.get(prefixJob+id, &job)
	return job, err
}

// DeleteJob removes a job record, e.g. after a queue-capacity rejection
// so no orphaned Pending job survives.
func (s *Store) DeleteJob(id string) error {
	job, err := s.GetJob(id)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(prefixJob + id)); err != nil {
			return err
		}
		return txn.Delete([]byte(prefixJobIdx + job.WorkflowID + ":" + id))
	})
}

// ListJobsByWorkflow returns a workflow's jobs, newest first.
func (s *Store) ListJobsByWorkflow(workflowID string) ([]model.Job, error) {
	ids, err := scan[string](s, prefixJobIdx+workflowID+":")
	if err != nil {
		return nil, err
	}
	jobs := make([]model.Job, 0, len(ids))
	for _, id := range ids {
		job, err := s.GetJob(id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].StartedAt.After(jobs[j].StartedAt)
	})
	return jobs, nil
}

// --- job steps ---

func stepKey(jobID string, seq uint64) string {
	return fmt.Sprintf("%s%s:%020d", prefixStep, jobID, seq)
}

// SaveJobStep creates or replaces a step record. On first save the step
// is assigned a sequence number that fixes its position in the job's
// execution history; updates must carry the assigned Seq back.
func (s *Store) SaveJobStep(step *model.JobStep) error {
	if step.Seq == 0 {
		step.Seq = s.stepSeq.Add(1)
	}
	return s.put(stepKey(step.JobID, step.Seq), *step)
}

// ListJobSteps returns a job's steps in execution order.
func (s *Store) ListJobSteps(jobID string) ([]model.JobStep, error) {
	// Keys embed the zero-padded seq, so key order is execution order.
	return scan[model.JobStep](s, prefixStep+jobID+":")
}

// --- uploaded files ---

// CreateFile persists an uploaded-file metadata record.
func (s *Store) CreateFile(file model.UploadedFile) error {
	return s.put(prefixFile+file.ID, file)
}

// GetFile returns the file record or ErrNotFound.
func (s *Store) GetFile(id string) (model.UploadedFile, error) {
	var file model.UploadedFile
	err := s.get(prefixFile+id, &file)
	return file, err
}
