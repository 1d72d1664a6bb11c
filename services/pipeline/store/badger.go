// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/jinterlante1206/AleutianPipeline/services/pipeline/task"
)

// Key prefixes. Proposals carry a task-scoped secondary key so listing a
// task's proposals is a prefix scan rather than a full iteration.
const (
	taskPrefix     = "task:"
	proposalPrefix = "proposal:"
	taskPropPrefix = "taskprop:" // taskprop:<taskID>:<proposalID> -> proposalID
)

// Config holds configuration for the badger-backed store.
type Config struct {
	// Path is the directory for database files. Ignored when InMemory.
	Path string

	// InMemory enables in-memory mode. Used by tests.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives badger's internal log output. Nil disables it.
	Logger *slog.Logger
}

// DefaultConfig returns production defaults: durable, synced writes.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns a config for tests: no disk I/O, no sync.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerStore implements Store on an embedded BadgerDB.
//
// Thread Safety: safe for concurrent use; badger transactions provide the
// serialization the CAS checks rely on.
type BadgerStore struct {
	db *badger.DB
}

// Open opens a badger-backed store with the given configuration.
//
// Outputs:
//
//	*BadgerStore - The opened store. Caller must Close() it.
//	error - Non-nil if the path is invalid or the database cannot open.
func Open(cfg Config) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// OpenInMemory opens an in-memory store for testing.
func OpenInMemory() (*BadgerStore, error) {
	return Open(InMemoryConfig())
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// CreateTask persists a new task with Version 1.
func (s *BadgerStore) CreateTask(ctx context.Context, t *task.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.Version = 1
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	key := []byte(taskPrefix + t.ID)
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return fmt.Errorf("task %s already exists", t.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, data)
	})
}

// GetTask returns the task or task.ErrNotFound.
func (s *BadgerStore) GetTask(ctx context.Context, id string) (*task.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var t task.Task
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(taskPrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &t)
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("task %s: %w", id, task.ErrNotFound)
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return &t, nil
}

// UpdateTask writes the task if the caller's Version matches the stored
// version, then bumps it.
func (s *BadgerStore) UpdateTask(ctx context.Context, t *task.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := []byte(taskPrefix + t.ID)
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("task %s: %w", t.ID, task.ErrNotFound)
			}
			return err
		}

		var current task.Task
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &current)
		}); err != nil {
			return fmt.Errorf("unmarshal stored task: %w", err)
		}

		if current.Version != t.Version {
			return fmt.Errorf("task %s: stored v%d, caller v%d: %w",
				t.ID, current.Version, t.Version, ErrVersionConflict)
		}

		t.Version++
		data, err := json.Marshal(t)
		if err != nil {
			t.Version--
			return fmt.Errorf("marshal task: %w", err)
		}
		return txn.Set(key, data)
	})
}

// ListTasks returns all tasks, newest first.
func (s *BadgerStore) ListTasks(ctx context.Context) ([]*task.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var tasks []*task.Task
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(taskPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var t task.Task
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &t)
			}); err != nil {
				return err
			}
			tasks = append(tasks, &t)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
	return tasks, nil
}

// deleteProposalsTxn removes the task's proposals and their index entries
// inside an open transaction.
func deleteProposalsTxn(txn *badger.Txn, taskID string) error {
	// Collect proposal ids via the task-scoped index first.
	var propIDs []string
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	prefix := []byte(taskPropPrefix + taskID + ":")
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		key := string(it.Item().Key())
		propIDs = append(propIDs, key[len(prefix):])
	}
	it.Close()

	for _, pid := range propIDs {
		if err := txn.Delete([]byte(proposalPrefix + pid)); err != nil {
			return err
		}
		if err := txn.Delete([]byte(taskPropPrefix + taskID + ":" + pid)); err != nil {
			return err
		}
	}
	return nil
}

// DeleteTask hard-removes the task and all of its proposals.
func (s *BadgerStore) DeleteTask(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := deleteProposalsTxn(txn, id); err != nil {
			return err
		}
		return txn.Delete([]byte(taskPrefix + id))
	})
}

// DeleteProposalsByTask removes every proposal belonging to the task while
// leaving the task record in place.
func (s *BadgerStore) DeleteProposalsByTask(ctx context.Context, taskID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return deleteProposalsTxn(txn, taskID)
	})
}

// CreateProposal persists a new proposal with Version 1 and indexes it
// under its task.
func (s *BadgerStore) CreateProposal(ctx context.Context, p *task.Proposal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.Version = 1
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal proposal: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(proposalPrefix+p.ID), data); err != nil {
			return err
		}
		return txn.Set([]byte(taskPropPrefix+p.TaskID+":"+p.ID), []byte(p.ID))
	})
}

// GetProposal returns the proposal or task.ErrNotFound.
func (s *BadgerStore) GetProposal(ctx context.Context, id string) (*task.Proposal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var p task.Proposal
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(proposalPrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &p)
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("proposal %s: %w", id, task.ErrNotFound)
		}
		return nil, fmt.Errorf("get proposal: %w", err)
	}
	return &p, nil
}

// UpdateProposal writes the proposal with CAS on Version.
func (s *BadgerStore) UpdateProposal(ctx context.Context, p *task.Proposal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := []byte(proposalPrefix + p.ID)
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("proposal %s: %w", p.ID, task.ErrNotFound)
			}
			return err
		}

		var current task.Proposal
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &current)
		}); err != nil {
			return fmt.Errorf("unmarshal stored proposal: %w", err)
		}

		if current.Version != p.Version {
			return fmt.Errorf("proposal %s: stored v%d, caller v%d: %w",
				p.ID, current.Version, p.Version, ErrVersionConflict)
		}

		p.Version++
		data, err := json.Marshal(p)
		if err != nil {
			p.Version--
			return fmt.Errorf("marshal proposal: %w", err)
		}
		return txn.Set(key, data)
	})
}

// ListProposalsByTask returns the task's proposals sorted oldest first.
// The gate's oldest-pending policy depends on this ordering.
func (s *BadgerStore) ListProposalsByTask(ctx context.Context, taskID string) ([]*task.Proposal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var props []*task.Proposal
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(taskPropPrefix + taskID + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var pid string
			if err := it.Item().Value(func(val []byte) error {
				pid = string(val)
				return nil
			}); err != nil {
				return err
			}

			item, err := txn.Get([]byte(proposalPrefix + pid))
			if err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					continue // index entry outlived the proposal
				}
				return err
			}
			var p task.Proposal
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &p)
			}); err != nil {
				return err
			}
			props = append(props, &p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}

	sort.Slice(props, func(i, j int) bool {
		return props[i].CreatedAt.Before(props[j].CreatedAt)
	})
	return props, nil
}

// Clear removes every pipeline key.
func (s *BadgerStore) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: false})
		var keys [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			k := it.Item().KeyCopy(nil)
			if strings.HasPrefix(string(k), taskPrefix) ||
				strings.HasPrefix(string(k), proposalPrefix) ||
				strings.HasPrefix(string(k), taskPropPrefix) {
				keys = append(keys, k)
			}
		}
		it.Close()

		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}
