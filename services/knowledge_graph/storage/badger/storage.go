// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"

	dgbadger "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/graph"
)

// changeRecord is the persisted form of an audit entry. Seq preserves
// append order between requests created at the same instant.
type changeRecord struct {
	Seq    uint64              `json:"seq"`
	Change graph.ChangeRequest `json:"change"`
}

// Storage is a graph.Storage backed by BadgerDB.
//
// # Description
//
// Every write is one BadgerDB transaction, so an edge and its index entries
// land together. Reads use read-only transactions; a single call sees a
// consistent view but consecutive calls may not.
//
// # Thread Safety
//
// Safe for concurrent use.
type Storage struct {
	db        *DB
	logger    *slog.Logger
	changeSeq atomic.Uint64
}

var _ graph.Storage = (*Storage)(nil)

// NewStorage wraps an open database. The database stays owned by the
// caller.
//
// # Outputs
//
//   - *Storage: Ready for use.
//   - error: Non-nil if the existing audit log cannot be scanned.
func NewStorage(db *DB, logger *slog.Logger) (*Storage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Storage{db: db, logger: logger}
	if err := s.initChangeSeq(); err != nil {
		return nil, fmt.Errorf("init change sequence: %w", err)
	}
	return s, nil
}

// initChangeSeq resumes the append counter after the highest stored Seq.
func (s *Storage) initChangeSeq() error {
	var maxSeq uint64
	err := s.db.WithReadTxn(context.Background(), func(txn *dgbadger.Txn) error {
		return scanJSON(txn, prefixChange, func(r changeRecord) error {
			maxSeq = max(maxSeq, r.Seq)
			return nil
		})
	})
	if err != nil {
		return err
	}
	s.changeSeq.Store(maxSeq)
	s.logger.Debug("badger graph storage opened", slog.Uint64("last_change_seq", maxSeq))
	return nil
}

// =============================================================================
// Nodes
// =============================================================================

// QueryNodes returns matching nodes ordered by ID.
func (s *Storage) QueryNodes(ctx context.Context, filter graph.NodeFilter) ([]graph.Node, error) {
	out := make([]graph.Node, 0)
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		return scanJSON(txn, prefixNode, func(n graph.Node) error {
			if filter.Limit > 0 && len(out) >= filter.Limit {
				return nil
			}
			if filter.Matches(n) {
				out = append(out, n)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	return out, nil
}

// GetNode returns the node or nil when absent.
func (s *Storage) GetNode(ctx context.Context, id string) (*graph.Node, error) {
	var n graph.Node
	var found bool
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		var err error
		found, err = getJSON(txn, nodeKey(id), &n)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get node %s: %w", id, err)
	}
	if !found {
		return nil, nil
	}
	return &n, nil
}

// UpsertNode inserts or replaces a node.
func (s *Storage) UpsertNode(ctx context.Context, node graph.Node) error {
	if err := node.Validate(); err != nil {
		return err
	}
	return s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return setJSON(txn, nodeKey(node.ID), node)
	})
}

// DeleteNode removes a node and every edge touching it. Missing IDs are a
// no-op.
func (s *Storage) DeleteNode(ctx context.Context, id string) error {
	return s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		edges, err := edgesForNode(txn, id, graph.DirectionBoth)
		if err != nil {
			return err
		}
		for _, e := range edges {
			if err := deleteEdge(txn, e); err != nil {
				return err
			}
		}
		return txn.Delete(nodeKey(id))
	})
}

// =============================================================================
// Edges
// =============================================================================

// QueryEdges returns matching edges ordered by ID.
func (s *Storage) QueryEdges(ctx context.Context, filter graph.EdgeFilter) ([]graph.Edge, error) {
	out := make([]graph.Edge, 0)
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		return scanJSON(txn, prefixEdge, func(e graph.Edge) error {
			if filter.Limit > 0 && len(out) >= filter.Limit {
				return nil
			}
			if filter.Matches(e) {
				out = append(out, e)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	return out, nil
}

// GetEdgesForNode returns the edges touching id in the given direction,
// ordered by ID. It reads the adjacency index rather than scanning edges.
func (s *Storage) GetEdgesForNode(ctx context.Context, id string, dir graph.Direction) ([]graph.Edge, error) {
	var out []graph.Edge
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		var err error
		out, err = edgesForNode(txn, id, dir)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get edges for node %s: %w", id, err)
	}
	return out, nil
}

// UpsertEdge inserts or replaces an edge. Both endpoints must exist.
func (s *Storage) UpsertEdge(ctx context.Context, edge graph.Edge) error {
	if err := edge.Validate(); err != nil {
		return err
	}
	return s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		for _, endpoint := range []string{edge.SourceNodeID, edge.TargetNodeID} {
			var n graph.Node
			found, err := getJSON(txn, nodeKey(endpoint), &n)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("%w: %s", graph.ErrDanglingEdge, endpoint)
			}
		}

		var previous graph.Edge
		found, err := getJSON(txn, edgeKey(edge.ID), &previous)
		if err != nil {
			return err
		}
		if found {
			if err := deleteEdge(txn, previous); err != nil {
				return err
			}
		}

		if err := setJSON(txn, edgeKey(edge.ID), edge); err != nil {
			return err
		}
		if err := txn.Set(edgeOutKey(edge.SourceNodeID, edge.ID), nil); err != nil {
			return err
		}
		return txn.Set(edgeInKey(edge.TargetNodeID, edge.ID), nil)
	})
}

// GetEdge returns the edge or nil when absent.
func (s *Storage) GetEdge(ctx context.Context, id string) (*graph.Edge, error) {
	var e graph.Edge
	var found bool
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		var err error
		found, err = getJSON(txn, edgeKey(id), &e)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get edge %s: %w", id, err)
	}
	if !found {
		return nil, nil
	}
	return &e, nil
}

func edgesForNode(txn *dgbadger.Txn, id string, dir graph.Direction) ([]graph.Edge, error) {
	ids := make(map[string]struct{})
	collect := func(prefix []byte) error {
		return scan(txn, scope(prefix, id), true, func(item *dgbadger.Item) error {
			ids[lastComponent(item.Key())] = struct{}{}
			return nil
		})
	}
	if dir != graph.DirectionUpstream {
		if err := collect(prefixEdgeOut); err != nil {
			return nil, err
		}
	}
	if dir != graph.DirectionDownstream {
		if err := collect(prefixEdgeIn); err != nil {
			return nil, err
		}
	}

	out := make([]graph.Edge, 0, len(ids))
	for edgeID := range ids {
		var e graph.Edge
		found, err := getJSON(txn, edgeKey(edgeID), &e)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func deleteEdge(txn *dgbadger.Txn, e graph.Edge) error {
	for _, key := range [][]byte{
		edgeKey(e.ID),
		edgeOutKey(e.SourceNodeID, e.ID),
		edgeInKey(e.TargetNodeID, e.ID),
	} {
		if err := txn.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Stats
// =============================================================================

// GetStats aggregates counters over the current contents. TotalGroups is
// always zero; this storage does not model groups.
func (s *Storage) GetStats(ctx context.Context) (*graph.Stats, error) {
	stats := graph.NewStats()
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		if err := scanJSON(txn, prefixNode, func(n graph.Node) error {
			stats.AddNode(n)
			stats.ObserveSync(n.LastSeenAt)
			return nil
		}); err != nil {
			return err
		}
		if err := scanJSON(txn, prefixEdge, func(e graph.Edge) error {
			stats.AddEdge(e)
			return nil
		}); err != nil {
			return err
		}
		return scan(txn, prefixChange, true, func(*dgbadger.Item) error {
			stats.TotalChanges++
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}
	return stats, nil
}

// =============================================================================
// Audit log
// =============================================================================

// AppendChange appends a request to the audit log.
func (s *Storage) AppendChange(ctx context.Context, change graph.ChangeRequest) error {
	return s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		var existing changeRecord
		found, err := getJSON(txn, changeKey(change.ID), &existing)
		if err != nil {
			return err
		}
		if found {
			return fmt.Errorf("%w: %s", graph.ErrChangeExists, change.ID)
		}
		return setJSON(txn, changeKey(change.ID), changeRecord{Seq: s.changeSeq.Add(1), Change: change})
	})
}

// UpdateChange replaces a previously appended request, keeping its append
// position.
func (s *Storage) UpdateChange(ctx context.Context, change graph.ChangeRequest) error {
	return s.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		var existing changeRecord
		found, err := getJSON(txn, changeKey(change.ID), &existing)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %s", graph.ErrChangeNotFound, change.ID)
		}
		return setJSON(txn, changeKey(change.ID), changeRecord{Seq: existing.Seq, Change: change})
	})
}

// GetChange returns one audit record or nil when absent.
func (s *Storage) GetChange(ctx context.Context, id string) (*graph.ChangeRequest, error) {
	var rec changeRecord
	var found bool
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		var err error
		found, err = getJSON(txn, changeKey(id), &rec)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get change %s: %w", id, err)
	}
	if !found {
		return nil, nil
	}
	return &rec.Change, nil
}

// GetChanges returns matching audit records, newest first. Records created
// at the same instant are ordered by append order, latest first.
func (s *Storage) GetChanges(ctx context.Context, filter graph.ChangeFilter) ([]graph.ChangeRequest, error) {
	var records []changeRecord
	err := s.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		return scanJSON(txn, prefixChange, func(r changeRecord) error {
			if filter.Matches(r.Change) {
				records = append(records, r)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("get changes: %w", err)
	}

	sort.Slice(records, func(i, j int) bool {
		a, b := records[i].Change.CreatedAt, records[j].Change.CreatedAt
		if !a.Equal(b) {
			return a.After(b)
		}
		return records[i].Seq > records[j].Seq
	})
	if filter.Limit > 0 && len(records) > filter.Limit {
		records = records[:filter.Limit]
	}

	out := make([]graph.ChangeRequest, 0, len(records))
	for _, r := range records {
		out = append(out, r.Change)
	}
	return out, nil
}
