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
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	dgbadger "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/graph"
	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/temporal"
)

// SnapshotBackend is a temporal.Backend backed by BadgerDB.
//
// # Description
//
// Version records are written with a WriteBatch because a large graph does
// not fit one transaction. The header is written last, so a snapshot whose
// records were only partly written is never listed. DeleteSnapshot removes
// the header first for the same reason.
//
// # Thread Safety
//
// Safe for concurrent use.
type SnapshotBackend struct {
	db     *DB
	logger *slog.Logger
}

var _ temporal.Backend = (*SnapshotBackend)(nil)

// NewSnapshotBackend wraps an open database. The database stays owned by
// the caller and may be shared with a Storage.
func NewSnapshotBackend(db *DB, logger *slog.Logger) *SnapshotBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotBackend{db: db, logger: logger}
}

// SaveSnapshot implements temporal.Backend.
func (b *SnapshotBackend) SaveSnapshot(ctx context.Context, snap graph.Snapshot, nodes []graph.Node, edges []graph.Edge) error {
	existing, err := b.GetSnapshot(ctx, snap.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("snapshot %s already stored", snap.ID)
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()

	for _, n := range nodes {
		if err := setBatchJSON(wb, snapNodeKey(snap.ID, n.ID), n); err != nil {
			return err
		}
	}
	for _, e := range edges {
		if err := setBatchJSON(wb, snapEdgeKey(snap.ID, e.ID), e); err != nil {
			return err
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("write snapshot %s records: %w", snap.ID, err)
	}

	if err := b.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return setJSON(txn, snapKey(snap.ID), snap)
	}); err != nil {
		return fmt.Errorf("write snapshot %s header: %w", snap.ID, err)
	}
	return nil
}

// GetSnapshot implements temporal.Backend.
func (b *SnapshotBackend) GetSnapshot(ctx context.Context, id string) (*graph.Snapshot, error) {
	var snap graph.Snapshot
	var found bool
	err := b.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		var err error
		found, err = getJSON(txn, snapKey(id), &snap)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s: %w", id, err)
	}
	if !found {
		return nil, nil
	}
	return &snap, nil
}

// ListSnapshots implements temporal.Backend.
func (b *SnapshotBackend) ListSnapshots(ctx context.Context) ([]graph.Snapshot, error) {
	out := make([]graph.Snapshot, 0)
	err := b.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		return scanJSON(txn, prefixSnap, func(s graph.Snapshot) error {
			out = append(out, s)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// GetNodes implements temporal.Backend.
func (b *SnapshotBackend) GetNodes(ctx context.Context, snapshotID string) ([]graph.Node, error) {
	out := make([]graph.Node, 0)
	err := b.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		if err := requireHeader(txn, snapshotID); err != nil {
			return err
		}
		return scanJSON(txn, scope(prefixSnapNode, snapshotID), func(n graph.Node) error {
			out = append(out, n)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetEdges implements temporal.Backend.
func (b *SnapshotBackend) GetEdges(ctx context.Context, snapshotID string) ([]graph.Edge, error) {
	out := make([]graph.Edge, 0)
	err := b.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		if err := requireHeader(txn, snapshotID); err != nil {
			return err
		}
		return scanJSON(txn, scope(prefixSnapEdge, snapshotID), func(e graph.Edge) error {
			out = append(out, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetNodeVersion implements temporal.Backend.
func (b *SnapshotBackend) GetNodeVersion(ctx context.Context, snapshotID, nodeID string) (*graph.Node, error) {
	var n graph.Node
	var found bool
	err := b.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		var err error
		found, err = getJSON(txn, snapNodeKey(snapshotID, nodeID), &n)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get node %s at %s: %w", nodeID, snapshotID, err)
	}
	if !found {
		return nil, nil
	}
	return &n, nil
}

// GetEdgeVersion implements temporal.Backend.
func (b *SnapshotBackend) GetEdgeVersion(ctx context.Context, snapshotID, edgeID string) (*graph.Edge, error) {
	var e graph.Edge
	var found bool
	err := b.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		var err error
		found, err = getJSON(txn, snapEdgeKey(snapshotID, edgeID), &e)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get edge %s at %s: %w", edgeID, snapshotID, err)
	}
	if !found {
		return nil, nil
	}
	return &e, nil
}

// DeleteSnapshot implements temporal.Backend.
func (b *SnapshotBackend) DeleteSnapshot(ctx context.Context, id string) error {
	if err := b.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return txn.Delete(snapKey(id))
	}); err != nil {
		return fmt.Errorf("delete snapshot %s header: %w", id, err)
	}

	var keys [][]byte
	err := b.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		for _, prefix := range [][]byte{scope(prefixSnapNode, id), scope(prefixSnapEdge, id)} {
			if err := scan(txn, prefix, true, func(item *dgbadger.Item) error {
				keys = append(keys, item.KeyCopy(nil))
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("list snapshot %s records: %w", id, err)
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return fmt.Errorf("delete snapshot %s records: %w", id, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("delete snapshot %s records: %w", id, err)
	}
	b.logger.Debug("badger snapshot deleted", slog.String("snapshot_id", id), slog.Int("records", len(keys)))
	return nil
}

func requireHeader(txn *dgbadger.Txn, snapshotID string) error {
	var snap graph.Snapshot
	found, err := getJSON(txn, snapKey(snapshotID), &snap)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", temporal.ErrSnapshotNotFound, snapshotID)
	}
	return nil
}

func setBatchJSON(wb *dgbadger.WriteBatch, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	return wb.Set(key, data)
}
