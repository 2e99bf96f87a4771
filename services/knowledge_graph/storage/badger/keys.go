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
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	dgbadger "github.com/dgraph-io/badger/v4"
)

const sep = "\x00"

var (
	prefixNode     = []byte("node:")
	prefixEdge     = []byte("edge:")
	prefixEdgeOut  = []byte("edgeidx:out:")
	prefixEdgeIn   = []byte("edgeidx:in:")
	prefixChange   = []byte("change:")
	prefixSnap     = []byte("snap:")
	prefixSnapNode = []byte("snapnode:")
	prefixSnapEdge = []byte("snapedge:")
)

func join(prefix []byte, parts ...string) []byte {
	key := append([]byte(nil), prefix...)
	for i, p := range parts {
		if i > 0 {
			key = append(key, sep...)
		}
		key = append(key, p...)
	}
	return key
}

// scope returns the prefix covering every key under parent.
func scope(prefix []byte, parent string) []byte {
	return append(join(prefix, parent), sep...)
}

func nodeKey(id string) []byte { return join(prefixNode, id) }
func edgeKey(id string) []byte { return join(prefixEdge, id) }

func edgeOutKey(source, edgeID string) []byte { return join(prefixEdgeOut, source, edgeID) }
func edgeInKey(target, edgeID string) []byte  { return join(prefixEdgeIn, target, edgeID) }

func changeKey(id string) []byte { return join(prefixChange, id) }

func snapKey(id string) []byte                 { return join(prefixSnap, id) }
func snapNodeKey(snapID, nodeID string) []byte { return join(prefixSnapNode, snapID, nodeID) }
func snapEdgeKey(snapID, edgeID string) []byte { return join(prefixSnapEdge, snapID, edgeID) }

// lastComponent returns what follows the final separator of key.
func lastComponent(key []byte) string {
	i := bytes.LastIndex(key, []byte(sep))
	if i < 0 {
		return ""
	}
	return string(key[i+len(sep):])
}

// getJSON decodes the value at key into v. It reports false when the key
// is absent.
func getJSON(txn *dgbadger.Txn, key []byte, v any) (bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, dgbadger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %q: %w", key, err)
	}
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	}); err != nil {
		return false, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}

func setJSON(txn *dgbadger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	return txn.Set(key, data)
}

// scan calls fn for each item under prefix in key order. Values are not
// prefetched when keysOnly is set.
func scan(txn *dgbadger.Txn, prefix []byte, keysOnly bool, fn func(item *dgbadger.Item) error) error {
	opts := dgbadger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = !keysOnly

	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if err := fn(it.Item()); err != nil {
			return err
		}
	}
	return nil
}

// scanJSON decodes every value under prefix and passes it to fn.
func scanJSON[T any](txn *dgbadger.Txn, prefix []byte, fn func(T) error) error {
	return scan(txn, prefix, false, func(item *dgbadger.Item) error {
		var v T
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &v)
		}); err != nil {
			return fmt.Errorf("decode %q: %w", item.Key(), err)
		}
		return fn(v)
	})
}
