// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package federation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/graph"
)

// =============================================================================
// Types
// =============================================================================

// QueryOptions selects which peers a federated read reaches.
type QueryOptions struct {
	// Namespaces restricts peers. The local storage is always queried.
	Namespaces []string `json:"namespaces,omitempty" form:"namespace"`

	// IncludeUnhealthy also queries peers whose last probe failed.
	IncludeUnhealthy bool `json:"include_unhealthy,omitempty" form:"include_unhealthy"`

	// Timeout overrides the per-peer deadline.
	Timeout time.Duration `json:"timeout,omitempty" form:"-"`
}

// PeerStatus is the outcome of one storage's part of a federated call.
type PeerStatus struct {
	PeerID     string `json:"peer_id"`
	Namespace  string `json:"namespace"`
	Success    bool   `json:"success"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
	NodeCount  int    `json:"node_count"`
	EdgeCount  int    `json:"edge_count"`
}

// FederatedNode is a node tagged with where it came from.
type FederatedNode struct {
	graph.Node
	SourceNamespace string `json:"source_namespace"`
	SourcePeerID    string `json:"source_peer_id"`
}

// FederatedEdge is an edge tagged with where it came from.
type FederatedEdge struct {
	graph.Edge
	SourceNamespace string `json:"source_namespace"`
	SourcePeerID    string `json:"source_peer_id"`
}

// NodeQueryResult is the merged result of QueryNodes.
type NodeQueryResult struct {
	Nodes      []FederatedNode `json:"nodes"`
	PeerStatus []PeerStatus    `json:"peer_status"`
}

// EdgeQueryResult is the merged result of QueryEdgesFederated.
type EdgeQueryResult struct {
	Edges      []FederatedEdge `json:"edges"`
	PeerStatus []PeerStatus    `json:"peer_status"`
}

// NeighborOptions controls GetNeighborsFederated.
type NeighborOptions struct {
	QueryOptions

	// Depth is the number of hops. Defaults to 1.
	Depth int `json:"depth,omitempty"`

	// Direction defaults to both.
	Direction graph.Direction `json:"direction,omitempty"`

	// Post-traversal filters. Empty matches everything.
	RelationshipTypes []graph.RelationshipType `json:"relationship_types,omitempty"`
	Providers         []graph.Provider         `json:"providers,omitempty"`
	ResourceTypes     []graph.ResourceType     `json:"resource_types,omitempty"`
}

// NeighborResult is the merged neighbourhood of a node.
type NeighborResult struct {
	NodeID     string          `json:"node_id"`
	Nodes      []FederatedNode `json:"nodes"`
	Edges      []FederatedEdge `json:"edges"`
	PeerStatus []PeerStatus    `json:"peer_status"`
}

// =============================================================================
// Federated reads
// =============================================================================

// QueryNodes runs filter against the local storage and the selected peers.
//
// # Description
//
// Results are concatenated in target order (local first, then peers in
// registration order). Nodes with the same ID from different namespaces
// are all returned; provenance tells them apart.
//
// # Outputs
//
//   - *NodeQueryResult: Nodes from every storage that answered in time, and
//     one PeerStatus per storage queried.
//   - error: Always nil; failures are reported per peer.
func (m *Manager) QueryNodes(ctx context.Context, filter graph.NodeFilter, opts QueryOptions) (*NodeQueryResult, error) {
	ctx, span := startFederatedSpan(ctx, "Manager.QueryNodes")
	defer span.End()

	results := fanOut(ctx, m.selectTargets(opts), m.timeout(opts), "query_nodes",
		func(ctx context.Context, s graph.Storage) ([]graph.Node, error) {
			return s.QueryNodes(ctx, filter)
		})

	out := &NodeQueryResult{Nodes: []FederatedNode{}, PeerStatus: make([]PeerStatus, 0, len(results))}
	for _, r := range results {
		r.status.NodeCount = len(r.value)
		out.PeerStatus = append(out.PeerStatus, r.status)
		for _, n := range r.value {
			out.Nodes = append(out.Nodes, FederatedNode{Node: n, SourceNamespace: r.target.namespace, SourcePeerID: r.target.peerID})
		}
	}
	span.SetAttributes(attribute.Int("federation.nodes", len(out.Nodes)), attribute.Int("federation.targets", len(results)))
	return out, nil
}

// QueryEdgesFederated runs filter against the local storage and the
// selected peers.
func (m *Manager) QueryEdgesFederated(ctx context.Context, filter graph.EdgeFilter, opts QueryOptions) (*EdgeQueryResult, error) {
	ctx, span := startFederatedSpan(ctx, "Manager.QueryEdgesFederated")
	defer span.End()

	results := fanOut(ctx, m.selectTargets(opts), m.timeout(opts), "query_edges",
		func(ctx context.Context, s graph.Storage) ([]graph.Edge, error) {
			return s.QueryEdges(ctx, filter)
		})

	out := &EdgeQueryResult{Edges: []FederatedEdge{}, PeerStatus: make([]PeerStatus, 0, len(results))}
	for _, r := range results {
		r.status.EdgeCount = len(r.value)
		out.PeerStatus = append(out.PeerStatus, r.status)
		for _, e := range r.value {
			out.Edges = append(out.Edges, FederatedEdge{Edge: e, SourceNamespace: r.target.namespace, SourcePeerID: r.target.peerID})
		}
	}
	return out, nil
}

// GetNode returns the first node with id, checking the local storage and
// then peers in registration order. Nil when no storage has it.
//
// A failing or slow peer is skipped. Only a local storage failure is
// returned as an error.
func (m *Manager) GetNode(ctx context.Context, id string, opts QueryOptions) (*FederatedNode, error) {
	ctx, span := startFederatedSpan(ctx, "Manager.GetNode")
	defer span.End()

	timeout := m.timeout(opts)
	for i, t := range m.selectTargets(opts) {
		n, status := callWithTimeout(ctx, t, timeout, "get_node", func(ctx context.Context, s graph.Storage) (*graph.Node, error) {
			return s.GetNode(ctx, id)
		})
		if !status.Success {
			if i == 0 {
				return nil, fmt.Errorf("get local node %s: %s", id, status.Error)
			}
			m.logger.Debug("federated get node skipped peer",
				slog.String("peer_id", t.peerID),
				slog.String("error", status.Error),
			)
			continue
		}
		if n != nil {
			span.SetAttributes(attribute.String("federation.found_in", t.namespace))
			return &FederatedNode{Node: *n, SourceNamespace: t.namespace, SourcePeerID: t.peerID}, nil
		}
	}
	return nil, nil
}

// GetNeighborsFederated traverses from nodeID in every selected storage and
// merges the neighbourhoods.
//
// # Description
//
// Each storage is traversed to opts.Depth independently. The union is
// deduplicated by ID (first occurrence in target order wins) and only then
// narrowed: RelationshipTypes filters edges, Providers and ResourceTypes
// filter nodes. The start node itself is not part of Nodes.
func (m *Manager) GetNeighborsFederated(ctx context.Context, nodeID string, opts NeighborOptions) (*NeighborResult, error) {
	ctx, span := startFederatedSpan(ctx, "Manager.GetNeighborsFederated")
	defer span.End()

	depth := opts.Depth
	if depth <= 0 {
		depth = 1
	}
	dir := opts.Direction
	if dir == "" {
		dir = graph.DirectionBoth
	}

	results := fanOut(ctx, m.selectTargets(opts.QueryOptions), m.timeout(opts.QueryOptions), "neighbors",
		func(ctx context.Context, s graph.Storage) (neighborhood, error) {
			return traverse(ctx, s, nodeID, depth, dir)
		})

	out := &NeighborResult{
		NodeID:     nodeID,
		Nodes:      []FederatedNode{},
		Edges:      []FederatedEdge{},
		PeerStatus: make([]PeerStatus, 0, len(results)),
	}
	seenNodes := make(map[string]bool)
	seenEdges := make(map[string]bool)
	for _, r := range results {
		r.status.NodeCount = len(r.value.nodes)
		r.status.EdgeCount = len(r.value.edges)
		out.PeerStatus = append(out.PeerStatus, r.status)

		for _, n := range r.value.nodes {
			if seenNodes[n.ID] {
				continue
			}
			seenNodes[n.ID] = true
			if matchesAny(n.Provider, opts.Providers) && matchesAny(n.ResourceType, opts.ResourceTypes) {
				out.Nodes = append(out.Nodes, FederatedNode{Node: n, SourceNamespace: r.target.namespace, SourcePeerID: r.target.peerID})
			}
		}
		for _, e := range r.value.edges {
			if seenEdges[e.ID] {
				continue
			}
			seenEdges[e.ID] = true
			if matchesAny(e.RelationshipType, opts.RelationshipTypes) {
				out.Edges = append(out.Edges, FederatedEdge{Edge: e, SourceNamespace: r.target.namespace, SourcePeerID: r.target.peerID})
			}
		}
	}
	span.SetAttributes(attribute.Int("federation.nodes", len(out.Nodes)), attribute.Int("federation.edges", len(out.Edges)))
	return out, nil
}

// =============================================================================
// Fan-out
// =============================================================================

type targetResult[T any] struct {
	target target
	value  T
	status PeerStatus
}

// fanOut calls every target in parallel and returns results in target
// order. Failed or timed-out targets yield the zero value.
func fanOut[T any](ctx context.Context, targets []target, timeout time.Duration, op string, call func(context.Context, graph.Storage) (T, error)) []targetResult[T] {
	results := make([]targetResult[T], len(targets))

	g, gctx := errgroup.WithContext(ctx)
	for i, t := range targets {
		g.Go(func() error {
			v, status := callWithTimeout(gctx, t, timeout, op, call)
			results[i] = targetResult[T]{target: t, value: v, status: status}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// callWithTimeout races call against a deadline. When the deadline wins the
// result is discarded; the call itself may keep running.
func callWithTimeout[T any](ctx context.Context, t target, timeout time.Duration, op string, call func(context.Context, graph.Storage) (T, error)) (T, PeerStatus) {
	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		v, err := call(callCtx, t.storage)
		ch <- outcome{value: v, err: err}
	}()

	var res outcome
	reason := "error"
	select {
	case res = <-ch:
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			res.err = fmt.Errorf("%s timed out after %s", op, timeout)
			reason = "timeout"
		} else {
			res.err = callCtx.Err()
			reason = "canceled"
		}
	}

	elapsed := time.Since(start)
	peerQueryDuration.WithLabelValues(t.namespace, op).Observe(elapsed.Seconds())
	status := PeerStatus{
		PeerID:     t.peerID,
		Namespace:  t.namespace,
		Success:    res.err == nil,
		DurationMs: elapsed.Milliseconds(),
	}
	if res.err != nil {
		peerQueryFailures.WithLabelValues(t.namespace, op, reason).Inc()
		status.Error = res.err.Error()
		var zero T
		return zero, status
	}
	return res.value, status
}

// =============================================================================
// Helpers
// =============================================================================

type neighborhood struct {
	nodes []graph.Node
	edges []graph.Edge
}

// traverse collects nodes and edges within depth hops of start. Nodes are
// returned in discovery order.
func traverse(ctx context.Context, s graph.Storage, start string, depth int, dir graph.Direction) (neighborhood, error) {
	var out neighborhood
	visited := map[string]bool{start: true}
	seenEdges := make(map[string]bool)
	frontier := []string{start}

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			edges, err := s.GetEdgesForNode(ctx, id, dir)
			if err != nil {
				return neighborhood{}, err
			}
			for _, e := range edges {
				if !seenEdges[e.ID] {
					seenEdges[e.ID] = true
					out.edges = append(out.edges, e)
				}
				other := e.Other(id)
				if visited[other] {
					continue
				}
				visited[other] = true
				n, err := s.GetNode(ctx, other)
				if err != nil {
					return neighborhood{}, err
				}
				if n != nil {
					out.nodes = append(out.nodes, *n)
					next = append(next, other)
				}
			}
		}
		frontier = next
	}
	return out, nil
}

func matchesAny[T comparable](v T, allowed []T) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

func startFederatedSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name)
}
