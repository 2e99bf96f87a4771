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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/graph"
	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/storage/memory"
)

func namespacesOf(statuses []PeerStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, s.Namespace)
	}
	return out
}

func TestQueryNodes_MergesWithProvenance(t *testing.T) {
	local := storeWith(t, graph.Node{ID: "l1", Provider: graph.ProviderAWS})
	m := newTestManager(local)
	_, err := m.RegisterPeer(PeerConfig{ID: "eu", Namespace: "eu", Storage: storeWith(t,
		graph.Node{ID: "e1", Provider: graph.ProviderAWS},
		graph.Node{ID: "e2", Provider: graph.ProviderGCP},
	)})
	require.NoError(t, err)

	res, err := m.QueryNodes(context.Background(), graph.NodeFilter{Provider: graph.ProviderAWS}, QueryOptions{})
	require.NoError(t, err)
	require.Len(t, res.Nodes, 2)
	assert.Equal(t, "l1", res.Nodes[0].ID)
	assert.Equal(t, "local", res.Nodes[0].SourceNamespace)
	assert.Equal(t, "e1", res.Nodes[1].ID)
	assert.Equal(t, "eu", res.Nodes[1].SourceNamespace)
	assert.Equal(t, "eu", res.Nodes[1].SourcePeerID)

	assert.Equal(t, []string{"local", "eu"}, namespacesOf(res.PeerStatus))
	assert.True(t, res.PeerStatus[1].Success)
	assert.Equal(t, 1, res.PeerStatus[1].NodeCount)
}

func TestQueryNodes_UnhealthyPeersExcluded(t *testing.T) {
	local := storeWith(t, graph.Node{ID: "l1"})
	m := newTestManager(local)
	for _, id := range []string{"a", "b"} {
		_, err := m.RegisterPeer(PeerConfig{ID: id, Namespace: id, Storage: &flakyStorage{Storage: storeWith(t, graph.Node{ID: id + "-n"}), err: errors.New("down")}})
		require.NoError(t, err)
	}
	m.HealthCheckAll(context.Background())

	res, err := m.QueryNodes(context.Background(), graph.NodeFilter{}, QueryOptions{})
	require.NoError(t, err)
	require.Len(t, res.PeerStatus, 1)
	assert.Equal(t, "local", res.PeerStatus[0].Namespace)
	require.Len(t, res.Nodes, 1)
	assert.Equal(t, "l1", res.Nodes[0].ID)

	withUnhealthy, err := m.QueryNodes(context.Background(), graph.NodeFilter{}, QueryOptions{IncludeUnhealthy: true})
	require.NoError(t, err)
	require.Len(t, withUnhealthy.PeerStatus, 3)
	assert.False(t, withUnhealthy.PeerStatus[1].Success)
	assert.Equal(t, "down", withUnhealthy.PeerStatus[1].Error)
	assert.Len(t, withUnhealthy.Nodes, 1)
}

func TestQueryNodes_SlowPeerTimesOut(t *testing.T) {
	local := storeWith(t, graph.Node{ID: "l1"})
	m := newTestManager(local)
	_, err := m.RegisterPeer(PeerConfig{ID: "slow", Namespace: "slow", Storage: &flakyStorage{Storage: storeWith(t, graph.Node{ID: "s1"}), delay: 2 * time.Second}})
	require.NoError(t, err)
	_, err = m.RegisterPeer(PeerConfig{ID: "fast", Namespace: "fast", Storage: storeWith(t, graph.Node{ID: "f1"})})
	require.NoError(t, err)

	start := time.Now()
	res, err := m.QueryNodes(context.Background(), graph.NodeFilter{}, QueryOptions{Timeout: 30 * time.Millisecond})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	require.Len(t, res.PeerStatus, 3)
	assert.False(t, res.PeerStatus[1].Success)
	assert.NotEmpty(t, res.PeerStatus[1].Error)
	assert.True(t, res.PeerStatus[2].Success)

	ids := make([]string, 0, len(res.Nodes))
	for _, n := range res.Nodes {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []string{"l1", "f1"}, ids)
}

func TestQueryNodes_NamespaceSelection(t *testing.T) {
	m := newTestManager(storeWith(t, graph.Node{ID: "l1"}))
	_, err := m.RegisterPeer(PeerConfig{ID: "a", Namespace: "a", Storage: storeWith(t, graph.Node{ID: "a1"})})
	require.NoError(t, err)
	_, err = m.RegisterPeer(PeerConfig{ID: "b", Namespace: "b", Storage: storeWith(t, graph.Node{ID: "b1"})})
	require.NoError(t, err)

	// Local is included even when not named.
	res, err := m.QueryNodes(context.Background(), graph.NodeFilter{}, QueryOptions{Namespaces: []string{"b"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"local", "b"}, namespacesOf(res.PeerStatus))
	assert.Len(t, res.Nodes, 2)
}

func TestQueryEdgesFederated(t *testing.T) {
	local := storeWith(t, graph.Node{ID: "x"}, graph.Node{ID: "y"})
	require.NoError(t, local.UpsertEdge(context.Background(), graph.Edge{ID: "x-y", SourceNodeID: "x", TargetNodeID: "y", RelationshipType: graph.RelUses, Confidence: 1}))
	peerStore := storeWith(t, graph.Node{ID: "p"}, graph.Node{ID: "q"})
	require.NoError(t, peerStore.UpsertEdge(context.Background(), graph.Edge{ID: "p-q", SourceNodeID: "p", TargetNodeID: "q", RelationshipType: graph.RelDependsOn, Confidence: 1}))

	m := newTestManager(local)
	_, err := m.RegisterPeer(PeerConfig{ID: "peer", Namespace: "remote", Storage: peerStore})
	require.NoError(t, err)

	res, err := m.QueryEdgesFederated(context.Background(), graph.EdgeFilter{}, QueryOptions{})
	require.NoError(t, err)
	require.Len(t, res.Edges, 2)
	assert.Equal(t, "remote", res.Edges[1].SourceNamespace)
	assert.Equal(t, 1, res.PeerStatus[1].EdgeCount)
}

func TestGetNode_RegistrationOrder(t *testing.T) {
	m := newTestManager(storeWith(t, graph.Node{ID: "local-only"}))
	_, err := m.RegisterPeer(PeerConfig{ID: "broken", Namespace: "broken", Storage: &flakyStorage{Storage: memory.New(), err: errors.New("boom")}})
	require.NoError(t, err)
	_, err = m.RegisterPeer(PeerConfig{ID: "first", Namespace: "first", Storage: storeWith(t, graph.Node{ID: "shared", Name: "from-first"})})
	require.NoError(t, err)
	_, err = m.RegisterPeer(PeerConfig{ID: "second", Namespace: "second", Storage: storeWith(t, graph.Node{ID: "shared", Name: "from-second"})})
	require.NoError(t, err)

	ctx := context.Background()
	n, err := m.GetNode(ctx, "local-only", QueryOptions{})
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, "local", n.SourceNamespace)

	n, err = m.GetNode(ctx, "shared", QueryOptions{})
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, "from-first", n.Name)
	assert.Equal(t, "first", n.SourcePeerID)

	n, err = m.GetNode(ctx, "nowhere", QueryOptions{})
	require.NoError(t, err)
	assert.Nil(t, n)
}

func TestGetNeighborsFederated(t *testing.T) {
	ctx := context.Background()

	local := storeWith(t,
		graph.Node{ID: "app", Provider: graph.ProviderAWS},
		graph.Node{ID: "db", Name: "local-db", Provider: graph.ProviderAWS, ResourceType: graph.ResourceDatabase},
		graph.Node{ID: "cache", Provider: graph.ProviderAWS, ResourceType: graph.ResourceCache},
	)
	require.NoError(t, local.UpsertEdge(ctx, graph.Edge{ID: "app-db", SourceNodeID: "app", TargetNodeID: "db", RelationshipType: graph.RelDependsOn, Confidence: 1}))
	require.NoError(t, local.UpsertEdge(ctx, graph.Edge{ID: "db-cache", SourceNodeID: "db", TargetNodeID: "cache", RelationshipType: graph.RelUses, Confidence: 1}))

	remote := storeWith(t,
		graph.Node{ID: "app", Provider: graph.ProviderGCP},
		graph.Node{ID: "db", Name: "remote-db", Provider: graph.ProviderGCP, ResourceType: graph.ResourceDatabase},
		graph.Node{ID: "queue", Provider: graph.ProviderGCP, ResourceType: graph.ResourceQueue},
	)
	require.NoError(t, remote.UpsertEdge(ctx, graph.Edge{ID: "app-db", SourceNodeID: "app", TargetNodeID: "db", RelationshipType: graph.RelDependsOn, Confidence: 1}))
	require.NoError(t, remote.UpsertEdge(ctx, graph.Edge{ID: "app-queue", SourceNodeID: "app", TargetNodeID: "queue", RelationshipType: graph.RelTriggers, Confidence: 1}))

	m := newTestManager(local)
	_, err := m.RegisterPeer(PeerConfig{ID: "gcp", Namespace: "gcp", Storage: remote})
	require.NoError(t, err)

	t.Run("depth one dedupes by id", func(t *testing.T) {
		res, err := m.GetNeighborsFederated(ctx, "app", NeighborOptions{})
		require.NoError(t, err)
		require.Len(t, res.Nodes, 2)
		assert.Equal(t, "db", res.Nodes[0].ID)
		assert.Equal(t, "local-db", res.Nodes[0].Name)
		assert.Equal(t, "queue", res.Nodes[1].ID)
		assert.Len(t, res.Edges, 2)
		assert.Len(t, res.PeerStatus, 2)
	})

	t.Run("depth two reaches further", func(t *testing.T) {
		res, err := m.GetNeighborsFederated(ctx, "app", NeighborOptions{Depth: 2, Direction: graph.DirectionDownstream})
		require.NoError(t, err)
		ids := make([]string, 0)
		for _, n := range res.Nodes {
			ids = append(ids, n.ID)
		}
		assert.ElementsMatch(t, []string{"db", "cache", "queue"}, ids)
	})

	t.Run("filters apply after union", func(t *testing.T) {
		res, err := m.GetNeighborsFederated(ctx, "app", NeighborOptions{
			Depth:             2,
			RelationshipTypes: []graph.RelationshipType{graph.RelDependsOn},
			ResourceTypes:     []graph.ResourceType{graph.ResourceDatabase},
		})
		require.NoError(t, err)
		require.Len(t, res.Nodes, 1)
		assert.Equal(t, "db", res.Nodes[0].ID)
		require.Len(t, res.Edges, 1)
		assert.Equal(t, "app-db", res.Edges[0].ID)
	})

	t.Run("provider filter sees deduped winner", func(t *testing.T) {
		res, err := m.GetNeighborsFederated(ctx, "app", NeighborOptions{Providers: []graph.Provider{graph.ProviderGCP}})
		require.NoError(t, err)
		require.Len(t, res.Nodes, 1)
		assert.Equal(t, "queue", res.Nodes[0].ID)
	})
}
