// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import "time"

// NodeFilter selects nodes. Zero-valued fields match everything.
//
// The same Matches implementation backs live storage queries and historical
// snapshot queries, so both apply identical semantics.
type NodeFilter struct {
	Provider     Provider          `json:"provider,omitempty" form:"provider"`
	ResourceType ResourceType      `json:"resource_type,omitempty" form:"resource_type"`
	Status       NodeStatus        `json:"status,omitempty" form:"status"`
	Region       string            `json:"region,omitempty" form:"region"`
	Account      string            `json:"account,omitempty" form:"account"`
	Tags         map[string]string `json:"tags,omitempty" form:"-"`
	Limit        int               `json:"limit,omitempty" form:"limit"`
}

// Matches reports whether n satisfies every set field. Limit is ignored.
func (f NodeFilter) Matches(n Node) bool {
	if f.Provider != "" && n.Provider != f.Provider {
		return false
	}
	if f.ResourceType != "" && n.ResourceType != f.ResourceType {
		return false
	}
	if f.Status != "" && n.Status != f.Status {
		return false
	}
	if f.Region != "" && n.Region != f.Region {
		return false
	}
	if f.Account != "" && n.Account != f.Account {
		return false
	}
	for k, v := range f.Tags {
		if got, ok := n.Tags[k]; !ok || got != v {
			return false
		}
	}
	return true
}

// EdgeFilter selects edges. Zero-valued fields match everything.
type EdgeFilter struct {
	SourceNodeID     string           `json:"source_node_id,omitempty" form:"source_node_id"`
	TargetNodeID     string           `json:"target_node_id,omitempty" form:"target_node_id"`
	RelationshipType RelationshipType `json:"relationship_type,omitempty" form:"relationship_type"`
	MinConfidence    float64          `json:"min_confidence,omitempty" form:"min_confidence"`
	Limit            int              `json:"limit,omitempty" form:"limit"`
}

// Matches reports whether e satisfies every set field. Limit is ignored.
func (f EdgeFilter) Matches(e Edge) bool {
	if f.SourceNodeID != "" && e.SourceNodeID != f.SourceNodeID {
		return false
	}
	if f.TargetNodeID != "" && e.TargetNodeID != f.TargetNodeID {
		return false
	}
	if f.RelationshipType != "" && e.RelationshipType != f.RelationshipType {
		return false
	}
	if e.Confidence < f.MinConfidence {
		return false
	}
	return true
}

// ChangeFilter selects audit records. Zero-valued fields match everything.
type ChangeFilter struct {
	Initiator        string        `json:"initiator,omitempty"`
	InitiatorType    InitiatorType `json:"initiator_type,omitempty"`
	TargetResourceID string        `json:"target_resource_id,omitempty"`
	Status           ChangeStatus  `json:"status,omitempty"`
	Action           ChangeAction  `json:"action,omitempty"`
	Since            *time.Time    `json:"since,omitempty"`
	Until            *time.Time    `json:"until,omitempty"`
	Limit            int           `json:"limit,omitempty"`
}

// Matches reports whether c satisfies every set field. Since and Until are
// inclusive bounds on CreatedAt. Limit is ignored.
func (f ChangeFilter) Matches(c ChangeRequest) bool {
	if f.Initiator != "" && c.Initiator != f.Initiator {
		return false
	}
	if f.InitiatorType != "" && c.InitiatorType != f.InitiatorType {
		return false
	}
	if f.TargetResourceID != "" && c.TargetResourceID != f.TargetResourceID {
		return false
	}
	if f.Status != "" && c.Status != f.Status {
		return false
	}
	if f.Action != "" && c.Action != f.Action {
		return false
	}
	if f.Since != nil && c.CreatedAt.Before(*f.Since) {
		return false
	}
	if f.Until != nil && c.CreatedAt.After(*f.Until) {
		return false
	}
	return true
}

// FilterNodes applies f (including Limit) to nodes, preserving order.
func FilterNodes(nodes []Node, f NodeFilter) []Node {
	out := make([]Node, 0, len(nodes))
	for _, n := range nodes {
		if !f.Matches(n) {
			continue
		}
		out = append(out, n)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

// FilterEdges applies f (including Limit) to edges, preserving order.
func FilterEdges(edges []Edge, f EdgeFilter) []Edge {
	out := make([]Edge, 0, len(edges))
	for _, e := range edges {
		if !f.Matches(e) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}
