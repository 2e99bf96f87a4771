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

import (
	"fmt"
	"time"
)

// =============================================================================
// Enumerations
// =============================================================================

// Provider identifies the cloud provider owning a resource.
type Provider string

const (
	ProviderAWS        Provider = "aws"
	ProviderAzure      Provider = "azure"
	ProviderGCP        Provider = "gcp"
	ProviderKubernetes Provider = "kubernetes"
	ProviderCustom     Provider = "custom"
)

// ResourceType classifies a tracked resource.
type ResourceType string

const (
	ResourceCompute       ResourceType = "compute"
	ResourceDatabase      ResourceType = "database"
	ResourceStorage       ResourceType = "storage"
	ResourceNetwork       ResourceType = "network"
	ResourceLoadBalancer  ResourceType = "load-balancer"
	ResourceFunction      ResourceType = "function"
	ResourceContainer     ResourceType = "container"
	ResourceCluster       ResourceType = "cluster"
	ResourceQueue         ResourceType = "queue"
	ResourceTopic         ResourceType = "topic"
	ResourceCache         ResourceType = "cache"
	ResourceDNS           ResourceType = "dns"
	ResourceCertificate   ResourceType = "certificate"
	ResourceSecret        ResourceType = "secret"
	ResourceIAMRole       ResourceType = "iam-role"
	ResourceSecurityGroup ResourceType = "security-group"
	ResourceVPC           ResourceType = "vpc"
	ResourceSubnet        ResourceType = "subnet"
	ResourceAPIGateway    ResourceType = "api-gateway"
	ResourceCDN           ResourceType = "cdn"
	ResourceMLEndpoint    ResourceType = "ml-endpoint"
	ResourceGPUInstance   ResourceType = "gpu-instance"
	ResourceCustom        ResourceType = "custom"
)

// NodeStatus is the observed lifecycle state of a resource.
type NodeStatus string

const (
	StatusRunning NodeStatus = "running"
	StatusStopped NodeStatus = "stopped"
	StatusPending NodeStatus = "pending"
	StatusError   NodeStatus = "error"
	StatusDeleted NodeStatus = "deleted"
	StatusUnknown NodeStatus = "unknown"
)

// RelationshipType names the semantics of an edge.
type RelationshipType string

const (
	RelDependsOn    RelationshipType = "depends-on"
	RelContains     RelationshipType = "contains"
	RelConnectsTo   RelationshipType = "connects-to"
	RelRoutesTo     RelationshipType = "routes-to"
	RelUses         RelationshipType = "uses"
	RelSecuredBy    RelationshipType = "secured-by"
	RelReplicatesTo RelationshipType = "replicates-to"
	RelAttachedTo   RelationshipType = "attached-to"
	RelMemberOf     RelationshipType = "member-of"
	RelTriggers     RelationshipType = "triggers"
)

// Direction selects which edges of a node to follow.
//
// Downstream follows outgoing edges (node is the source), Upstream follows
// incoming edges (node is the target).
type Direction string

const (
	DirectionUpstream   Direction = "upstream"
	DirectionDownstream Direction = "downstream"
	DirectionBoth       Direction = "both"
)

// =============================================================================
// Node
// =============================================================================

// Node is a tracked cloud resource.
//
// ID is globally unique within one storage instance and is never reassigned
// to a different resource.
type Node struct {
	ID           string            `json:"id" yaml:"id"`
	Name         string            `json:"name" yaml:"name"`
	Provider     Provider          `json:"provider" yaml:"provider"`
	ResourceType ResourceType      `json:"resource_type" yaml:"resource_type"`
	Region       string            `json:"region" yaml:"region"`
	Account      string            `json:"account" yaml:"account"`
	Status       NodeStatus        `json:"status" yaml:"status"`
	Tags         map[string]string `json:"tags,omitempty" yaml:"tags,omitempty"`
	Metadata     map[string]Value  `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CostMonthly  *float64          `json:"cost_monthly,omitempty" yaml:"cost_monthly,omitempty"`
	Owner        *string           `json:"owner,omitempty" yaml:"owner,omitempty"`
	CreatedAt    *time.Time        `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	DiscoveredAt *time.Time        `json:"discovered_at,omitempty" yaml:"discovered_at,omitempty"`
	LastSeenAt   *time.Time        `json:"last_seen_at,omitempty" yaml:"last_seen_at,omitempty"`
}

// Validate checks the fields every storage requires.
func (n Node) Validate() error {
	if n.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidNode)
	}
	return nil
}

// Cost returns CostMonthly or 0 when unknown.
func (n Node) Cost() float64 {
	if n.CostMonthly == nil {
		return 0
	}
	return *n.CostMonthly
}

// Clone returns a deep copy of the node's maps and pointers.
func (n Node) Clone() Node {
	out := n
	out.Tags = cloneTags(n.Tags)
	out.Metadata = cloneMetadata(n.Metadata)
	out.CostMonthly = clonePtr(n.CostMonthly)
	out.Owner = clonePtr(n.Owner)
	out.CreatedAt = clonePtr(n.CreatedAt)
	out.DiscoveredAt = clonePtr(n.DiscoveredAt)
	out.LastSeenAt = clonePtr(n.LastSeenAt)
	return out
}

// =============================================================================
// Edge
// =============================================================================

// Edge is a directed relationship between two nodes.
//
// Both endpoints must reference nodes in the same storage instance. An
// edge's identity (ID, endpoints, relationship) never changes.
type Edge struct {
	ID               string           `json:"id" yaml:"id"`
	SourceNodeID     string           `json:"source_node_id" yaml:"source_node_id"`
	TargetNodeID     string           `json:"target_node_id" yaml:"target_node_id"`
	RelationshipType RelationshipType `json:"relationship_type" yaml:"relationship_type"`
	Confidence       float64          `json:"confidence" yaml:"confidence"`
	DiscoveredVia    string           `json:"discovered_via,omitempty" yaml:"discovered_via,omitempty"`
	Metadata         map[string]Value `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CreatedAt        *time.Time       `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	LastSeenAt       *time.Time       `json:"last_seen_at,omitempty" yaml:"last_seen_at,omitempty"`
}

// Validate checks the fields every storage requires.
func (e Edge) Validate() error {
	switch {
	case e.ID == "":
		return fmt.Errorf("%w: id is required", ErrInvalidEdge)
	case e.SourceNodeID == "" || e.TargetNodeID == "":
		return fmt.Errorf("%w: both endpoints are required", ErrInvalidEdge)
	case e.Confidence < 0 || e.Confidence > 1:
		return fmt.Errorf("%w: confidence %.2f outside [0,1]", ErrInvalidEdge, e.Confidence)
	}
	return nil
}

// Touches reports whether the edge has nodeID as an endpoint in the given
// direction relative to nodeID.
func (e Edge) Touches(nodeID string, dir Direction) bool {
	switch dir {
	case DirectionDownstream:
		return e.SourceNodeID == nodeID
	case DirectionUpstream:
		return e.TargetNodeID == nodeID
	default:
		return e.SourceNodeID == nodeID || e.TargetNodeID == nodeID
	}
}

// Other returns the endpoint opposite nodeID.
func (e Edge) Other(nodeID string) string {
	if e.SourceNodeID == nodeID {
		return e.TargetNodeID
	}
	return e.SourceNodeID
}

// Clone returns a deep copy of the edge's maps and pointers.
func (e Edge) Clone() Edge {
	out := e
	out.Metadata = cloneMetadata(e.Metadata)
	out.CreatedAt = clonePtr(e.CreatedAt)
	out.LastSeenAt = clonePtr(e.LastSeenAt)
	return out
}

// =============================================================================
// Helpers
// =============================================================================

// Ptr returns a pointer to v. Used for the nullable model fields.
func Ptr[T any](v T) *T {
	return &v
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTags(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneMetadata(in map[string]Value) map[string]Value {
	if in == nil {
		return nil
	}
	out := make(map[string]Value, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
