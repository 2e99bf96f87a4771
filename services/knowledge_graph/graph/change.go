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

// InitiatorType classifies who proposed a change.
type InitiatorType string

const (
	InitiatorHuman  InitiatorType = "human"
	InitiatorAgent  InitiatorType = "agent"
	InitiatorSystem InitiatorType = "system"
)

// ChangeAction is the kind of mutation being proposed.
type ChangeAction string

const (
	ActionCreate      ChangeAction = "create"
	ActionUpdate      ChangeAction = "update"
	ActionDelete      ChangeAction = "delete"
	ActionScale       ChangeAction = "scale"
	ActionReconfigure ChangeAction = "reconfigure"
)

// ChangeStatus is the governance state of a request.
//
// Transitions: pending -> approved | rejected. auto-approved is terminal
// from creation.
type ChangeStatus string

const (
	ChangePending      ChangeStatus = "pending"
	ChangeApproved     ChangeStatus = "approved"
	ChangeRejected     ChangeStatus = "rejected"
	ChangeAutoApproved ChangeStatus = "auto-approved"
)

// IsTerminal reports whether no further transition is allowed.
func (s ChangeStatus) IsTerminal() bool {
	return s != ChangePending
}

// RiskLevel is the band a risk score falls into.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskAssessment is the output of risk scoring.
type RiskAssessment struct {
	// Score is in [0,100].
	Score int `json:"score"`

	// Level is derived from Score by fixed bands.
	Level RiskLevel `json:"level"`

	// Factors lists each triggered, human-readable reason.
	Factors []string `json:"factors"`
}

// ChangeRequest is the governance audit record for a proposed change.
//
// Created once by interception and mutated at most once by approval or
// rejection. Never deleted.
type ChangeRequest struct {
	ID               string           `json:"id"`
	Initiator        string           `json:"initiator"`
	InitiatorType    InitiatorType    `json:"initiator_type"`
	TargetResourceID string           `json:"target_resource_id"`
	ResourceType     ResourceType     `json:"resource_type"`
	Provider         Provider         `json:"provider"`
	Action           ChangeAction     `json:"action"`
	Description      string           `json:"description"`
	Risk             RiskAssessment   `json:"risk"`
	PolicyViolations []string         `json:"policy_violations"`
	Status           ChangeStatus     `json:"status"`
	CreatedAt        time.Time        `json:"created_at"`
	ResolvedAt       *time.Time       `json:"resolved_at,omitempty"`
	ResolvedBy       *string          `json:"resolved_by,omitempty"`
	Reason           *string          `json:"reason,omitempty"`
	Metadata         map[string]Value `json:"metadata,omitempty"`
}

// Clone returns a deep copy of the request.
func (c ChangeRequest) Clone() ChangeRequest {
	out := c
	out.Risk.Factors = append([]string(nil), c.Risk.Factors...)
	out.PolicyViolations = append([]string(nil), c.PolicyViolations...)
	out.ResolvedAt = clonePtr(c.ResolvedAt)
	out.ResolvedBy = clonePtr(c.ResolvedBy)
	out.Reason = clonePtr(c.Reason)
	out.Metadata = cloneMetadata(c.Metadata)
	return out
}
