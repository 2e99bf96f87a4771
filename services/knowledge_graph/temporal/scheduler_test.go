// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package temporal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/graph"
	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/storage/memory"
)

func TestNewScheduler_Validation(t *testing.T) {
	store, _ := newTestStore(t, memory.New())

	_, err := NewScheduler(nil, SchedulerConfig{Interval: time.Second}, nil)
	assert.ErrorIs(t, err, ErrSchedulerConfig)

	_, err = NewScheduler(store, SchedulerConfig{}, nil)
	assert.ErrorIs(t, err, ErrSchedulerConfig)
}

func TestScheduler_RunOnceAppliesRetention(t *testing.T) {
	ctx := context.Background()
	live := memory.New()
	seedGraph(t, live)
	store, clock := newTestStore(t, live)

	sched, err := NewScheduler(store, SchedulerConfig{
		Interval:  time.Hour,
		Retention: RetentionPolicy{MaxSnapshots: 2},
		Label:     "nightly",
	}, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		snap, _, err := sched.RunOnce(ctx)
		require.NoError(t, err)
		assert.Equal(t, graph.TriggerScheduled, snap.Trigger)
		assert.Equal(t, "nightly", snap.Label)
		clock.Advance(time.Hour)
	}

	left, err := store.ListSnapshots(ctx, SnapshotFilter{})
	require.NoError(t, err)
	require.Len(t, left, 2)
	assert.Equal(t, "snap-3", left[0].ID)
}

func TestScheduler_StartStop(t *testing.T) {
	live := memory.New()
	seedGraph(t, live)
	store, _ := newTestStore(t, live)

	sched, err := NewScheduler(store, SchedulerConfig{Interval: 10 * time.Millisecond}, nil)
	require.NoError(t, err)

	sched.Start()
	sched.Start()
	require.Eventually(t, func() bool {
		snaps, err := store.ListSnapshots(context.Background(), SnapshotFilter{Trigger: graph.TriggerScheduled})
		return err == nil && len(snaps) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	sched.Stop()
	sched.Stop()

	before, err := store.ListSnapshots(context.Background(), SnapshotFilter{})
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)
	after, err := store.ListSnapshots(context.Background(), SnapshotFilter{})
	require.NoError(t, err)
	assert.Equal(t, len(before), len(after))
}

func TestScheduler_StopBeforeStart(t *testing.T) {
	store, _ := newTestStore(t, memory.New())
	sched, err := NewScheduler(store, SchedulerConfig{Interval: time.Second}, nil)
	require.NoError(t, err)

	sched.Stop()
	sched.Start()
	sched.Stop()
}
