// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package policy

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/governance"
	"github.com/AleutianAI/AleutianInfraGraph/services/knowledge_graph/graph"
)

const oneRule = `
package: test
rules:
  - id: no-deletes
    message: deletes are frozen
    match:
      actions: [delete]
`

const twoRules = `
package: test
rules:
  - id: no-deletes
    message: deletes are frozen
    match:
      actions: [delete]
  - id: no-scaling
    message: scaling is frozen
    match:
      actions: [scale]
`

func writeRules(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestReloader_BuiltinRules(t *testing.T) {
	r, err := NewReloader("", quiet)
	require.NoError(t, err)

	assert.Empty(t, r.Path())
	assert.Len(t, r.Rules(), 4)
	assert.ErrorIs(t, r.Start(context.Background()), ErrNoPolicyFile)
}

func TestReloader_MissingFile(t *testing.T) {
	_, err := NewReloader(filepath.Join(t.TempDir(), "absent.yaml"), quiet)
	assert.Error(t, err)
}

func TestReloader_ReloadKeepsPreviousRulesOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	writeRules(t, path, oneRule)

	var reloads atomic.Int32
	r, err := NewReloader(path, quiet, WithReloadHook(func(int) { reloads.Add(1) }))
	require.NoError(t, err)
	require.Len(t, r.Rules(), 1)

	writeRules(t, path, twoRules)
	require.NoError(t, r.Reload())
	assert.Len(t, r.Rules(), 2)
	assert.Equal(t, int32(1), reloads.Load())

	writeRules(t, path, "rules: [:")
	assert.Error(t, r.Reload())
	assert.Len(t, r.Rules(), 2, "broken edit must not replace the active rules")
	assert.Equal(t, int32(1), reloads.Load())
}

func TestReloader_Evaluate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	writeRules(t, path, oneRule)
	r, err := NewReloader(path, quiet)
	require.NoError(t, err)

	input := governance.PolicyInput{
		Initiator:     "alice",
		InitiatorType: graph.InitiatorHuman,
		Action:        graph.ActionScale,
	}
	res, err := r.Evaluate(context.Background(), input)
	require.NoError(t, err)
	assert.True(t, res.OK)

	writeRules(t, path, twoRules)
	require.NoError(t, r.Reload())

	res, err = r.Evaluate(context.Background(), input)
	require.NoError(t, err)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, "no-scaling", res.Violations[0].RuleID)
}

func TestReloader_WatchPicksUpEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	writeRules(t, path, oneRule)

	r, err := NewReloader(path, quiet, WithReloadDebounce(20*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Start(ctx))
	require.NoError(t, r.Start(ctx), "second Start is a no-op")

	writeRules(t, path, twoRules)
	assert.Eventually(t, func() bool { return len(r.Rules()) == 2 }, 5*time.Second, 10*time.Millisecond)

	// Files next to the rules file are ignored.
	writeRules(t, filepath.Join(filepath.Dir(path), "other.yaml"), "rules: [:")

	cancel()
	r.Wait()
	assert.Len(t, r.Rules(), 2)
}
