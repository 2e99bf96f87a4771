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
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestValue_ZeroIsNull(t *testing.T) {
	var v Value
	assert.True(t, v.IsNull())
	assert.Equal(t, KindNull, v.Kind())

	data, err := json.Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))
}

func TestValue_JSONNested(t *testing.T) {
	in := `{"a":[1,true,"x",null],"b":{"c":2.5}}`

	var v Value
	require.NoError(t, json.Unmarshal([]byte(in), &v))
	assert.Equal(t, KindObject, v.Kind())

	a, ok := v.Field("a")
	require.True(t, ok)
	items := a.Items()
	require.Len(t, items, 4)
	n, ok := items[0].AsNumber()
	assert.True(t, ok)
	assert.Equal(t, 1.0, n)
	assert.True(t, items[1].IsTrue())
	assert.True(t, items[3].IsNull())

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, in, string(out))
}

func TestValue_Equal(t *testing.T) {
	a := Object(map[string]Value{"k": Array(Number(1), String("x"))})
	b := Object(map[string]Value{"k": Array(Number(1), String("x"))})
	c := Object(map[string]Value{"k": Array(Number(2), String("x"))})

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, Number(1).Equal(String("1")))
	assert.True(t, Null().Equal(Value{}))
}

func TestValue_YAML(t *testing.T) {
	var m map[string]Value
	require.NoError(t, yaml.Unmarshal([]byte("gpu: true\ncount: 3\nnested:\n  k: v\n"), &m))

	assert.True(t, m["gpu"].IsTrue())
	n, ok := m["count"].AsNumber()
	assert.True(t, ok)
	assert.Equal(t, 3.0, n)
	nested, ok := m["nested"].Field("k")
	require.True(t, ok)
	s, _ := nested.AsString()
	assert.Equal(t, "v", s)
}

func TestMetadataEqual_NilEqualsEmpty(t *testing.T) {
	assert.True(t, MetadataEqual(nil, map[string]Value{}))
	assert.True(t, TagsEqual(nil, map[string]string{}))
	assert.False(t, TagsEqual(map[string]string{"a": "1"}, map[string]string{"a": "2"}))
}

func TestNode_CloneIsDeep(t *testing.T) {
	n := Node{
		ID:          "aws:1:us-east-1:compute:i-1",
		Tags:        map[string]string{"env": "prod"},
		CostMonthly: Ptr(10.0),
	}
	c := n.Clone()
	c.Tags["env"] = "dev"
	*c.CostMonthly = 99

	assert.Equal(t, "prod", n.Tags["env"])
	assert.Equal(t, 10.0, n.Cost())
}
