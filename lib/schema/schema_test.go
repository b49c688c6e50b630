// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_FlatList(t *testing.T) {
	root, err := Build(List{Label("时间"), Label("选手"), Label("赛事名称")})
	require.NoError(t, err)

	assert.True(t, root.IsRoot())
	assert.Equal(t, []string{"时间", "选手", "赛事名称"}, root.Labels())
	for _, c := range root.Children {
		assert.Same(t, root, c.Parent())
		assert.Empty(t, c.Children)
	}
}

func TestBuild_Nested(t *testing.T) {
	spec := List{
		Map{{Key: "竞赛名称", Value: List{Label("主办方"), Label("承办方"), Label("已举办次数")}}},
	}
	root, err := Build(spec)
	require.NoError(t, err)

	require.Len(t, root.Children, 1)
	competition := root.Children[0]
	assert.Equal(t, "竞赛名称", competition.Name)
	assert.Equal(t, []string{"主办方", "承办方", "已举办次数"}, competition.Labels())
	assert.Same(t, competition, competition.Children[0].Parent())
	assert.Equal(t, 4, root.Count())
}

func TestBuild_WrapsTopLevelLabelAndMap(t *testing.T) {
	root, err := Build(Label("人物"))
	require.NoError(t, err)
	assert.Equal(t, []string{"人物"}, root.Labels())

	root, err = Build(Map{{Key: "评价维度", Value: Label("观点词")}})
	require.NoError(t, err)
	require.Len(t, root.Children, 1)
	assert.Equal(t, []string{"观点词"}, root.Children[0].Labels())
}

func TestBuild_PreservesDuplicates(t *testing.T) {
	root, err := Build(List{Label("A"), Label("A")})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "A"}, root.Labels())
	assert.NotSame(t, root.Children[0], root.Children[1])
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
		path string
	}{
		{name: "nil", spec: nil, path: "$"},
		{name: "list in list", spec: List{Label("a"), List{Label("b")}}, path: "$[1]"},
		{name: "map value map", spec: List{Map{{Key: "a", Value: Map{{Key: "b", Value: Label("c")}}}}}, path: "$[0].a"},
		{name: "nested list in list", spec: Map{{Key: "a", Value: List{List{Label("b")}}}}, path: "$[0].a[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.spec)
			require.Error(t, err)
			var typeErr *SchemaTypeError
			require.True(t, errors.As(err, &typeErr))
			assert.Equal(t, tt.path, typeErr.Path)
		})
	}
}

func TestCount(t *testing.T) {
	spec := List{
		Label("x"),
		Map{
			{Key: "a", Value: List{Label("b"), Map{{Key: "c", Value: Label("d")}}}},
			{Key: "e", Value: Label("f")},
		},
	}
	root := MustBuild(spec)
	// x, a, b, c, d, e, f
	assert.Equal(t, 7, root.Count())
}

func TestWalk_BreadthFirst(t *testing.T) {
	root := MustBuild(List{
		Map{{Key: "a", Value: List{Label("a1"), Label("a2")}}},
		Label("b"),
	})
	var order []string
	root.Walk(func(n *Node) bool {
		if !n.IsRoot() {
			order = append(order, n.Name)
		}
		return true
	})
	assert.Equal(t, []string{"a", "b", "a1", "a2"}, order)
}

func TestParse_PreservesKeyOrder(t *testing.T) {
	spec, err := ParseString(`[{"z": ["z1"], "a": "a1"}, "m"]`)
	require.NoError(t, err)

	root, err := Build(spec)
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "a", "m"}, root.Labels())
	assert.Equal(t, []string{"z1"}, root.Children[0].Labels())
	assert.Equal(t, []string{"a1"}, root.Children[1].Labels())
}

func TestParse_Errors(t *testing.T) {
	_, err := ParseString(`[1, "a"]`)
	var typeErr *SchemaTypeError
	require.ErrorAs(t, err, &typeErr)
	assert.Equal(t, "$[0]", typeErr.Path)
	assert.Equal(t, "number", typeErr.Got)

	_, err = ParseString(`{"a": null}`)
	require.ErrorAs(t, err, &typeErr)
	assert.Equal(t, "$.a", typeErr.Path)

	_, err = ParseString(`[`)
	require.Error(t, err)
}

func TestFromValue(t *testing.T) {
	spec, err := FromValue([]any{
		"时间",
		map[string]any{"竞赛名称": []string{"主办方", "承办方"}},
	})
	require.NoError(t, err)

	root, err := Build(spec)
	require.NoError(t, err)
	assert.Equal(t, []string{"时间", "竞赛名称"}, root.Labels())
	assert.Equal(t, []string{"主办方", "承办方"}, root.Children[1].Labels())

	_, err = FromValue([]any{"a", 3})
	var typeErr *SchemaTypeError
	require.ErrorAs(t, err, &typeErr)
	assert.Equal(t, "$[1]", typeErr.Path)
}

func TestString_Outline(t *testing.T) {
	root := MustBuild(List{Map{{Key: "a", Value: List{Label("b")}}}, Label("c")})
	assert.Equal(t, "a\n  b\nc\n", root.String())
}
