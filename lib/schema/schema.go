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

// Package schema builds the extraction schema tree that drives multi-stage
// information extraction.
//
// A schema is written as a nested literal of labels, lists and mappings:
//
//	["时间", "选手", {"竞赛名称": ["主办方", "承办方"]}]
//
// Each label becomes a node. A mapping key becomes a node whose children are
// the labels (or nested mappings) listed under it. Children are extracted
// conditioned on every result found for their parent.
package schema

import (
	"fmt"
	"strings"
)

// Spec is a schema literal. It is one of Label, List or Map.
type Spec interface {
	isSpec()
}

// Label is a single extraction target.
type Label string

// List is an ordered sequence of labels and mappings.
type List []Spec

// Map is an ordered mapping from a label to the schema nested under it.
// Entry order is significant and preserved.
type Map []Entry

// Entry is a single key of a Map.
type Entry struct {
	Key   string
	Value Spec
}

func (Label) isSpec() {}
func (List) isSpec()  {}
func (Map) isSpec()   {}

// SchemaTypeError reports a schema literal that cannot be turned into a tree.
type SchemaTypeError struct {
	// Path locates the offending element, e.g. "$[2].竞赛名称".
	Path string
	// Got describes what was found at Path.
	Got string
	// Want describes what was expected.
	Want string
}

func (e *SchemaTypeError) Error() string {
	return fmt.Sprintf("invalid schema at %s: got %s, want %s", e.Path, e.Got, e.Want)
}

// Node is a label in the schema tree. The root has an empty name.
// A built tree is never mutated and may be shared across goroutines.
type Node struct {
	Name     string
	Children []*Node
	parent   *Node
}

// Parent returns the node this one was attached to, or nil for the root.
func (n *Node) Parent() *Node {
	return n.parent
}

// IsRoot reports whether n is the root of its tree.
func (n *Node) IsRoot() bool {
	return n.parent == nil
}

func (n *Node) addChild(c *Node) {
	c.parent = n
	n.Children = append(n.Children, c)
}

// Build turns a schema literal into a tree. A top-level Label or Map is
// treated as a one-element List. Duplicate labels are kept as separate
// siblings.
func Build(spec Spec) (*Node, error) {
	root := &Node{}
	var items List
	switch s := spec.(type) {
	case nil:
		return nil, &SchemaTypeError{Path: "$", Got: "nothing", Want: "string, list or mapping"}
	case Label:
		items = List{s}
	case Map:
		items = List{s}
	case List:
		items = s
	default:
		return nil, &SchemaTypeError{Path: "$", Got: fmt.Sprintf("%T", spec), Want: "string, list or mapping"}
	}
	if err := buildList(root, items, "$"); err != nil {
		return nil, err
	}
	return root, nil
}

// MustBuild is like Build but panics on an invalid schema.
func MustBuild(spec Spec) *Node {
	n, err := Build(spec)
	if err != nil {
		panic(err)
	}
	return n
}

func buildList(parent *Node, items List, path string) error {
	for i, item := range items {
		itemPath := fmt.Sprintf("%s[%d]", path, i)
		switch v := item.(type) {
		case Label:
			parent.addChild(&Node{Name: string(v)})
		case Map:
			for _, e := range v {
				child := &Node{Name: e.Key}
				if err := buildValue(child, e.Value, itemPath+"."+e.Key); err != nil {
					return err
				}
				parent.addChild(child)
			}
		default:
			return &SchemaTypeError{Path: itemPath, Got: describe(item), Want: "string or mapping"}
		}
	}
	return nil
}

// buildValue builds the children listed under a mapping key.
func buildValue(n *Node, value Spec, path string) error {
	switch v := value.(type) {
	case Label:
		n.addChild(&Node{Name: string(v)})
		return nil
	case List:
		return buildList(n, v, path)
	default:
		return &SchemaTypeError{Path: path, Got: describe(value), Want: "string or list"}
	}
}

func describe(s Spec) string {
	switch s.(type) {
	case nil:
		return "nothing"
	case Label:
		return "string"
	case List:
		return "list"
	case Map:
		return "mapping"
	default:
		return fmt.Sprintf("%T", s)
	}
}

// Count returns the number of labels in the tree, excluding the root.
func (n *Node) Count() int {
	total := 0
	n.Walk(func(c *Node) bool {
		if !c.IsRoot() {
			total++
		}
		return true
	})
	return total
}

// Walk visits n and its descendants breadth-first. Returning false from fn
// stops the walk.
func (n *Node) Walk(fn func(*Node) bool) {
	queue := []*Node{n}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if !fn(cur) {
			return
		}
		queue = append(queue, cur.Children...)
	}
}

// Labels returns the names of n's children in order.
func (n *Node) Labels() []string {
	names := make([]string, len(n.Children))
	for i, c := range n.Children {
		names[i] = c.Name
	}
	return names
}

// String returns an indented outline of the tree. Two trees built from
// equivalent schemas produce the same outline.
func (n *Node) String() string {
	var sb strings.Builder
	var write func(node *Node, depth int)
	write = func(node *Node, depth int) {
		for _, c := range node.Children {
			sb.WriteString(strings.Repeat("  ", depth))
			sb.WriteString(c.Name)
			sb.WriteByte('\n')
			write(c, depth+1)
		}
	}
	write(n, 0)
	return sb.String()
}
