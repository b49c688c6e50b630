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

// Package extraction drives schema-based information extraction. A schema
// tree is evaluated breadth first: every node becomes one batched model
// stage whose prompts are built from the results of the node's parent.
package extraction

import (
	"context"
	"fmt"

	"github.com/antflydb/uie/lib/pipelines"
	"github.com/antflydb/uie/lib/schema"
	"go.uber.org/zap"
)

type stagePredictor interface {
	Predict(ctx context.Context, examples []Example, opts Options) ([][]*Result, error)
	Close() error
}

// Extractor evaluates schema trees against documents.
// Extract may be called concurrently if the underlying model allows it.
type Extractor struct {
	name      string
	predictor stagePredictor
	opts      Options
	logger    *zap.Logger
}

// New creates an Extractor running on pipeline.
func New(pipeline *pipelines.Pipeline, logger *zap.Logger, opts ...Option) (*Extractor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := DefaultOptions().Apply(opts...)
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return &Extractor{
		name:      pipeline.Model.Name(),
		predictor: NewPredictor(pipeline, logger),
		opts:      o,
		logger:    logger,
	}, nil
}

// Name returns the name of the underlying model.
func (e *Extractor) Name() string {
	return e.name
}

// Options returns the default options of the extractor.
func (e *Extractor) Options() Options {
	return e.opts
}

// task is one pending schema node together with its traversal context.
// prefixes[k] and parents[k] are the prompt prefixes and the parent results
// for document k, pairwise aligned. Top-level tasks have nil slices.
type task struct {
	node     *schema.Node
	prefixes [][]string
	parents  [][]*Result
}

// Extract runs the schema tree against texts and returns one Document per
// text. opts override the extractor defaults for this call.
func (e *Extractor) Extract(ctx context.Context, texts []string, tree *schema.Node, opts ...Option) ([]Document, error) {
	o := e.opts.Apply(opts...)
	if err := o.Validate(); err != nil {
		return nil, err
	}

	docs := make([]Document, len(texts))
	for k := range docs {
		docs[k] = Document{}
	}
	if len(texts) == 0 || tree == nil {
		return docs, nil
	}

	queue := make([]task, 0, len(tree.Children))
	for _, child := range tree.Children {
		queue = append(queue, task{node: child})
	}

	stages := 0
	for len(queue) > 0 {
		t := queue[0]
		queue = queue[1:]

		examples, owners := t.examples(texts)
		if len(examples) == 0 {
			e.logger.Debug("Pruned schema node", zap.String("label", t.node.Name))
			continue
		}

		results, err := e.predictor.Predict(ctx, examples, o)
		if err != nil {
			return nil, fmt.Errorf("extracting %q: %w", t.node.Name, err)
		}
		if len(results) != len(examples) {
			return nil, fmt.Errorf("extracting %q: got %d result lists for %d examples", t.node.Name, len(results), len(examples))
		}
		stages++

		nextParents := make([][]*Result, len(texts))
		seen := make([]int, len(texts))
		found := 0
		for i, res := range results {
			k := owners[i]
			j := seen[k]
			seen[k]++
			found += len(res)
			nextParents[k] = append(nextParents[k], res...)
			if len(res) == 0 {
				continue
			}
			if t.prefixes == nil {
				docs[k][t.node.Name] = append(docs[k][t.node.Name], res...)
				continue
			}
			parent := t.parents[k][j]
			if parent.Relations == nil {
				parent.Relations = make(map[string][]*Result)
			}
			parent.Relations[t.node.Name] = append(parent.Relations[t.node.Name], res...)
		}

		e.logger.Debug("Processed schema node",
			zap.String("label", t.node.Name),
			zap.Int("examples", len(examples)),
			zap.Int("results", found))

		if len(t.node.Children) == 0 || found == 0 {
			continue
		}
		nextPrefixes := make([][]string, len(texts))
		for k, parents := range nextParents {
			for _, r := range parents {
				nextPrefixes[k] = append(nextPrefixes[k], r.Text+o.LinkingParticle)
			}
		}
		for _, child := range t.node.Children {
			queue = append(queue, task{node: child, prefixes: nextPrefixes, parents: nextParents})
		}
	}

	e.logger.Debug("Extraction complete",
		zap.Int("documents", len(texts)),
		zap.Int("stages", stages))
	return docs, nil
}

// examples builds the prompts of a task. owners[i] is the document of
// examples[i].
func (t task) examples(texts []string) ([]Example, []int) {
	var examples []Example
	var owners []int
	for k, text := range texts {
		if t.prefixes == nil {
			examples = append(examples, Example{Text: text, Prompt: t.node.Name})
			owners = append(owners, k)
			continue
		}
		for _, prefix := range t.prefixes[k] {
			examples = append(examples, Example{Text: text, Prompt: prefix + t.node.Name})
			owners = append(owners, k)
		}
	}
	return examples, owners
}

// Close releases the model.
func (e *Extractor) Close() error {
	return e.predictor.Close()
}
