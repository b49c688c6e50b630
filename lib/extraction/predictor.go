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

package extraction

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/antflydb/uie/lib/backends"
	"github.com/antflydb/uie/lib/pipelines"
	"github.com/antflydb/uie/lib/span"
	"github.com/antflydb/uie/lib/splitter"
	"go.uber.org/zap"
)

// Predictor runs one extraction stage: a batch of examples in, one result
// list per example out.
type Predictor struct {
	pipeline *pipelines.Pipeline
	logger   *zap.Logger
}

// NewPredictor creates a Predictor on top of pipeline.
func NewPredictor(pipeline *pipelines.Pipeline, logger *zap.Logger) *Predictor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Predictor{pipeline: pipeline, logger: logger}
}

// Predict splits every example text into chunks that fit next to the
// longest prompt, runs the chunks through the model in batches and joins
// the chunk predictions back into one list per example.
func (p *Predictor) Predict(ctx context.Context, examples []Example, opts Options) ([][]*Result, error) {
	if len(examples) == 0 {
		return nil, nil
	}

	prompts := make([]string, len(examples))
	texts := make([]string, len(examples))
	longest := 0
	for i, ex := range examples {
		prompt := ex.Prompt
		if opts.NormalizePrompt {
			prompt = NormalizePrompt(prompt)
		}
		prompts[i] = prompt
		texts[i] = ex.Text
		longest = max(longest, utf8.RuneCountInString(prompt))
	}

	maxSeqLen := opts.MaxSeqLen
	if limit := p.pipeline.Config.MaxLength; limit > 0 && limit < maxSeqLen {
		maxSeqLen = limit
	}
	budget, err := splitter.ContentBudget(maxSeqLen, longest)
	if err != nil {
		return nil, err
	}
	chunks, mapping, err := splitter.Split(texts, budget, opts.SplitSentence)
	if err != nil {
		return nil, fmt.Errorf("splitting texts: %w", err)
	}

	pairs := make([]pipelines.Pair, len(chunks))
	for doc, idxs := range mapping {
		for _, idx := range idxs {
			pairs[idx] = pipelines.Pair{Prompt: prompts[doc], Text: chunks[idx]}
		}
	}

	chunkResults := make([][]splitter.Prediction, len(pairs))
	for lo := 0; lo < len(pairs); lo += opts.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hi := min(lo+opts.BatchSize, len(pairs))
		batch, out, err := p.pipeline.Forward(ctx, pairs[lo:hi])
		if err != nil {
			return nil, fmt.Errorf("predicting chunks %d-%d: %w", lo, hi-1, err)
		}
		for j := range batch.Len() {
			chunkResults[lo+j] = decodeRow(batch, out, j, pairs[lo+j], opts)
		}
	}

	p.logger.Debug("Predicted stage",
		zap.Int("examples", len(examples)),
		zap.Int("chunks", len(chunks)),
		zap.Int("contentBudget", budget))

	joined := splitter.Join(chunkResults, chunks, mapping)
	results := make([][]*Result, len(joined))
	for i, preds := range joined {
		results[i] = toResults(preds)
	}
	return results, nil
}

// decodeRow turns the probabilities of row j into chunk predictions.
// Padding positions are ignored.
func decodeRow(batch *pipelines.EncodedBatch, out *backends.ModelOutput, j int, pair pipelines.Pair, opts Options) []splitter.Prediction {
	n := batch.OriginalLengths[j]
	starts := span.FlagPositions(out.StartProbs[j][:n], opts.PositionProb)
	ends := span.FlagPositions(out.EndProbs[j][:n], opts.PositionProb)
	spans := span.Decode(starts, ends)
	if len(spans) == 0 {
		return nil
	}

	prompt, text := []rune(pair.Prompt), []rune(pair.Text)
	offsets := span.ShiftPrompt(batch.Offsets[j][:n], len(prompt))
	preds := make([]splitter.Prediction, 0, len(spans))
	for _, sp := range spans {
		ts, ok := span.ToTextSpan(sp.Start.Index, sp.End.Index, offsets, prompt, text)
		if !ok {
			continue
		}
		preds = append(preds, splitter.Prediction{
			Text:           ts.Text,
			Start:          ts.Start,
			End:            ts.End,
			Probability:    sp.Probability(opts.Scoring),
			Classification: ts.FromPrompt,
		})
	}
	return preds
}

// Close releases the pipeline.
func (p *Predictor) Close() error {
	return p.pipeline.Close()
}
