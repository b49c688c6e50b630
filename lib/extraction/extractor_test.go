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
	"errors"
	"testing"

	"github.com/antflydb/uie/lib/pipelines"
	"github.com/antflydb/uie/lib/schema"
	"github.com/antflydb/uie/lib/span"
	"github.com/antflydb/uie/lib/splitter"
	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sportsText = "2月8日上午北京冬奥会自由式滑雪女子大跳台决赛中中国选手谷爱凌以188.25分获得金牌！"

func TestExtractEntities(t *testing.T) {
	model := newAnswerModel(map[string][]string{
		"时间":   {"2月8日上午"},
		"选手":   {"谷爱凌"},
		"赛事名称": {"北京冬奥会自由式滑雪女子大跳台决赛"},
	})
	e := newTestExtractor(t, model)
	tree := schema.MustBuild(schema.List{schema.Label("时间"), schema.Label("选手"), schema.Label("赛事名称")})

	docs, err := e.Extract(context.Background(), []string{sportsText}, tree)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	tests := []struct {
		label      string
		text       string
		start, end int
	}{
		{"时间", "2月8日上午", 0, 6},
		{"选手", "谷爱凌", 28, 31},
		{"赛事名称", "北京冬奥会自由式滑雪女子大跳台决赛", 6, 23},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			results := docs[0][tt.label]
			require.Len(t, results, 1)
			r := results[0]
			assert.Equal(t, tt.text, r.Text)
			require.NotNil(t, r.Start)
			require.NotNil(t, r.End)
			assert.Equal(t, tt.start, *r.Start)
			assert.Equal(t, tt.end, *r.End)
			assert.InDelta(t, 0.81, r.Probability, 1e-6)
			assert.Empty(t, r.Relations)
		})
	}
	assert.Equal(t, []string{"时间", "选手", "赛事名称"}, model.seenPrompts())
}

func TestExtractRelations(t *testing.T) {
	text := "2022语言与智能技术竞赛由中国中文信息学会主办，已连续举办4届"
	model := newAnswerModel(map[string][]string{
		"竞赛名称": {"2022语言与智能技术竞赛"},
		"2022语言与智能技术竞赛的主办方":   {"中国中文信息学会"},
		"2022语言与智能技术竞赛的已举办次数": {"4届"},
	})
	e := newTestExtractor(t, model)
	tree := schema.MustBuild(schema.Map{{Key: "竞赛名称", Value: schema.List{schema.Label("主办方"), schema.Label("已举办次数")}}})

	docs, err := e.Extract(context.Background(), []string{text}, tree)
	require.NoError(t, err)

	top := docs[0]["竞赛名称"]
	require.Len(t, top, 1)
	assert.Equal(t, "2022语言与智能技术竞赛", top[0].Text)
	assert.Equal(t, 0, *top[0].Start)
	assert.Equal(t, 13, *top[0].End)

	host := top[0].Relations["主办方"]
	require.Len(t, host, 1)
	assert.Equal(t, "中国中文信息学会", host[0].Text)
	assert.Equal(t, 14, *host[0].Start)
	assert.Equal(t, 22, *host[0].End)

	count := top[0].Relations["已举办次数"]
	require.Len(t, count, 1)
	assert.Equal(t, "4届", count[0].Text)
	assert.Equal(t, 30, *count[0].Start)
	assert.Equal(t, 32, *count[0].End)

	assert.Equal(t, []string{
		"竞赛名称",
		"2022语言与智能技术竞赛的主办方",
		"2022语言与智能技术竞赛的已举办次数",
	}, model.seenPrompts())
}

func TestExtractClassification(t *testing.T) {
	model := newAnswerModel(map[string][]string{
		"情感倾向[正向,负向]": {"正向"},
	})
	tree := schema.MustBuild(schema.Label("情感倾向[正向，负向]"))
	text := []string{"这个产品用起来真的很流畅"}

	docs, err := newTestExtractor(t, model).Extract(context.Background(), text, tree)
	require.NoError(t, err)

	results := docs[0]["情感倾向[正向，负向]"]
	require.Len(t, results, 1)
	assert.Equal(t, "正向", results[0].Text)
	assert.Nil(t, results[0].Start)
	assert.Nil(t, results[0].End)
	assert.InDelta(t, 0.81, results[0].Probability, 1e-6)

	t.Run("without normalization", func(t *testing.T) {
		docs, err := newTestExtractor(t, model, WithNormalizePrompt(false)).Extract(context.Background(), text, tree)
		require.NoError(t, err)
		assert.Empty(t, docs[0])
	})
}

func TestExtractLongTextIsSplit(t *testing.T) {
	model := newAnswerModel(map[string][]string{"地点": {"北京"}})
	e := newTestExtractor(t, model, WithMaxSeqLen(12))
	tree := schema.MustBuild(schema.Label("地点"))

	docs, err := e.Extract(context.Background(), []string{"今天上午我们在北京开会"}, tree)
	require.NoError(t, err)

	results := docs[0]["地点"]
	require.Len(t, results, 1)
	assert.Equal(t, "北京", results[0].Text)
	assert.Equal(t, 7, *results[0].Start)
	assert.Equal(t, 9, *results[0].End)
	assert.Len(t, model.seenPrompts(), 2)
}

func TestExtractBatching(t *testing.T) {
	model := newAnswerModel(map[string][]string{"地点": {"北京"}})
	e := newTestExtractor(t, model, WithBatchSize(2))
	tree := schema.MustBuild(schema.Label("地点"))

	docs, err := e.Extract(context.Background(), []string{"北京", "上海", "在北京", "无", "北京北"}, tree)
	require.NoError(t, err)
	require.Len(t, docs, 5)
	assert.Equal(t, 3, model.batches)
	assert.Equal(t, []string{"北京"}, resultTexts(docs[2]["地点"]...))
	assert.Equal(t, 1, *docs[2]["地点"][0].Start)
	assert.Empty(t, docs[1])
	assert.Empty(t, docs[3])
}

func TestExtractSequenceTooShort(t *testing.T) {
	model := newAnswerModel(nil)
	e := newTestExtractor(t, model, WithMaxSeqLen(4))

	_, err := e.Extract(context.Background(), []string{"文本"}, schema.MustBuild(schema.Label("时间")))
	var tooShort *splitter.SequenceTooShortError
	require.ErrorAs(t, err, &tooShort)
	assert.Equal(t, 4, tooShort.MaxSeqLen)
	assert.Equal(t, 2, tooShort.PromptLen)
	assert.Empty(t, model.seenPrompts())
}

func TestExtractIsIdempotent(t *testing.T) {
	model := newAnswerModel(map[string][]string{
		"竞赛名称":     {"语言竞赛"},
		"语言竞赛的主办方": {"学会"},
	})
	e := newTestExtractor(t, model)
	tree := schema.MustBuild(schema.Map{{Key: "竞赛名称", Value: schema.Label("主办方")}})
	text := []string{"语言竞赛由学会主办"}

	first, err := e.Extract(context.Background(), text, tree)
	require.NoError(t, err)
	second, err := e.Extract(context.Background(), text, tree)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	require.Len(t, first[0]["竞赛名称"][0].Relations["主办方"], 1)
}

func TestExtractAlignsNestedResults(t *testing.T) {
	f := &fakePredictor{fn: func(ex Example) []*Result {
		switch ex.Prompt {
		case "人物":
			switch ex.Text {
			case "张三生于北京":
				return []*Result{{Text: "张三"}}
			case "李四和王五":
				return []*Result{{Text: "李四"}, {Text: "王五"}}
			}
		case "张三的出生地":
			return []*Result{{Text: "北京"}}
		case "王五的出生地":
			return []*Result{{Text: "上海"}}
		}
		return nil
	}}
	e := newFakeExtractor(t, f)
	tree := schema.MustBuild(schema.Map{{Key: "人物", Value: schema.Label("出生地")}})

	docs, err := e.Extract(context.Background(), []string{"张三生于北京", "无关文本", "李四和王五"}, tree)
	require.NoError(t, err)

	require.Len(t, f.calls, 2)
	assert.Equal(t, []Example{
		{Text: "张三生于北京", Prompt: "张三的出生地"},
		{Text: "李四和王五", Prompt: "李四的出生地"},
		{Text: "李四和王五", Prompt: "王五的出生地"},
	}, f.calls[1])

	assert.Equal(t, []string{"北京"}, resultTexts(docs[0]["人物"][0].Relations["出生地"]...))
	assert.Empty(t, docs[1])
	people := docs[2]["人物"]
	require.Len(t, people, 2)
	assert.Nil(t, people[0].Relations)
	assert.Equal(t, []string{"上海"}, resultTexts(people[1].Relations["出生地"]...))
}

func TestExtractPrunesEmptySubtrees(t *testing.T) {
	f := &fakePredictor{fn: func(Example) []*Result { return nil }}
	tree := schema.MustBuild(schema.Map{{Key: "a", Value: schema.List{
		schema.Label("b"),
		schema.Map{{Key: "c", Value: schema.Label("d")}},
	}}})

	docs, err := newFakeExtractor(t, f).Extract(context.Background(), []string{"x", "y"}, tree)
	require.NoError(t, err)
	assert.Len(t, f.calls, 1)
	assert.Equal(t, []Document{{}, {}}, docs)
}

func TestExtractBreadthFirst(t *testing.T) {
	f := &fakePredictor{fn: func(ex Example) []*Result { return []*Result{{Text: "r"}} }}
	tree := schema.MustBuild(schema.List{
		schema.Map{{Key: "a", Value: schema.Label("a1")}},
		schema.Label("b"),
	})

	docs, err := newFakeExtractor(t, f).Extract(context.Background(), []string{"x"}, tree)
	require.NoError(t, err)

	var prompts []string
	for _, call := range f.calls {
		for _, ex := range call {
			prompts = append(prompts, ex.Prompt)
		}
	}
	assert.Equal(t, []string{"a", "b", "r的a1"}, prompts)
	assert.Equal(t, []string{"r"}, resultTexts(docs[0]["a"][0].Relations["a1"]...))
}

func TestExtractDuplicateLabels(t *testing.T) {
	f := &fakePredictor{fn: func(ex Example) []*Result { return []*Result{{Text: ex.Prompt}} }}
	tree := schema.MustBuild(schema.List{schema.Label("a"), schema.Label("a")})

	docs, err := newFakeExtractor(t, f).Extract(context.Background(), []string{"x"}, tree)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "a"}, resultTexts(docs[0]["a"]...))
}

func TestExtractLinkingParticle(t *testing.T) {
	f := &fakePredictor{fn: func(ex Example) []*Result { return []*Result{{Text: "p"}} }}
	e := newFakeExtractor(t, f)
	tree := schema.MustBuild(schema.Map{{Key: "a", Value: schema.Label("b")}})

	_, err := e.Extract(context.Background(), []string{"x"}, tree, WithLinkingParticle("'s "))
	require.NoError(t, err)
	require.Len(t, f.calls, 2)
	assert.Equal(t, "p's b", f.calls[1][0].Prompt)
}

func TestExtractEmptyInput(t *testing.T) {
	f := &fakePredictor{fn: func(Example) []*Result { return nil }}
	e := newFakeExtractor(t, f)

	docs, err := e.Extract(context.Background(), nil, schema.MustBuild(schema.Label("a")))
	require.NoError(t, err)
	assert.Empty(t, docs)

	docs, err = e.Extract(context.Background(), []string{"x"}, schema.MustBuild(schema.List{}))
	require.NoError(t, err)
	assert.Equal(t, []Document{{}}, docs)
	assert.Empty(t, f.calls)
}

func TestExtractErrors(t *testing.T) {
	t.Run("predictor error", func(t *testing.T) {
		boom := errors.New("boom")
		f := &fakePredictor{err: boom}
		_, err := newFakeExtractor(t, f).Extract(context.Background(), []string{"x"}, schema.MustBuild(schema.Label("a")))
		assert.ErrorIs(t, err, boom)
		assert.ErrorContains(t, err, `extracting "a"`)
	})

	t.Run("invalid options", func(t *testing.T) {
		f := &fakePredictor{fn: func(Example) []*Result { return nil }}
		_, err := newFakeExtractor(t, f).Extract(context.Background(), []string{"x"}, schema.MustBuild(schema.Label("a")), WithBatchSize(0))
		assert.Error(t, err)
		assert.Empty(t, f.calls)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := newTestExtractor(t, newAnswerModel(nil)).Extract(ctx, []string{"x"}, schema.MustBuild(schema.Label("a")))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestNew(t *testing.T) {
	e := newTestExtractor(t, newAnswerModel(nil))
	assert.Equal(t, "answers", e.Name())
	assert.Equal(t, DefaultOptions(), e.Options())

	_, err := New(pipelines.New(runeEncoder{}, newAnswerModel(nil)), nil, WithScoring("median"))
	assert.Error(t, err)
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"defaults", DefaultOptions(), false},
		{"mean scoring", DefaultOptions().Apply(WithScoring(span.ScoringMean)), false},
		{"zero seq len", DefaultOptions().Apply(WithMaxSeqLen(0)), true},
		{"zero batch", DefaultOptions().Apply(WithBatchSize(0)), true},
		{"prob too high", DefaultOptions().Apply(WithPositionProb(1)), true},
		{"negative prob", DefaultOptions().Apply(WithPositionProb(-0.1)), true},
		{"unknown scoring", DefaultOptions().Apply(WithScoring("median")), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNormalizePrompt(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"时间", "时间"},
		{"ＡＢＣ１２３", "ABC123"},
		{"情感倾向[正向，负向]", "情感倾向[正向,负向]"},
		{"a\u3000b", "a b"},
		{"（括号）", "(括号)"},
		{"！～", "!~"},
		// Outside the full-width ASCII block nothing changes.
		{"\uff71", "\uff71"},
		{"\uffe5100", "\uffe5100"},
		{"\uff5f", "\uff5f"},
		{"\u30a2", "\u30a2"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizePrompt(tt.in), tt.in)
	}
}

func TestResultJSON(t *testing.T) {
	start, end := 1, 3
	spanResult := &Result{Text: "北京", Start: &start, End: &end, Probability: 0.5}
	label := &Result{Text: "正向", Probability: 0.9}

	data, err := sonic.Marshal(spanResult)
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"北京","start":1,"end":3,"probability":0.5}`, string(data))

	data, err = sonic.Marshal(label)
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"正向","probability":0.9}`, string(data))
}

func TestDocumentJSON_SortedLabels(t *testing.T) {
	doc := Document{
		"时间": {{Text: "2月8日", Probability: 0.5}},
		"b":  {{Text: "y", Probability: 0.5, Relations: map[string][]*Result{"d": {{Text: "dd", Probability: 0.5}}, "c": {{Text: "cc", Probability: 0.5}}}}},
		"a":  {{Text: "x", Probability: 0.5}},
	}
	want := `{"a":[{"text":"x","probability":0.5}],` +
		`"b":[{"text":"y","probability":0.5,"relations":{"c":[{"text":"cc","probability":0.5}],"d":[{"text":"dd","probability":0.5}]}}],` +
		`"时间":[{"text":"2月8日","probability":0.5}]}`

	for range 10 {
		data, err := JSON.Marshal(doc)
		require.NoError(t, err)
		assert.Equal(t, want, string(data))
	}
}
