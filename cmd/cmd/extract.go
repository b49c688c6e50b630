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

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/antflydb/antfly-go/libaf/logging"
	"github.com/antflydb/uie"
	"github.com/antflydb/uie/lib/backends"
	"github.com/antflydb/uie/lib/extraction"
	"github.com/antflydb/uie/lib/schema"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var extractCmd = &cobra.Command{
	Use:   "extract [texts...]",
	Short: "Extract structured information from texts",
	Long: `Run a schema against texts with a single model and print the results as JSON.

The model is either a directory path or the name of a model under the
models directory. Texts come from the arguments, or one per line from
--file ("-" reads stdin).

Examples:
  # Entities
  uie extract --model uie-base --schema '["时间","选手","赛事名称"]' \
    "2月8日上午北京冬奥会自由式滑雪女子大跳台决赛中中国选手谷爱凌以188.25分获得金牌！"

  # Relations
  uie extract --model uie-base --schema '{"竞赛名称":["主办方","承办方","已举办次数"]}' --file news.txt`,
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().String("model", "", "model directory or name under the models directory")
	extractCmd.Flags().String("schema", "", "JSON schema: a label, a list or an object")
	extractCmd.Flags().String("file", "", "read texts from a file, one per line (- for stdin)")
	extractCmd.Flags().StringSlice("backends", nil, "backends the model may use (onnx, http)")
	extractCmd.Flags().Int("max-seq-len", 0, "maximum sequence length (0 keeps the model default)")
	extractCmd.Flags().Int("batch-size", 0, "inference batch size (0 keeps the default)")
	extractCmd.Flags().Float64("position-prob", 0, "span boundary threshold (0 keeps the model default)")
	extractCmd.Flags().Bool("split-sentence", false, "split long texts on sentence boundaries")
	extractCmd.Flags().Bool("compact", false, "print one JSON line instead of indented output")
	_ = extractCmd.MarkFlagRequired("model")
	_ = extractCmd.MarkFlagRequired("schema")
}

func runExtract(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	modelRef, _ := cmd.Flags().GetString("model")
	schemaJSON, _ := cmd.Flags().GetString("schema")
	file, _ := cmd.Flags().GetString("file")
	modelBackends, _ := cmd.Flags().GetStringSlice("backends")
	compact, _ := cmd.Flags().GetBool("compact")

	spec, err := schema.ParseString(schemaJSON)
	if err != nil {
		return err
	}
	tree, err := schema.Build(spec)
	if err != nil {
		return err
	}

	texts := args
	if file != "" {
		texts, err = readTexts(file)
		if err != nil {
			return err
		}
	}
	if len(texts) == 0 {
		return fmt.Errorf("no texts given")
	}

	opts, err := extractOptions(cmd)
	if err != nil {
		return err
	}

	logger := logging.NewLogger(&logging.Config{
		Level: logging.Level(viper.GetString("log.level")),
		Style: logging.Style(viper.GetString("log.style")),
	})
	defer func() {
		_ = logger.Sync()
	}()

	sessionManager := backends.NewSessionManager()
	defer func() { _ = sessionManager.Close() }()
	if priority := viper.GetStringSlice("backend_priority"); len(priority) > 0 {
		parsed, err := backends.ParseBackendPriority(priority)
		if err != nil {
			return err
		}
		sessionManager.SetPriority(parsed)
	}

	pooled, err := extraction.LoadPooled(extraction.PooledConfig{
		ModelPath:     resolveModelPath(modelRef),
		PoolSize:      1,
		ModelBackends: modelBackends,
		LoadOptions:   []backends.LoadOption{backends.WithGPUMode(backends.ParseGPUMode(viper.GetString("gpu")))},
		Options:       opts,
		Logger:        logger,
	}, sessionManager)
	if err != nil {
		return fmt.Errorf("loading model %s: %w", modelRef, err)
	}
	defer func() { _ = pooled.Close() }()

	docs, err := pooled.Extract(ctx, texts, tree)
	if err != nil {
		return err
	}

	var out []byte
	if compact {
		out, err = extraction.JSON.Marshal(docs)
	} else {
		out, err = extraction.JSON.MarshalIndent(docs, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encoding results: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

// extractOptions builds extraction options from the flags that were set,
// falling back to the extraction section of the config.
func extractOptions(cmd *cobra.Command) ([]extraction.Option, error) {
	cfg := uie.ExtractionConfig{
		MaxSeqLen:     viper.GetInt("extraction.max_seq_len"),
		BatchSize:     viper.GetInt("extraction.batch_size"),
		SplitSentence: viper.GetBool("extraction.split_sentence"),
		PositionProb:  viper.GetFloat64("extraction.position_prob"),
		Scoring:       viper.GetString("extraction.scoring"),
	}
	flags := cmd.Flags()
	if flags.Changed("max-seq-len") {
		cfg.MaxSeqLen, _ = flags.GetInt("max-seq-len")
	}
	if flags.Changed("batch-size") {
		cfg.BatchSize, _ = flags.GetInt("batch-size")
	}
	if flags.Changed("position-prob") {
		cfg.PositionProb, _ = flags.GetFloat64("position-prob")
	}
	if flags.Changed("split-sentence") {
		cfg.SplitSentence, _ = flags.GetBool("split-sentence")
	}
	return cfg.Options()
}

// resolveModelPath treats refs without a path separator as model names
// under the models directory when such a directory exists.
func resolveModelPath(ref string) string {
	if strings.ContainsRune(ref, os.PathSeparator) {
		return ref
	}
	if modelsDir == "" {
		return ref
	}
	candidate := filepath.Join(modelsDir, ref)
	if _, err := os.Stat(candidate); err != nil {
		return ref
	}
	return candidate
}

func readTexts(path string) ([]string, error) {
	f := os.Stdin
	if path != "-" {
		var err error
		f, err = os.Open(path)
		if err != nil {
			return nil, err
		}
		defer func() { _ = f.Close() }()
	}

	var texts []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			texts = append(texts, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return texts, nil
}
