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
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/antflydb/uie"
	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List local UIE models",
	Long: `List the UIE models found under the models directory.

A model is a directory holding uie_config.json and vocab.txt.

Examples:
  # List local models
  uie list

  # As JSON
  uie list --json`,
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().Bool("json", false, "Print models as JSON")
}

func runList(cmd *cobra.Command, args []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")

	registry, err := uie.NewExtractorRegistryWithLoader(uie.ExtractorRegistryConfig{
		ModelsDir: modelsDir,
	}, nil, zap.NewNop())
	if err != nil {
		return err
	}
	defer func() { _ = registry.Close() }()

	models := make([]*uie.ModelInfo, 0)
	for _, name := range registry.List() {
		if info, ok := registry.Info(name); ok {
			models = append(models, info)
		}
	}

	if asJSON {
		out, err := sonic.Marshal(models)
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	if len(models) == 0 {
		fmt.Printf("No models found in %s\n", modelsDir)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tMAX SEQ LEN\tENDPOINT\tDESCRIPTION")
	for _, m := range models {
		maxSeqLen := "-"
		if m.MaxSeqLen > 0 {
			maxSeqLen = fmt.Sprint(m.MaxSeqLen)
		}
		endpoint := m.Endpoint
		if endpoint == "" {
			endpoint = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", m.Name, maxSeqLen, endpoint, m.Description)
	}
	return w.Flush()
}
