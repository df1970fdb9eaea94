package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/riptidehq/riptide/internal/engine"
	"github.com/riptidehq/riptide/internal/output"
	"github.com/riptidehq/riptide/internal/utils"
)

type BatchEntry struct {
	Link       string            `yaml:"link"`
	OutputPath string            `yaml:"op,omitempty"`
	Headers    map[string]string `yaml:"headers,omitempty"`
	Retries    int               `yaml:"retries,omitempty"`
}

type BatchFile struct {
	Downloads []BatchEntry `yaml:"downloads"`
}

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [YAML_FILE]",
		Short: "Process multiple downloads from a YAML file",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			data, err := os.ReadFile(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error reading YAML file: %v\n", err)
				os.Exit(1)
			}
			var batchFile BatchFile
			if err := yaml.Unmarshal(data, &batchFile); err != nil {
				fmt.Fprintf(os.Stderr, "Error parsing YAML file: %v\n", err)
				os.Exit(1)
			}
			targets := buildTargetsFromBatch(batchFile)
			if len(targets) == 0 {
				fmt.Fprintf(os.Stderr, "No valid downloads found in the batch file\n")
				os.Exit(1)
			}
			if runTargets(targets) > 0 {
				fmt.Println()
				output.PrintError("Encountered failed download(s)")
				os.Exit(1)
			}
		},
	}
	return cmd
}

func buildTargetsFromBatch(batchFile BatchFile) []engine.Target {
	var targets []engine.Target
	for _, entry := range batchFile.Downloads {
		if entry.Link == "" {
			fmt.Fprintf(os.Stderr, "Warning: Empty link in batch file, skipping...\n")
			continue
		}
		op := entry.OutputPath
		if op == "" {
			op = outputPath
		} else if _, err := os.Stat(op); err == nil {
			op = utils.RenewOutputPath(op)
		}
		targets = append(targets, engine.Target{
			URL:         entry.Link,
			OutputPath:  op,
			Headers:     entry.Headers,
			RetryBudget: entry.Retries,
		})
	}
	return targets
}
