package cmd

import (
	"fmt"
	"io"

	"github.com/lehigh-university-libraries/visionbatch/internal/evaluation"
	"github.com/lehigh-university-libraries/visionbatch/internal/images"
	"github.com/spf13/cobra"
)

func newEvalCmd() *cobra.Command {
	var (
		labelsPath string
		prompt     string
		format     string
		output     string
	)

	cmd := &cobra.Command{
		Use:   "eval <dir|file>...",
		Short: "Measure classification accuracy against labeled images",
		Long: `Classifies the given images and compares each detection with a label file
of the form:

  subject: Flare
  labels:
    stack-01.jpg: true
    stack-02.jpg: false

Reports precision, recall, F1 and accuracy, plus every mismatch.`,
		Example: `  visionbatch eval ./labeled --labels labels.yaml
  visionbatch eval ./labeled --labels labels.yaml --format yaml --output report.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if labelsPath == "" {
				return fmt.Errorf("--labels is required")
			}
			if format != "text" && format != "yaml" {
				return fmt.Errorf("unsupported format: %s", format)
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			labels, err := evaluation.LoadLabels(labelsPath)
			if err != nil {
				return err
			}

			a, err := newApp(cfg)
			if err != nil {
				return err
			}

			fetcher := images.NewFetcher(cfg.AllowedExtensions, cfg.MaxUploadBytes)
			inputs, err := fetcher.LoadPaths(args)
			if err != nil {
				return err
			}
			if len(inputs) == 0 {
				return fmt.Errorf("no images found in %v", args)
			}

			if prompt == "" {
				prompt = cfg.DefaultPrompt
			}
			results := a.processor.RunInitial(cmd.Context(), inputs, prompt, logProgress(len(inputs)))

			report := evaluation.Score(results, labels.Labels)
			report.Provider = cfg.Provider
			report.Model = cfg.Model
			report.Prompt = prompt

			return writeOutput(output, func(w io.Writer) error {
				if format == "yaml" {
					return report.WriteYAML(w)
				}
				return report.WriteText(w)
			})
		},
	}

	cmd.Flags().StringVarP(&labelsPath, "labels", "l", "", "YAML file mapping filenames to true/false")
	cmd.Flags().StringVar(&prompt, "prompt", "", "Yes/no question to ask about each image")
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Report format: text or yaml")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")

	return cmd
}
