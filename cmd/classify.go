package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/lehigh-university-libraries/visionbatch/internal/batch"
	"github.com/lehigh-university-libraries/visionbatch/internal/export"
	"github.com/lehigh-university-libraries/visionbatch/internal/images"
	"github.com/lehigh-university-libraries/visionbatch/internal/models"
	"github.com/spf13/cobra"
)

func newClassifyCmd() *cobra.Command {
	var (
		prompt         string
		subject        string
		enhanced       bool
		enhancedPrompt string
		format         string
		output         string
	)

	cmd := &cobra.Command{
		Use:   "classify <dir|file|url>...",
		Short: "Classify images from the command line",
		Long: `Classifies local images, directories of images or image URLs with the
configured vision provider and writes the results as YAML or Parquet.

With --enhanced, images where the subject was detected also get a detailed
description from a second pass.`,
		Example: `  # Classify a directory and print YAML
  visionbatch classify ./photos

  # Write parquet with enhanced descriptions
  visionbatch classify ./photos --enhanced --format parquet --output flares.parquet`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if format != export.FormatYAML && format != export.FormatParquet {
				return fmt.Errorf("unsupported format: %s", format)
			}

			a, err := newApp(cfg)
			if err != nil {
				return err
			}

			fetcher := images.NewFetcher(cfg.AllowedExtensions, cfg.MaxUploadBytes)
			inputs, err := fetcher.Load(cmd.Context(), args)
			if err != nil {
				return err
			}
			if len(inputs) == 0 {
				return fmt.Errorf("no images found in %v", args)
			}

			if prompt == "" {
				prompt = cfg.DefaultPrompt
			}
			if subject == "" {
				subject = cfg.DefaultSubject
			}

			start := time.Now()
			results := a.processor.RunInitial(cmd.Context(), inputs, prompt, logProgress(len(inputs)))
			set := models.ResultSet{
				ID:        uuid.NewString(),
				Kind:      models.KindInitial,
				Subject:   subject,
				Prompt:    prompt,
				Results:   results,
				CreatedAt: start,
			}

			if enhanced {
				if enhancedPrompt == "" {
					enhancedPrompt = cfg.DefaultEnhancedPrompt
				}
				enhanceDetected(cmd, a.processor, &set, enhancedPrompt)
			}

			summary := set.Summarize()
			slog.Info("Classification finished",
				"images", summary.Total,
				"detected", summary.Detected,
				"not_detected", summary.NotDetected,
				"unknown", summary.Unknown,
				"failed", summary.Failed,
				"duration", time.Since(start))

			return writeOutput(output, func(w io.Writer) error {
				return export.Write(w, format, set)
			})
		},
	}

	cmd.Flags().StringVar(&prompt, "prompt", "", "Yes/no question to ask about each image")
	cmd.Flags().StringVar(&subject, "subject", "", "Name of the subject being detected")
	cmd.Flags().BoolVar(&enhanced, "enhanced", false, "Describe images where the subject was detected")
	cmd.Flags().StringVar(&enhancedPrompt, "enhanced-prompt", "", "Prompt for the description pass")
	cmd.Flags().StringVarP(&format, "format", "f", export.FormatYAML, "Output format: yaml or parquet")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")

	return cmd
}

// enhanceDetected runs the description pass over detected images and merges
// the descriptions back into set at their original positions.
func enhanceDetected(cmd *cobra.Command, p *batch.Processor, set *models.ResultSet, prompt string) {
	var (
		items   []models.ImageResult
		indices []int
	)
	for i, r := range set.Results {
		if r.Detection == models.DetectionTrue {
			items = append(items, r)
			indices = append(indices, i)
		}
	}
	if len(items) == 0 {
		slog.Info("No detected images to describe")
		return
	}

	described := p.RunEnhanced(cmd.Context(), items, prompt, logProgress(len(items)))
	for i, r := range described {
		if r.Success {
			set.Results[indices[i]].EnhancedAnalysis = r.EnhancedAnalysis
		} else {
			slog.Warn("Enhanced analysis failed", "filename", r.Filename, "err", r.Error)
		}
	}
}

func logProgress(total int) batch.ProgressFunc {
	return func(index int, filename string) {
		slog.Info("Processed image", "filename", filename, "progress", fmt.Sprintf("%d/%d", index+1, total))
	}
}

func writeOutput(path string, write func(io.Writer) error) error {
	if path == "" {
		return write(os.Stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close output file: %w", err)
	}
	slog.Info("Wrote results", "path", path)
	return nil
}
