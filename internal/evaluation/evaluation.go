package evaluation

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/lehigh-university-libraries/visionbatch/internal/models"
	"gopkg.in/yaml.v3"
)

// Labels maps an image filename to whether the subject is really present
type Labels map[string]bool

// LabelFile is the on-disk ground truth format
type LabelFile struct {
	Subject string `yaml:"subject"`
	Labels  Labels `yaml:"labels"`
}

// LoadLabels reads a YAML label file
func LoadLabels(path string) (*LabelFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read labels: %w", err)
	}
	var lf LabelFile
	if err := yaml.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("failed to parse labels: %w", err)
	}
	if len(lf.Labels) == 0 {
		return nil, fmt.Errorf("no labels found in %s", path)
	}
	return &lf, nil
}

// Mismatch is an image where the classifier disagreed with its label
type Mismatch struct {
	Filename    string `yaml:"filename"`
	Expected    bool   `yaml:"expected"`
	Detection   string `yaml:"detection"`
	RawResponse string `yaml:"rawresponse,omitempty"`
	Error       string `yaml:"error,omitempty"`
}

// Report holds confusion counts over the labeled images of a run. Unknown
// and failed classifications are counted separately and excluded from
// precision and recall.
type Report struct {
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	Prompt    string `yaml:"prompt"`
	Timestamp string `yaml:"timestamp"`

	Total          int `yaml:"total"`
	Labeled        int `yaml:"labeled"`
	TruePositives  int `yaml:"truepositives"`
	FalsePositives int `yaml:"falsepositives"`
	TrueNegatives  int `yaml:"truenegatives"`
	FalseNegatives int `yaml:"falsenegatives"`
	Unknown        int `yaml:"unknown"`
	Failed         int `yaml:"failed"`

	Precision float64 `yaml:"precision"`
	Recall    float64 `yaml:"recall"`
	F1        float64 `yaml:"f1"`
	Accuracy  float64 `yaml:"accuracy"`

	Mismatches []Mismatch `yaml:"mismatches,omitempty"`
}

// Score compares results against labels. Results without a label are only
// counted in Total.
func Score(results []models.ImageResult, labels Labels) *Report {
	r := &Report{Total: len(results), Timestamp: time.Now().Format(time.RFC3339)}

	for _, res := range results {
		expected, ok := labels[res.Filename]
		if !ok {
			continue
		}
		r.Labeled++

		switch {
		case !res.Success:
			r.Failed++
		case res.Detection == models.DetectionTrue && expected:
			r.TruePositives++
			continue
		case res.Detection == models.DetectionTrue:
			r.FalsePositives++
		case res.Detection == models.DetectionFalse && !expected:
			r.TrueNegatives++
			continue
		case res.Detection == models.DetectionFalse:
			r.FalseNegatives++
		default:
			r.Unknown++
		}

		r.Mismatches = append(r.Mismatches, Mismatch{
			Filename:    res.Filename,
			Expected:    expected,
			Detection:   res.Detection.String(),
			RawResponse: res.RawResponse,
			Error:       res.Error,
		})
	}

	sort.Slice(r.Mismatches, func(i, j int) bool { return r.Mismatches[i].Filename < r.Mismatches[j].Filename })

	r.Precision = ratio(r.TruePositives, r.TruePositives+r.FalsePositives)
	r.Recall = ratio(r.TruePositives, r.TruePositives+r.FalseNegatives)
	if r.Precision+r.Recall > 0 {
		r.F1 = 2 * r.Precision * r.Recall / (r.Precision + r.Recall)
	}
	r.Accuracy = ratio(r.TruePositives+r.TrueNegatives, r.Labeled)
	return r
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

// WriteText prints a human readable summary
func (r *Report) WriteText(w io.Writer) error {
	lines := []string{
		"========================================",
		"Classification Evaluation Report",
		"========================================",
		fmt.Sprintf("Provider: %s", r.Provider),
		fmt.Sprintf("Model:    %s", r.Model),
		"",
		fmt.Sprintf("Images:   %d (%d labeled)", r.Total, r.Labeled),
		fmt.Sprintf("TP: %d  FP: %d  TN: %d  FN: %d", r.TruePositives, r.FalsePositives, r.TrueNegatives, r.FalseNegatives),
		fmt.Sprintf("Unknown: %d  Failed: %d", r.Unknown, r.Failed),
		"",
		fmt.Sprintf("Precision: %.2f%%", r.Precision*100),
		fmt.Sprintf("Recall:    %.2f%%", r.Recall*100),
		fmt.Sprintf("F1:        %.2f%%", r.F1*100),
		fmt.Sprintf("Accuracy:  %.2f%%", r.Accuracy*100),
	}
	if len(r.Mismatches) > 0 {
		lines = append(lines, "", "Mismatches:")
		for _, m := range r.Mismatches {
			line := fmt.Sprintf("  %s: expected %t, got %s", m.Filename, m.Expected, m.Detection)
			if m.Error != "" {
				line += " (" + m.Error + ")"
			}
			lines = append(lines, line)
		}
	}

	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

// WriteYAML encodes the report
func (r *Report) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return enc.Close()
}
