package evaluation

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lehigh-university-libraries/visionbatch/internal/models"
)

func TestScore(t *testing.T) {
	results := []models.ImageResult{
		{Filename: "tp.jpg", Success: true, Detection: models.DetectionTrue},
		{Filename: "fp.jpg", Success: true, Detection: models.DetectionTrue},
		{Filename: "tn.jpg", Success: true, Detection: models.DetectionFalse},
		{Filename: "fn.jpg", Success: true, Detection: models.DetectionFalse, RawResponse: "false"},
		{Filename: "unk.jpg", Success: true, Detection: models.DetectionUnknown},
		{Filename: "err.jpg", Success: false, Error: "timeout"},
		{Filename: "unlabeled.jpg", Success: true, Detection: models.DetectionTrue},
	}
	labels := Labels{
		"tp.jpg":  true,
		"fp.jpg":  false,
		"tn.jpg":  false,
		"fn.jpg":  true,
		"unk.jpg": true,
		"err.jpg": false,
	}

	r := Score(results, labels)

	if r.Total != 7 || r.Labeled != 6 {
		t.Errorf("Expected total 7 labeled 6, got %d %d", r.Total, r.Labeled)
	}
	if r.TruePositives != 1 || r.FalsePositives != 1 || r.TrueNegatives != 1 || r.FalseNegatives != 1 {
		t.Errorf("Unexpected confusion counts: %+v", r)
	}
	if r.Unknown != 1 || r.Failed != 1 {
		t.Errorf("Expected one unknown and one failed, got %d %d", r.Unknown, r.Failed)
	}

	checks := map[string][2]float64{
		"precision": {r.Precision, 0.5},
		"recall":    {r.Recall, 0.5},
		"f1":        {r.F1, 0.5},
		"accuracy":  {r.Accuracy, 2.0 / 6.0},
	}
	for name, c := range checks {
		if math.Abs(c[0]-c[1]) > 1e-9 {
			t.Errorf("%s = %v, want %v", name, c[0], c[1])
		}
	}

	if len(r.Mismatches) != 4 || r.Mismatches[0].Filename != "err.jpg" {
		t.Errorf("Expected 4 sorted mismatches, got %+v", r.Mismatches)
	}
}

func TestScoreEmpty(t *testing.T) {
	r := Score(nil, Labels{"a.jpg": true})
	if r.Precision != 0 || r.Recall != 0 || r.F1 != 0 || r.Accuracy != 0 {
		t.Errorf("Expected zero metrics without results, got %+v", r)
	}
}

func TestLoadLabels(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "labels.yaml")
	content := "subject: Flare\nlabels:\n  a.jpg: true\n  b.jpg: false\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	lf, err := LoadLabels(path)
	if err != nil {
		t.Fatalf("LoadLabels: %v", err)
	}
	if lf.Subject != "Flare" || len(lf.Labels) != 2 || !lf.Labels["a.jpg"] || lf.Labels["b.jpg"] {
		t.Errorf("Unexpected labels: %+v", lf)
	}

	empty := filepath.Join(dir, "empty.yaml")
	if err := os.WriteFile(empty, []byte("subject: Flare\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadLabels(empty); err == nil {
		t.Error("Expected error for label file without labels")
	}
}

func TestWriteText(t *testing.T) {
	r := Score([]models.ImageResult{
		{Filename: "a.jpg", Success: true, Detection: models.DetectionFalse},
	}, Labels{"a.jpg": true})
	r.Provider, r.Model = "cohere", "command-a-vision-epsilon"

	var buf bytes.Buffer
	if err := r.WriteText(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Provider: cohere", "FN: 1", "a.jpg: expected true, got not_detected"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected report to contain %q, got:\n%s", want, out)
		}
	}
}
