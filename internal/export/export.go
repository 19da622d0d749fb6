package export

import (
	"fmt"
	"io"
	"time"

	"github.com/lehigh-university-libraries/visionbatch/internal/models"
	"github.com/parquet-go/parquet-go"
	"gopkg.in/yaml.v3"
)

const (
	FormatYAML    = "yaml"
	FormatParquet = "parquet"
)

// Row is one image of a result set, without image bytes
type Row struct {
	Filename         string `yaml:"filename" parquet:"filename"`
	MimeType         string `yaml:"mimetype" parquet:"mime_type"`
	Detection        string `yaml:"detection" parquet:"detection"`
	Success          bool   `yaml:"success" parquet:"success"`
	Error            string `yaml:"error,omitempty" parquet:"error"`
	RawResponse      string `yaml:"rawresponse,omitempty" parquet:"raw_response"`
	EnhancedAnalysis string `yaml:"enhancedanalysis,omitempty" parquet:"enhanced_analysis"`
}

// Header describes the set the rows came from
type Header struct {
	ID        string         `yaml:"id"`
	Kind      string         `yaml:"kind"`
	ParentID  string         `yaml:"parentid,omitempty"`
	Subject   string         `yaml:"subject"`
	Prompt    string         `yaml:"prompt"`
	CreatedAt string         `yaml:"createdat"`
	Summary   models.Summary `yaml:"summary"`
}

// Document is the YAML layout of an exported result set
type Document struct {
	Config  Header `yaml:"config"`
	Results []Row  `yaml:"results"`
}

// Rows flattens a result set into export rows
func Rows(set models.ResultSet) []Row {
	rows := make([]Row, 0, len(set.Results))
	for _, r := range set.Results {
		row := Row{
			Filename:    r.Filename,
			MimeType:    r.MimeType,
			Detection:   r.Detection.String(),
			Success:     r.Success,
			Error:       r.Error,
			RawResponse: r.RawResponse,
		}
		if r.EnhancedAnalysis != nil {
			row.EnhancedAnalysis = *r.EnhancedAnalysis
		}
		rows = append(rows, row)
	}
	return rows
}

// WriteYAML writes the set with its summary as a YAML document
func WriteYAML(w io.Writer, set models.ResultSet) error {
	doc := Document{
		Config: Header{
			ID:        set.ID,
			Kind:      string(set.Kind),
			ParentID:  set.ParentID,
			Subject:   set.Subject,
			Prompt:    set.Prompt,
			CreatedAt: set.CreatedAt.Format(time.RFC3339),
			Summary:   set.Summarize(),
		},
		Results: Rows(set),
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode yaml: %w", err)
	}
	return enc.Close()
}

// WriteParquet writes one parquet row per image
func WriteParquet(w io.Writer, set models.ResultSet) error {
	writer := parquet.NewGenericWriter[Row](w)
	if _, err := writer.Write(Rows(set)); err != nil {
		return fmt.Errorf("failed to write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close parquet writer: %w", err)
	}
	return nil
}

// Write dispatches on format
func Write(w io.Writer, format string, set models.ResultSet) error {
	switch format {
	case FormatYAML, "":
		return WriteYAML(w, set)
	case FormatParquet:
		return WriteParquet(w, set)
	default:
		return fmt.Errorf("unsupported export format: %s", format)
	}
}

// ContentType returns the response type for format
func ContentType(format string) string {
	if format == FormatParquet {
		return "application/vnd.apache.parquet"
	}
	return "application/yaml"
}
