package models

import (
	"encoding/json"
	"time"
)

// ImageInput is one uploaded image before it is processed
type ImageInput struct {
	Filename string
	Data     []byte
}

// Detection is the tri-state outcome of a yes/no classification
type Detection int

const (
	DetectionUnknown Detection = iota
	DetectionTrue
	DetectionFalse
)

func (d Detection) String() string {
	switch d {
	case DetectionTrue:
		return "detected"
	case DetectionFalse:
		return "not_detected"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the detection as true, false or null
func (d Detection) MarshalJSON() ([]byte, error) {
	switch d {
	case DetectionTrue:
		return []byte("true"), nil
	case DetectionFalse:
		return []byte("false"), nil
	default:
		return []byte("null"), nil
	}
}

func (d *Detection) UnmarshalJSON(data []byte) error {
	var v *bool
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch {
	case v == nil:
		*d = DetectionUnknown
	case *v:
		*d = DetectionTrue
	default:
		*d = DetectionFalse
	}
	return nil
}

// ImageResult is the outcome of processing one image. EnhancedAnalysis is only
// set on results produced by the enhanced pass.
type ImageResult struct {
	Filename         string    `json:"filename"`
	Thumbnail        string    `json:"thumbnail"`
	FullImage        string    `json:"full_image"`
	MimeType         string    `json:"mime_type"`
	Detection        Detection `json:"detection_result"`
	Success          bool      `json:"success"`
	Error            string    `json:"error,omitempty"`
	RawResponse      string    `json:"raw_response,omitempty"`
	EnhancedAnalysis *string   `json:"enhanced_analysis,omitempty"`
}

// ResultKind distinguishes the initial classification pass from the enhanced pass
type ResultKind string

const (
	KindInitial  ResultKind = "initial"
	KindEnhanced ResultKind = "enhanced"
)

// ResultSet is an ordered collection of per-image results. Revision changes
// every time the results are modified by deletion or replacement. FinishedAt
// is zero while the batch that fills the set is still running.
type ResultSet struct {
	ID         string        `json:"id"`
	Kind       ResultKind    `json:"kind"`
	ParentID   string        `json:"parent_id,omitempty"`
	Subject    string        `json:"subject"`
	Prompt     string        `json:"prompt"`
	Results    []ImageResult `json:"results"`
	Revision   int           `json:"revision"`
	CreatedAt  time.Time     `json:"created_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Summary counts results by outcome. The counts partition Total: a failed
// item is counted only as Failed, never as Unknown.
type Summary struct {
	Total       int `json:"total"`
	Detected    int `json:"detected"`
	NotDetected int `json:"not_detected"`
	Unknown     int `json:"unknown"`
	Failed      int `json:"failed"`
}

func (rs ResultSet) Summarize() Summary {
	s := Summary{Total: len(rs.Results)}
	for _, r := range rs.Results {
		if !r.Success {
			s.Failed++
			continue
		}
		switch r.Detection {
		case DetectionTrue:
			s.Detected++
		case DetectionFalse:
			s.NotDetected++
		default:
			s.Unknown++
		}
	}
	return s
}

// JobStatus is the lifecycle state of a background batch
type JobStatus string

const (
	StatusInitialized JobStatus = "initialized"
	StatusProcessing  JobStatus = "processing"
	StatusComplete    JobStatus = "complete"
	StatusError       JobStatus = "error"
)

// Rank orders statuses so transitions can be checked for regressions.
// Both terminal states share the highest rank.
func (s JobStatus) Rank() int {
	switch s {
	case StatusInitialized:
		return 0
	case StatusProcessing:
		return 1
	case StatusComplete, StatusError:
		return 2
	default:
		return -1
	}
}

func (s JobStatus) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// ProgressRecord tracks one background batch run
type ProgressRecord struct {
	JobID       string    `json:"job_id"`
	ResultID    string    `json:"result_id,omitempty"`
	Total       int       `json:"total"`
	Completed   int       `json:"completed"`
	Percent     int       `json:"percent"`
	Status      JobStatus `json:"status"`
	CurrentItem string    `json:"current_item,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
