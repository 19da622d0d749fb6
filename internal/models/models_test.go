package models

import "testing"

func TestSummarizePartitionsTotal(t *testing.T) {
	set := ResultSet{Results: []ImageResult{
		{Success: true, Detection: DetectionTrue},
		{Success: true, Detection: DetectionFalse},
		{Success: true, Detection: DetectionUnknown},
		{Success: false, Detection: DetectionUnknown, Error: "timeout"},
		{Success: false, Detection: DetectionUnknown, Error: "rate limited"},
	}}

	got := set.Summarize()
	want := Summary{Total: 5, Detected: 1, NotDetected: 1, Unknown: 1, Failed: 2}
	if got != want {
		t.Errorf("Expected %+v, got %+v", want, got)
	}
	if sum := got.Detected + got.NotDetected + got.Unknown + got.Failed; sum != got.Total {
		t.Errorf("Counts add up to %d, expected %d", sum, got.Total)
	}
}

func TestDetectionJSON(t *testing.T) {
	tests := []struct {
		in   Detection
		want string
	}{
		{DetectionTrue, "true"},
		{DetectionFalse, "false"},
		{DetectionUnknown, "null"},
	}
	for _, tt := range tests {
		b, err := tt.in.MarshalJSON()
		if err != nil {
			t.Fatalf("MarshalJSON(%s): %v", tt.in, err)
		}
		if string(b) != tt.want {
			t.Errorf("MarshalJSON(%s) = %s, expected %s", tt.in, b, tt.want)
		}
		var back Detection
		if err := back.UnmarshalJSON(b); err != nil || back != tt.in {
			t.Errorf("UnmarshalJSON(%s) = %s, %v", b, back, err)
		}
	}
}
