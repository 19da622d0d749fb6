package jobs

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lehigh-university-libraries/visionbatch/internal/models"
	"github.com/lehigh-university-libraries/visionbatch/internal/progress"
)

func waitForStatus(t *testing.T, tr *progress.Tracker, jobID string, want models.JobStatus) models.ProgressRecord {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := tr.Get(jobID)
		if err == nil && rec.Status == want {
			return rec
		}
		time.Sleep(5 * time.Millisecond)
	}
	rec, _ := tr.Get(jobID)
	t.Fatalf("job %s never reached %s, last record %+v", jobID, want, rec)
	return rec
}

func TestSubmitMarksComplete(t *testing.T) {
	tr := progress.NewTracker(nil)
	r := NewRunner(tr, 0, nil)
	tr.Create("job", "", 2)

	err := r.Submit("job", func(ctx context.Context) error {
		_ = tr.Update("job", 1, "a.jpg")
		_ = tr.Update("job", 2, "b.jpg")
		return nil
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	rec := waitForStatus(t, tr, "job", models.StatusComplete)
	if rec.Completed != 2 || rec.Percent != 100 {
		t.Errorf("Expected full progress, got %+v", rec)
	}
}

func TestSubmitReturnsImmediately(t *testing.T) {
	tr := progress.NewTracker(nil)
	r := NewRunner(tr, 0, nil)
	tr.Create("slow", "", 1)

	release := make(chan struct{})
	start := time.Now()
	_ = r.Submit("slow", func(ctx context.Context) error {
		<-release
		return nil
	})
	if time.Since(start) > time.Second {
		t.Error("Submit blocked on the job")
	}
	if rec, _ := tr.Get("slow"); rec.Status.Terminal() {
		t.Errorf("Job finished before it was released: %+v", rec)
	}
	close(release)
	waitForStatus(t, tr, "slow", models.StatusComplete)
}

func TestErrorBecomesStatus(t *testing.T) {
	tr := progress.NewTracker(nil)
	r := NewRunner(tr, 0, nil)
	tr.Create("job", "", 1)

	_ = r.Submit("job", func(ctx context.Context) error {
		return errors.New("provider exploded")
	})

	rec := waitForStatus(t, tr, "job", models.StatusError)
	if rec.Error != "provider exploded" {
		t.Errorf("Expected error message to be recorded, got %q", rec.Error)
	}
}

func TestPanicBecomesStatus(t *testing.T) {
	tr := progress.NewTracker(nil)
	r := NewRunner(tr, 0, nil)
	tr.Create("job", "", 1)

	_ = r.Submit("job", func(ctx context.Context) error {
		var m map[string]int
		m["boom"] = 1
		return nil
	})

	rec := waitForStatus(t, tr, "job", models.StatusError)
	if !strings.Contains(rec.Error, "internal error") {
		t.Errorf("Expected panic to be reported, got %q", rec.Error)
	}
}

func TestConcurrencyLimit(t *testing.T) {
	tr := progress.NewTracker(nil)
	r := NewRunner(tr, 1, nil)
	tr.Create("first", "", 1)
	tr.Create("second", "", 1)

	release := make(chan struct{})
	started := make(chan string, 2)
	job := func(name string) Func {
		return func(ctx context.Context) error {
			started <- name
			<-release
			return nil
		}
	}

	_ = r.Submit("first", job("first"))
	if name := <-started; name != "first" {
		t.Fatalf("Expected first job to start, got %s", name)
	}
	_ = r.Submit("second", job("second"))

	select {
	case name := <-started:
		t.Fatalf("Job %s started while the only slot was taken", name)
	case <-time.After(50 * time.Millisecond):
	}
	if rec, _ := tr.Get("second"); rec.Status != models.StatusInitialized {
		t.Errorf("Expected queued job to stay initialized, got %s", rec.Status)
	}

	close(release)
	waitForStatus(t, tr, "first", models.StatusComplete)
	waitForStatus(t, tr, "second", models.StatusComplete)
}

func TestShutdown(t *testing.T) {
	tr := progress.NewTracker(nil)
	r := NewRunner(tr, 0, nil)
	tr.Create("job", "", 1)

	var mu sync.Mutex
	finished := false
	_ = r.Submit("job", func(ctx context.Context) error {
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		finished = true
		mu.Unlock()
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown returned error: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if !finished {
		t.Error("Shutdown returned before the running job finished")
	}

	if err := r.Submit("late", func(context.Context) error { return nil }); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("Expected ErrShuttingDown, got %v", err)
	}
}
