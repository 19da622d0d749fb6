package storage

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lehigh-university-libraries/visionbatch/internal/models"
)

func newSet(id string, n int) models.ResultSet {
	set := models.ResultSet{ID: id, Kind: models.KindInitial, Subject: "Flare"}
	for i := 0; i < n; i++ {
		set.Results = append(set.Results, models.ImageResult{Filename: fmt.Sprintf("img_%d.jpg", i), Success: true})
	}
	return set
}

func filenames(set models.ResultSet) []string {
	out := make([]string, len(set.Results))
	for i, r := range set.Results {
		out[i] = r.Filename
	}
	return out
}

func TestGetMissing(t *testing.T) {
	s := NewResultStore(nil)
	if _, ok := s.Get("nope"); ok {
		t.Error("Expected missing set to report not found")
	}
}

func TestDeleteItem(t *testing.T) {
	tests := []struct {
		name      string
		index     int
		wantErr   error
		wantNames []string
	}{
		{name: "first", index: 0, wantNames: []string{"img_1.jpg", "img_2.jpg"}},
		{name: "middle", index: 1, wantNames: []string{"img_0.jpg", "img_2.jpg"}},
		{name: "last", index: 2, wantNames: []string{"img_0.jpg", "img_1.jpg"}},
		{name: "negative", index: -1, wantErr: ErrIndexOutOfRange, wantNames: []string{"img_0.jpg", "img_1.jpg", "img_2.jpg"}},
		{name: "past end", index: 3, wantErr: ErrIndexOutOfRange, wantNames: []string{"img_0.jpg", "img_1.jpg", "img_2.jpg"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewResultStore(nil)
			s.Put(newSet("base", 3))

			removed, err := s.DeleteItem("base", tt.index)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Expected error %v, got %v", tt.wantErr, err)
			}
			if err == nil && removed.Filename != fmt.Sprintf("img_%d.jpg", tt.index) {
				t.Errorf("Removed wrong item: %s", removed.Filename)
			}

			got, _ := s.Get("base")
			names := filenames(got)
			if fmt.Sprint(names) != fmt.Sprint(tt.wantNames) {
				t.Errorf("Expected %v, got %v", tt.wantNames, names)
			}
		})
	}
}

func TestDeleteItemUnknownSet(t *testing.T) {
	s := NewResultStore(nil)
	if _, err := s.DeleteItem("ghost", 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestDeleteInvalidatesEnhanced(t *testing.T) {
	s := NewResultStore(nil)
	s.Put(newSet("base", 3))
	enhanced := newSet("enh", 2)
	enhanced.Kind = models.KindEnhanced
	enhanced.ParentID = "base"
	s.Put(enhanced)

	if deps := s.Dependents("base"); len(deps) != 1 {
		t.Fatalf("Expected one dependent, got %v", deps)
	}

	if _, err := s.DeleteItem("base", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := s.Get("enh"); ok {
		t.Error("Expected enhanced set to be invalidated after base deletion")
	}
}

func TestFailedDeleteKeepsEnhanced(t *testing.T) {
	s := NewResultStore(nil)
	s.Put(newSet("base", 1))
	enhanced := newSet("enh", 1)
	enhanced.ParentID = "base"
	s.Put(enhanced)

	_, _ = s.DeleteItem("base", 5)
	if _, ok := s.Get("enh"); !ok {
		t.Error("A rejected delete must leave the enhanced set in place")
	}
}

func TestPutReplacementInvalidatesEnhanced(t *testing.T) {
	s := NewResultStore(nil)
	s.Put(newSet("base", 2))
	enhanced := newSet("enh", 1)
	enhanced.ParentID = "base"
	s.Put(enhanced)

	s.Put(newSet("base", 4))
	if _, ok := s.Get("enh"); ok {
		t.Error("Expected replacing the base set to drop its enhanced set")
	}
	if got, _ := s.Get("base"); len(got.Results) != 4 {
		t.Errorf("Expected replaced base with 4 results, got %d", len(got.Results))
	}
}

func TestDeleteDropsDependents(t *testing.T) {
	s := NewResultStore(nil)
	s.Put(newSet("base", 2))
	enhanced := newSet("enh", 1)
	enhanced.ParentID = "base"
	s.Put(enhanced)

	s.Delete("base")
	if s.Len() != 0 {
		t.Errorf("Expected empty store, got %d sets", s.Len())
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := NewResultStore(nil)
	s.Put(newSet("base", 2))
	got, _ := s.Get("base")
	got.Results[0].Filename = "changed.jpg"
	got.Results = got.Results[:1]

	again, _ := s.Get("base")
	if len(again.Results) != 2 || again.Results[0].Filename != "img_0.jpg" {
		t.Errorf("Mutating a returned set changed the store: %v", filenames(again))
	}
}

func TestSetResults(t *testing.T) {
	s := NewResultStore(nil)
	s.Put(newSet("base", 0))
	if err := s.SetResults("base", newSet("x", 3).Results); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ := s.Get("base")
	if len(got.Results) != 3 {
		t.Errorf("Expected 3 results, got %d", len(got.Results))
	}
	if err := s.SetResults("ghost", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func finished(s *ResultStore, set models.ResultSet) {
	s.Put(set)
	_ = s.SetResults(set.ID, set.Results)
}

func TestResultStoreSweep(t *testing.T) {
	s := NewResultStore(nil)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	finished(s, newSet("old", 1))
	s.now = func() time.Time { return base.Add(48 * time.Hour) }
	finished(s, newSet("new", 1))

	if removed := s.Sweep(24 * time.Hour); removed != 1 {
		t.Errorf("Expected 1 set swept, got %d", removed)
	}
	if _, ok := s.Get("new"); !ok {
		t.Error("Expected recent set to survive sweep")
	}
}

func TestSweepDropsDependentsOfExpiredBase(t *testing.T) {
	s := NewResultStore(nil)
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return start }
	finished(s, newSet("base", 2))

	// enhanced pass finished much later than its base
	s.now = func() time.Time { return start.Add(47 * time.Hour) }
	enhanced := newSet("enh", 1)
	enhanced.Kind = models.KindEnhanced
	if err := s.PutDependent("base", 0, enhanced); err != nil {
		t.Fatalf("PutDependent: %v", err)
	}
	_ = s.SetResults("enh", enhanced.Results)

	s.now = func() time.Time { return start.Add(48 * time.Hour) }
	if removed := s.Sweep(24 * time.Hour); removed != 2 {
		t.Errorf("Expected base and enhanced set swept, got %d", removed)
	}
	if _, ok := s.Get("enh"); ok {
		t.Error("Expected enhanced set to go with its expired base")
	}
}

func TestSweepKeepsRunningSets(t *testing.T) {
	s := NewResultStore(nil)
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return start }
	s.Put(newSet("running", 0))
	finished(s, newSet("base", 1))
	enhanced := newSet("enh", 0)
	if err := s.PutDependent("base", 0, enhanced); err != nil {
		t.Fatalf("PutDependent: %v", err)
	}

	s.now = func() time.Time { return start.Add(48 * time.Hour) }
	if removed := s.Sweep(time.Hour); removed != 0 {
		t.Errorf("Expected nothing swept while jobs run, got %d", removed)
	}
	for _, id := range []string{"running", "base", "enh"} {
		if _, ok := s.Get(id); !ok {
			t.Errorf("Expected %s to survive sweep", id)
		}
	}

	if err := s.SetResults("running", newSet("x", 1).Results); err != nil {
		t.Fatalf("SetResults: %v", err)
	}
	if removed := s.Sweep(time.Hour); removed != 0 {
		t.Errorf("Expected a just finished set to survive, got %d removed", removed)
	}
}

func TestMarkFinished(t *testing.T) {
	s := NewResultStore(nil)
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return start }
	s.Put(newSet("crashed", 0))
	s.MarkFinished("crashed")
	s.MarkFinished("ghost")

	s.now = func() time.Time { return start.Add(2 * time.Hour) }
	s.MarkFinished("crashed")
	if got, _ := s.Get("crashed"); !got.FinishedAt.Equal(start) {
		t.Errorf("Expected the first finish time to stick, got %s", got.FinishedAt)
	}
	if removed := s.Sweep(time.Hour); removed != 1 {
		t.Errorf("Expected the finished set to be swept, got %d", removed)
	}
}

func TestPutDependent(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *ResultStore)
		wantErr error
	}{
		{name: "unchanged base", mutate: func(*ResultStore) {}},
		{name: "item deleted", mutate: func(s *ResultStore) { _, _ = s.DeleteItem("base", 0) }, wantErr: ErrParentChanged},
		{name: "base replaced", mutate: func(s *ResultStore) { s.Put(newSet("base", 1)) }, wantErr: ErrParentChanged},
		{name: "base removed", mutate: func(s *ResultStore) { s.Delete("base") }, wantErr: ErrParentChanged},
		{name: "rejected delete", mutate: func(s *ResultStore) { _, _ = s.DeleteItem("base", 9) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewResultStore(nil)
			finished(s, newSet("base", 2))
			read, _ := s.Get("base")
			tt.mutate(s)

			err := s.PutDependent("base", read.Revision, newSet("enh", 0))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Expected error %v, got %v", tt.wantErr, err)
			}
			_, ok := s.Get("enh")
			if ok != (tt.wantErr == nil) {
				t.Errorf("Expected enhanced set stored=%v, got %v", tt.wantErr == nil, ok)
			}
			if ok {
				got, _ := s.Get("enh")
				if got.ParentID != "base" {
					t.Errorf("Expected parent base, got %q", got.ParentID)
				}
			}
		})
	}
}

func TestPutDependentReplacesEarlierDependent(t *testing.T) {
	s := NewResultStore(nil)
	finished(s, newSet("base", 1))
	if err := s.PutDependent("base", 0, newSet("first", 0)); err != nil {
		t.Fatal(err)
	}
	if err := s.PutDependent("base", 0, newSet("second", 0)); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Get("first"); ok {
		t.Error("Expected earlier dependent to be replaced")
	}
	if deps := s.Dependents("base"); len(deps) != 1 || deps[0] != "second" {
		t.Errorf("Expected only second as dependent, got %v", deps)
	}
}

func TestSessionStore(t *testing.T) {
	s := NewSessionStore()
	s.Set(Session{ID: "sess", CreatedAt: time.Now()})

	updated, ok := s.Update("sess", func(sess *Session) {
		sess.ResultID = "res"
		sess.Settings.Subject = "Vehicle"
	})
	if !ok || updated.ResultID != "res" {
		t.Fatalf("Expected update to apply, got %+v", updated)
	}

	got, ok := s.Get("sess")
	if !ok || got.Settings.Subject != "Vehicle" {
		t.Errorf("Expected stored session to reflect update, got %+v", got)
	}

	if _, ok := s.Update("missing", func(*Session) {}); ok {
		t.Error("Expected update of missing session to fail")
	}

	s.Delete("sess")
	if _, ok := s.Get("sess"); ok {
		t.Error("Expected session to be deleted")
	}
}
