package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"ticket-anonymizer/internal/store"
)

func TestRunner_SubmitAndReport(t *testing.T) {
	s := store.NewMemoryStore()
	ids := seed(t, s, 3)
	fwd := &recordingForwarder{}
	r := NewRunner(NewOrchestrator(s, identity, fwd, Options{}, quietLogger(), nil), 10, quietLogger())

	id, err := r.Submit(ids)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(id) != 26 {
		t.Errorf("run id %q is not a ULID", id)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	rep, ok := r.Report(id)
	if !ok {
		t.Fatal("report missing")
	}
	if rep.ID != id || rep.Status != StatusCompleted || rep.Processed != 3 {
		t.Errorf("report = %+v", rep)
	}
	if _, ok := r.Report("unknown"); ok {
		t.Error("unknown run should not be found")
	}
}

func TestRunner_RejectsEmptyRun(t *testing.T) {
	r := NewRunner(NewOrchestrator(store.NewMemoryStore(), identity, &recordingForwarder{}, Options{}, quietLogger(), nil), 0, quietLogger())
	if _, err := r.Submit(nil); !errors.Is(err, ErrEmptyRun) {
		t.Errorf("expected ErrEmptyRun, got %v", err)
	}
}

func TestRunner_HistoryBounded(t *testing.T) {
	s := store.NewMemoryStore()
	ids := seed(t, s, 1)
	r := NewRunner(NewOrchestrator(s, identity, &recordingForwarder{}, Options{}, quietLogger(), nil), 2, quietLogger())

	var runIDs []string
	for range 3 {
		id, err := r.Submit(ids)
		if err != nil {
			t.Fatal(err)
		}
		runIDs = append(runIDs, id)
	}
	if err := r.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	if _, ok := r.Report(runIDs[0]); ok {
		t.Error("oldest run should have been evicted")
	}
	for _, id := range runIDs[1:] {
		if _, ok := r.Report(id); !ok {
			t.Errorf("run %s missing", id)
		}
	}
	if !(runIDs[0] < runIDs[1] && runIDs[1] < runIDs[2]) {
		t.Errorf("run ids not monotonic: %v", runIDs)
	}
}

func TestRunner_SubmitCopiesIDs(t *testing.T) {
	s := store.NewMemoryStore()
	ids := seed(t, s, 2)
	fwd := &recordingForwarder{}
	r := NewRunner(NewOrchestrator(s, identity, fwd, Options{}, quietLogger(), nil), 0, quietLogger())

	input := append([]string(nil), ids...)
	if _, err := r.Submit(input); err != nil {
		t.Fatal(err)
	}
	input[0] = "mutated"
	if err := r.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(fwd.batches) != 1 || fwd.batches[0][0].ID != ids[0] {
		t.Errorf("forwarded = %+v", fwd.batches)
	}
}
