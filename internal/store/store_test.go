package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
)

// openAll returns one instance of every Store implementation so the
// contract tests below run against each of them.
func openAll(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	bolt, err := OpenBolt(filepath.Join(dir, "tickets.db"), Collections{})
	if err != nil {
		t.Fatalf("OpenBolt: %v", err)
	}
	sqlite, err := OpenSQLite(context.Background(), filepath.Join(dir, "tickets.sqlite"), Collections{})
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}

	stores := map[string]Store{
		"memory": NewMemoryStore(),
		"bbolt":  bolt,
		"sqlite": sqlite,
	}
	t.Cleanup(func() {
		for _, s := range stores {
			s.Close() //nolint:errcheck // test cleanup
		}
	})
	return stores
}

func TestStore_RawRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			if _, ok, err := s.Raw(ctx, "missing"); err != nil || ok {
				t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
			}

			in := RawRecord{ID: "CH-1", Message: "Bom dia, preciso de ajuda", Fields: map[string]any{"origem": "jira"}}
			if err := s.PutRaw(ctx, in); err != nil {
				t.Fatalf("PutRaw: %v", err)
			}
			got, ok, err := s.Raw(ctx, "CH-1")
			if err != nil || !ok {
				t.Fatalf("Raw: ok=%v err=%v", ok, err)
			}
			if got.Message != in.Message {
				t.Errorf("Message = %q, want %q", got.Message, in.Message)
			}
			if got.Fields["origem"] != "jira" {
				t.Errorf("Fields = %v", got.Fields)
			}
		})
	}
}

func TestStore_UpsertPreservesClassification(t *testing.T) {
	ctx := context.Background()
	for name, s := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.UpsertDescription(ctx, "CH-2", "msg v1", "desc v1"); err != nil {
				t.Fatalf("insert: %v", err)
			}
			if err := s.SetClassification(ctx, "CH-2", "neutro", "acesso"); err != nil {
				t.Fatalf("SetClassification: %v", err)
			}
			if err := s.UpsertDescription(ctx, "CH-2", "msg v2", "desc v2"); err != nil {
				t.Fatalf("overwrite: %v", err)
			}

			got, ok, err := s.Processed(ctx, "CH-2")
			if err != nil || !ok {
				t.Fatalf("Processed: ok=%v err=%v", ok, err)
			}
			if got.CleanMessage != "msg v2" || got.Description != "desc v2" {
				t.Errorf("processed fields not overwritten: %+v", got)
			}
			if got.Emotion != "neutro" || got.Category != "acesso" {
				t.Errorf("labels clobbered by upsert: %+v", got)
			}
			if !got.FullyProcessed() {
				t.Error("record with both labels should be fully processed")
			}
			if got.UpdatedAt.IsZero() {
				t.Error("UpdatedAt should be set")
			}
		})
	}
}

func TestStore_SetClassificationUnknown(t *testing.T) {
	ctx := context.Background()
	for name, s := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			err := s.SetClassification(ctx, "never-processed", "alegria", "duvida")
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestStore_ProcessedMany(t *testing.T) {
	ctx := context.Background()
	for name, s := range openAll(t) {
		t.Run(name, func(t *testing.T) {
			ids := make([]string, 0, 600)
			for i := range 600 {
				id := fmt.Sprintf("CH-%03d", i)
				ids = append(ids, id)
				if i%2 == 0 {
					if err := s.UpsertDescription(ctx, id, "m", "d"); err != nil {
						t.Fatalf("upsert %s: %v", id, err)
					}
				}
			}

			got, err := s.ProcessedMany(ctx, ids)
			if err != nil {
				t.Fatalf("ProcessedMany: %v", err)
			}
			if len(got) != 300 {
				t.Errorf("got %d records, want 300", len(got))
			}
			if _, ok := got["CH-001"]; ok {
				t.Error("odd ids were never processed")
			}

			empty, err := s.ProcessedMany(ctx, nil)
			if err != nil || len(empty) != 0 {
				t.Errorf("empty lookup: %v %v", empty, err)
			}
		})
	}
}

func TestFullyProcessed(t *testing.T) {
	cases := []struct {
		rec  ProcessedRecord
		want bool
	}{
		{ProcessedRecord{}, false},
		{ProcessedRecord{Emotion: "raiva"}, false},
		{ProcessedRecord{Category: "financeiro"}, false},
		{ProcessedRecord{Emotion: "raiva", Category: "financeiro"}, true},
	}
	for _, c := range cases {
		if got := c.rec.FullyProcessed(); got != c.want {
			t.Errorf("%+v.FullyProcessed() = %v, want %v", c.rec, got, c.want)
		}
	}
}

func TestOpen_Drivers(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	for _, driver := range []string{"memory", "bbolt", "sqlite"} {
		s, err := Open(ctx, driver, filepath.Join(dir, driver+".db"), DefaultCollections)
		if err != nil {
			t.Fatalf("Open(%s): %v", driver, err)
		}
		s.Close() //nolint:errcheck // test cleanup
	}

	if _, err := Open(ctx, "mongo", "", DefaultCollections); err == nil {
		t.Error("expected error for unknown driver")
	}
	if _, err := OpenSQLite(ctx, filepath.Join(dir, "x.db"), Collections{Source: "bad name;"}); err == nil {
		t.Error("expected error for invalid collection name")
	}
}
