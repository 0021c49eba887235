// Package store is the document store for ticket interactions.
//
// Two logical collections are kept, both keyed by ticket identifier:
//   - the source collection holds raw interactions written by ingestion and
//     is read-only for the pipeline;
//   - the processed collection holds the cleaned message and anonymized
//     description written by the pipeline, plus the classification labels
//     written later by the downstream consumer.
//
// Three implementations are provided:
//   - MemoryStore — in-memory maps, used in tests and for dry runs.
//   - BoltStore   — embedded bbolt database, one bucket per collection (default).
//   - SQLStore    — SQLite via modernc.org/sqlite, one table per collection.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a write targets a record that does not exist.
var ErrNotFound = errors.New("record not found")

// RawRecord is a source interaction. The pipeline never mutates it.
type RawRecord struct {
	ID      string         `json:"chamadoId"`
	Message string         `json:"mensagem"`
	Fields  map[string]any `json:"campos,omitempty"`
}

// ProcessedRecord is the pipeline output for one ticket.
type ProcessedRecord struct {
	ID           string    `json:"chamadoId"`
	CleanMessage string    `json:"mensagem_limpa"`
	Description  string    `json:"descricao_dataset"`
	Emotion      string    `json:"emocao,omitempty"`
	Category     string    `json:"categoria,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// FullyProcessed reports whether the downstream consumer has set both
// classification labels. Such records are never processed again.
func (r ProcessedRecord) FullyProcessed() bool {
	return r.Emotion != "" && r.Category != ""
}

// Store is the document store used by the pipeline and the API.
// All implementations must be safe for concurrent use.
type Store interface {
	// Raw returns the source record for id; ok is false when absent.
	Raw(ctx context.Context, id string) (rec RawRecord, ok bool, err error)

	// PutRaw inserts or replaces a source record. Used by seeding.
	PutRaw(ctx context.Context, rec RawRecord) error

	// Processed returns the processed record for id; ok is false when absent.
	Processed(ctx context.Context, id string) (rec ProcessedRecord, ok bool, err error)

	// ProcessedMany returns the processed records whose id is in ids.
	// Missing ids are simply absent from the map.
	ProcessedMany(ctx context.Context, ids []string) (map[string]ProcessedRecord, error)

	// UpsertDescription writes the cleaned message and description for id,
	// inserting the record if absent. Classification labels are preserved.
	UpsertDescription(ctx context.Context, id, cleanMessage, description string) error

	// SetClassification records the downstream labels for an existing
	// processed record. Returns ErrNotFound if id was never processed.
	SetClassification(ctx context.Context, id, emotion, category string) error

	// Close releases any resources held by the store.
	Close() error
}

// Collections names the two logical collections.
type Collections struct {
	Source    string
	Processed string
}

// DefaultCollections mirrors the production collection names.
var DefaultCollections = Collections{Source: "interacoes", Processed: "interacoes_processadas"}

func (c Collections) withDefaults() Collections {
	if c.Source == "" {
		c.Source = DefaultCollections.Source
	}
	if c.Processed == "" {
		c.Processed = DefaultCollections.Processed
	}
	return c
}

// now is replaceable in tests.
var now = func() time.Time { return time.Now().UTC() }
