// Package pipeline drives ticket records through normalization, extraction,
// sanitization and anonymization, persists the results and forwards them in
// batches to the classifier.
//
// A run is a single sequential pass over its identifiers: persistence writes
// and batch composition follow input order. A failing record is logged and
// skipped; a failing batch is reported in the RunReport and dropped.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ticket-anonymizer/internal/classifier"
	"ticket-anonymizer/internal/cleaning"
	"ticket-anonymizer/internal/logger"
	"ticket-anonymizer/internal/metrics"
	"ticket-anonymizer/internal/store"
)

// Redactor removes PII from a description.
type Redactor interface {
	Redact(ctx context.Context, text string) (string, error)
}

// Forwarder delivers a batch to the classifier.
type Forwarder interface {
	Forward(ctx context.Context, items []classifier.Item) classifier.Delivery
}

// Options configures an Orchestrator.
type Options struct {
	BatchSize int
	// AnonymizerFailOpen keeps the sanitized text when redaction fails.
	// When false the description is emptied instead.
	AnonymizerFailOpen bool
	// OnDescribed, when set, is called after a record's description has been
	// recomputed and stored.
	OnDescribed func(id, description string)
}

// Orchestrator runs the per-record pipeline.
type Orchestrator struct {
	store    store.Store
	redactor Redactor
	fwd      Forwarder
	opts     Options
	log      *logger.Logger
	metrics  *metrics.Metrics
}

// NewOrchestrator wires the pipeline. m may be nil.
func NewOrchestrator(s store.Store, r Redactor, f Forwarder, opts Options, log *logger.Logger, m *metrics.Metrics) *Orchestrator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if m == nil {
		m = metrics.New()
	}
	return &Orchestrator{store: s, redactor: r, fwd: f, opts: opts, log: log, metrics: m}
}

// RecordFailure names a record that could not be processed.
type RecordFailure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// RunReport summarizes one run.
type RunReport struct {
	ID         string          `json:"runId"`
	Status     string          `json:"status"`
	Requested  int             `json:"requested"`
	Processed  int             `json:"processed"`
	Skipped    int             `json:"skipped"`
	Missing    int             `json:"missing"`
	Rejected   int             `json:"rejected"`
	Failed     []RecordFailure `json:"failed,omitempty"`
	Batches    []BatchOutcome  `json:"batches,omitempty"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt time.Time       `json:"finishedAt,omitzero"`
}

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
)

type recordOutcome int

const (
	outcomeProcessed recordOutcome = iota
	outcomeSkipped
	outcomeMissing
	outcomeFailed
)

// Run processes ids in order and returns the run summary. It does not stop
// early on record or delivery failures.
func (o *Orchestrator) Run(ctx context.Context, ids []string) RunReport {
	rep := RunReport{Status: StatusRunning, Requested: len(ids), StartedAt: time.Now()}
	o.metrics.RunsStarted.Add(1)
	o.log.Infof("run_start", "%d identifiers", len(ids))

	existing, err := o.store.ProcessedMany(ctx, ids)
	if err != nil {
		o.log.Warnf("prefetch_failed", "reading every record individually: %v", err)
		existing = nil
	}

	b := newBatch(o.opts.BatchSize)
	for _, id := range ids {
		item, outcome, err := o.processRecord(ctx, id, existing)
		switch outcome {
		case outcomeMissing:
			rep.Missing++
			o.metrics.RecordsMissing.Add(1)
			o.log.Warnf("record_missing", "id=%s not found in source collection", id)
			continue
		case outcomeSkipped:
			rep.Skipped++
			o.metrics.RecordsSkipped.Add(1)
			o.log.Debugf("record_skip", "id=%s already classified", id)
			continue
		case outcomeFailed:
			rep.Failed = append(rep.Failed, RecordFailure{ID: id, Error: err.Error()})
			o.metrics.RecordsFailed.Add(1)
			o.log.Errorf("record_failed", "id=%s: %v", id, err)
			continue
		}

		rep.Processed++
		o.metrics.RecordsProcessed.Add(1)
		if item.Description == "" {
			rep.Rejected++
			o.metrics.RecordsRejected.Add(1)
		}
		if b.add(item) {
			o.flush(ctx, &rep, b.drain())
		}
	}
	if b.len() > 0 {
		o.flush(ctx, &rep, b.drain())
	}

	rep.Status = StatusCompleted
	rep.FinishedAt = time.Now()
	o.metrics.RunsCompleted.Add(1)
	o.log.Infof("run_done", "processed=%d skipped=%d missing=%d failed=%d batches=%d",
		rep.Processed, rep.Skipped, rep.Missing, len(rep.Failed), len(rep.Batches))
	return rep
}

// processRecord runs steps 1–4 for one identifier. Panics are converted into
// a failed outcome.
func (o *Orchestrator) processRecord(ctx context.Context, id string, existing map[string]store.ProcessedRecord) (item classifier.Item, outcome recordOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome, err = outcomeFailed, fmt.Errorf("panic: %v", r)
		}
	}()

	raw, ok, err := o.store.Raw(ctx, id)
	if err != nil {
		return item, outcomeFailed, fmt.Errorf("fetch raw: %w", err)
	}
	if !ok {
		return item, outcomeMissing, nil
	}

	// Labels are only ever added, so a fully processed prefetched record is
	// still fully processed. Anything else is re-read: the consumer may have
	// labelled it since the run started.
	if existing[id].FullyProcessed() {
		return item, outcomeSkipped, nil
	}
	prev, _, err := o.store.Processed(ctx, id)
	if err != nil {
		return item, outcomeFailed, fmt.Errorf("fetch processed: %w", err)
	}
	if prev.FullyProcessed() {
		return item, outcomeSkipped, nil
	}

	clean, desc := o.describe(ctx, id, raw.Message)
	if err := o.store.UpsertDescription(ctx, id, clean, desc); err != nil {
		return item, outcomeFailed, fmt.Errorf("upsert: %w", err)
	}
	if o.opts.OnDescribed != nil {
		o.opts.OnDescribed(id, desc)
	}
	return classifier.Item{ID: id, Description: desc}, outcomeProcessed, nil
}

// describe runs the four text stages, applying each stage's fallback:
// normalization and anonymization fail open (configurable for the latter),
// extraction degrades to truncation, sanitization fails closed.
func (o *Orchestrator) describe(ctx context.Context, id, message string) (clean, desc string) {
	norm := cleaning.NormalizeResult(message)
	clean = norm.Text
	if norm.Err != nil {
		o.log.Warnf("normalize_failed", "id=%s: %v", id, norm.Err)
		clean = message
	}

	ext := cleaning.ExtractResult(clean)
	desc = ext.Text
	if ext.Err != nil {
		o.log.Warnf("extract_failed", "id=%s: %v", id, ext.Err)
		desc = cleaning.Truncate(clean)
	}

	san := cleaning.SanitizeResult(desc)
	desc = san.Text
	if san.Err != nil {
		o.log.Warnf("sanitize_failed", "id=%s: %v", id, san.Err)
		desc = ""
	}
	if desc == "" {
		return clean, ""
	}

	redacted, err := o.redactor.Redact(ctx, desc)
	if err == nil {
		return clean, redacted
	}
	o.log.Errorf("anonymize_failed", "id=%s text=%q: %v", id, logger.Preview(desc, 50), err)
	if o.opts.AnonymizerFailOpen {
		return clean, desc
	}
	return clean, ""
}

// flush forwards items and records the outcome. Failed batches are dropped.
func (o *Orchestrator) flush(ctx context.Context, rep *RunReport, items []classifier.Item) {
	d := o.fwd.Forward(ctx, items)
	o.metrics.RecordClassifierLatency(d.Duration)

	out := outcomeOf(len(rep.Batches), d)
	rep.Batches = append(rep.Batches, out)

	if !d.OK() {
		o.metrics.BatchesFailed.Add(1)
		o.metrics.ItemsDropped.Add(int64(len(items)))
		o.log.Errorf("batch_dropped", "batch=%d size=%d: %v", out.Index, out.Size, d.Err)
		return
	}
	o.metrics.BatchesForwarded.Add(1)
	o.metrics.ItemsForwarded.Add(int64(len(items)))
	o.log.Infof("batch_sent", "batch=%d size=%d status=%d", out.Index, out.Size, d.Status)
}

// ErrEmptyRun is returned when a run is requested without identifiers.
var ErrEmptyRun = errors.New("no identifiers to process")
