// Package metrics provides lock-minimal counters for the ticket pipeline.
//
// Counters use sync/atomic so the per-record path incurs no mutex
// contention. Latency statistics use one mutex per dimension and are updated
// at most once per anonymization call or classifier round-trip.
package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// knownEntityTypes lists every placeholder type the anonymizer can emit.
// Used to pre-populate the per-type map in New() so Snapshot() can iterate
// a fixed set without racing on map writes.
var knownEntityTypes = []string{
	"CPF", "EMAIL", "TELEFONE", "PERSON", "LOCATION", "ORGANIZATION",
}

// Metrics holds all runtime counters for a running pipeline.
// The zero value is usable but does not count entities per type; use New().
type Metrics struct {
	// Run counters
	RunsStarted   atomic.Int64
	RunsCompleted atomic.Int64

	// Per-record outcomes
	RecordsProcessed atomic.Int64
	RecordsSkipped   atomic.Int64 // already fully processed
	RecordsMissing   atomic.Int64 // no source record
	RecordsFailed    atomic.Int64
	RecordsRejected  atomic.Int64 // sanitizer returned an empty description

	// Forwarding
	BatchesForwarded atomic.Int64
	BatchesFailed    atomic.Int64
	ItemsForwarded   atomic.Int64
	ItemsDropped     atomic.Int64

	// Anonymization
	AnonymizeErrors atomic.Int64
	NameRedactions  atomic.Int64 // replacements made by the manual person pass

	// Written only in New(); concurrent reads are safe without a lock.
	entities map[string]*atomic.Int64

	anonMu   sync.Mutex
	anonStat latencyStats

	classifierMu   sync.Mutex
	classifierStat latencyStats

	startTime time.Time
}

// New returns a new Metrics with the start time recorded and the per-type
// entity map pre-populated.
func New() *Metrics {
	m := &Metrics{
		startTime: time.Now(),
		entities:  make(map[string]*atomic.Int64, len(knownEntityTypes)),
	}
	for _, t := range knownEntityTypes {
		m.entities[t] = new(atomic.Int64)
	}
	return m
}

// RecordEntity counts one redacted span of the given entity type.
// Unknown types are silently ignored.
func (m *Metrics) RecordEntity(entityType string) {
	if m == nil {
		return
	}
	if c, ok := m.entities[entityType]; ok {
		c.Add(1)
	}
}

// RecordAnonLatency records the duration of one anonymization call.
func (m *Metrics) RecordAnonLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.anonMu.Lock()
	m.anonStat.record(float64(d.Microseconds()) / 1000.0)
	m.anonMu.Unlock()
}

// RecordClassifierLatency records one round-trip to the external classifier.
func (m *Metrics) RecordClassifierLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.classifierMu.Lock()
	m.classifierStat.record(float64(d.Microseconds()) / 1000.0)
	m.classifierMu.Unlock()
}

// Snapshot returns a point-in-time copy of all metrics, safe for JSON encoding.
func (m *Metrics) Snapshot() Snapshot {
	m.anonMu.Lock()
	anon := m.anonStat.snapshot()
	m.anonMu.Unlock()

	m.classifierMu.Lock()
	classifier := m.classifierStat.snapshot()
	m.classifierMu.Unlock()

	entities := make(map[string]int64, len(m.entities))
	for t, c := range m.entities {
		if n := c.Load(); n > 0 {
			entities[t] = n
		}
	}

	var uptime float64
	if !m.startTime.IsZero() {
		uptime = time.Since(m.startTime).Seconds()
	}

	return Snapshot{
		Runs: RunSnapshot{
			Started:   m.RunsStarted.Load(),
			Completed: m.RunsCompleted.Load(),
		},
		Records: RecordSnapshot{
			Processed: m.RecordsProcessed.Load(),
			Skipped:   m.RecordsSkipped.Load(),
			Missing:   m.RecordsMissing.Load(),
			Failed:    m.RecordsFailed.Load(),
			Rejected:  m.RecordsRejected.Load(),
		},
		Forwarding: ForwardSnapshot{
			Batches:       m.BatchesForwarded.Load(),
			FailedBatches: m.BatchesFailed.Load(),
			Items:         m.ItemsForwarded.Load(),
			DroppedItems:  m.ItemsDropped.Load(),
		},
		Anonymization: AnonSnapshot{
			Entities:       entities,
			NameRedactions: m.NameRedactions.Load(),
			Errors:         m.AnonymizeErrors.Load(),
		},
		Latency: LatencyGroup{
			AnonymizationMs: anon,
			ClassifierMs:    classifier,
		},
		UptimeSecs: uptime,
	}
}

// --- JSON-serialisable snapshot types ---

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Runs          RunSnapshot     `json:"runs"`
	Records       RecordSnapshot  `json:"records"`
	Forwarding    ForwardSnapshot `json:"forwarding"`
	Anonymization AnonSnapshot    `json:"anonymization"`
	Latency       LatencyGroup    `json:"latency"`
	UptimeSecs    float64         `json:"uptimeSecs"`
}

// RunSnapshot holds orchestration run counters.
type RunSnapshot struct {
	Started   int64 `json:"started"`
	Completed int64 `json:"completed"`
}

// RecordSnapshot holds per-record outcome counters.
type RecordSnapshot struct {
	Processed int64 `json:"processed"`
	Skipped   int64 `json:"skipped"`
	Missing   int64 `json:"missing"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
}

// ForwardSnapshot holds classifier delivery counters.
type ForwardSnapshot struct {
	Batches       int64 `json:"batches"`
	FailedBatches int64 `json:"failedBatches"`
	Items         int64 `json:"items"`
	DroppedItems  int64 `json:"droppedItems"`
}

// AnonSnapshot holds redaction counters.
type AnonSnapshot struct {
	// Per-type redactions (only types with non-zero counts appear).
	Entities       map[string]int64 `json:"entities,omitempty"`
	NameRedactions int64            `json:"nameRedactions"`
	Errors         int64            `json:"errors"`
}

// LatencyGroup groups the two latency dimensions.
type LatencyGroup struct {
	AnonymizationMs LatencySnapshot `json:"anonymizationMs"`
	ClassifierMs    LatencySnapshot `json:"classifierMs"`
}

// LatencySnapshot is a min/mean/max summary for one latency dimension.
type LatencySnapshot struct {
	Count  int64   `json:"count"`
	MinMs  float64 `json:"minMs"`
	MeanMs float64 `json:"meanMs"`
	MaxMs  float64 `json:"maxMs"`
}

// --- internal accumulator ---

type latencyStats struct {
	count int64
	sum   float64
	min   float64
	max   float64
}

func (s *latencyStats) record(ms float64) {
	s.count++
	s.sum += ms
	if s.count == 1 || ms < s.min {
		s.min = ms
	}
	if ms > s.max {
		s.max = ms
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func (s *latencyStats) snapshot() LatencySnapshot {
	if s.count == 0 {
		return LatencySnapshot{}
	}
	return LatencySnapshot{
		Count:  s.count,
		MinMs:  round2(s.min),
		MeanMs: round2(s.sum / float64(s.count)),
		MaxMs:  round2(s.max),
	}
}
