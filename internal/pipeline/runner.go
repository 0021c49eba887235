package pipeline

import (
	"context"
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"ticket-anonymizer/internal/logger"
)

// DefaultHistory is how many run reports a Runner keeps.
const DefaultHistory = 100

// Runner executes orchestration runs in the background and keeps a bounded
// history of their reports.
type Runner struct {
	orch  *Orchestrator
	log   *logger.Logger
	limit int

	mu      sync.Mutex
	reports map[string]*RunReport
	order   []string

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy

	wg sync.WaitGroup
}

// NewRunner returns a Runner keeping at most history reports.
func NewRunner(orch *Orchestrator, history int, log *logger.Logger) *Runner {
	if history <= 0 {
		history = DefaultHistory
	}
	return &Runner{
		orch:    orch,
		log:     log,
		limit:   history,
		reports: make(map[string]*RunReport),
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// Submit schedules a run over ids and returns its identifier immediately.
// The run is not tied to any caller context and always runs to completion.
func (r *Runner) Submit(ids []string) (string, error) {
	if len(ids) == 0 {
		return "", ErrEmptyRun
	}
	id := r.newID()
	ids = append([]string(nil), ids...)

	r.store(&RunReport{ID: id, Status: StatusRunning, Requested: len(ids), StartedAt: time.Now()})
	r.log.Infof("run_submit", "run=%s ids=%d", id, len(ids))

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		rep := r.orch.Run(context.Background(), ids)
		rep.ID = id
		r.update(&rep)
	}()
	return id, nil
}

// Report returns a copy of the report for run id.
func (r *Runner) Report(id string) (RunReport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rep, ok := r.reports[id]
	if !ok {
		return RunReport{}, false
	}
	return *rep, true
}

// Wait blocks until every submitted run has finished or ctx is done.
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// update replaces a report still held in the history.
func (r *Runner) update(rep *RunReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.reports[rep.ID]; ok {
		r.reports[rep.ID] = rep
	}
}

func (r *Runner) newID() string {
	r.entropyMu.Lock()
	defer r.entropyMu.Unlock()
	return ulid.MustNew(ulid.Now(), r.entropy).String()
}

// store adds rep, evicting the oldest reports beyond the limit.
func (r *Runner) store(rep *RunReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, rep.ID)
	r.reports[rep.ID] = rep
	for len(r.order) > r.limit {
		delete(r.reports, r.order[0])
		r.order = r.order[1:]
	}
}
