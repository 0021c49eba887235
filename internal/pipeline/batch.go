package pipeline

import "ticket-anonymizer/internal/classifier"

// DefaultBatchSize is the number of items forwarded per classifier call.
const DefaultBatchSize = 10

// batch accumulates items in input order until it is full.
type batch struct {
	size  int
	items []classifier.Item
}

func newBatch(size int) *batch {
	if size <= 0 {
		size = DefaultBatchSize
	}
	return &batch{size: size, items: make([]classifier.Item, 0, size)}
}

// add appends an item and reports whether the batch is now full.
func (b *batch) add(item classifier.Item) bool {
	b.items = append(b.items, item)
	return len(b.items) >= b.size
}

// drain returns the pending items and empties the batch.
func (b *batch) drain() []classifier.Item {
	out := b.items
	b.items = make([]classifier.Item, 0, b.size)
	return out
}

func (b *batch) len() int { return len(b.items) }

// BatchOutcome records one forwarding attempt. A failed batch is dropped,
// not retried.
type BatchOutcome struct {
	Index      int               `json:"index"`
	Size       int               `json:"size"`
	IDs        []string          `json:"ids"`
	Delivered  bool              `json:"delivered"`
	Status     int               `json:"status,omitempty"`
	Error      string            `json:"error,omitempty"`
	DurationMs float64           `json:"durationMs"`
	Labels     map[string]string `json:"labels,omitempty"`
}

func outcomeOf(index int, d classifier.Delivery) BatchOutcome {
	o := BatchOutcome{
		Index:      index,
		Size:       len(d.Items),
		IDs:        make([]string, len(d.Items)),
		Delivered:  d.OK(),
		Status:     d.Status,
		DurationMs: float64(d.Duration.Microseconds()) / 1000.0,
	}
	for i, it := range d.Items {
		o.IDs[i] = it.ID
		if it.Emotion != "" {
			if o.Labels == nil {
				o.Labels = make(map[string]string, len(d.Items))
			}
			o.Labels[it.ID] = it.Emotion
		}
	}
	if d.Err != nil {
		o.Error = d.Err.Error()
	}
	return o
}
