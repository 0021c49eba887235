package anonymizer

import (
	"context"
	"fmt"

	"ticket-anonymizer/internal/logger"
)

// DefaultThreshold is the engine-wide minimum score for a detection.
const DefaultThreshold = 0.7

// Engine combines a statistical EntityModel with a registry of pattern
// recognizers and resolves their detections into one non-overlapping set.
type Engine struct {
	model       EntityModel
	language    string
	threshold   float64
	recognizers []*PatternRecognizer
	log         *logger.Logger
}

// AnalyzeOptions are per-call overrides.
type AnalyzeOptions struct {
	// Threshold replaces the engine default when > 0.
	Threshold float64
	// Context words boost pattern matches in addition to each recognizer's
	// own context list.
	Context []string
	// Preserve lists exact span texts that are never reported. They are
	// dropped before overlaps are resolved so they cannot shadow a
	// neighbouring detection.
	Preserve map[string]bool
}

// NewEngine returns an engine with no pattern recognizers registered.
func NewEngine(model EntityModel, language string, threshold float64, log *logger.Logger) *Engine {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Engine{model: model, language: language, threshold: threshold, log: log}
}

// AddRecognizer compiles and registers one recognizer.
func (e *Engine) AddRecognizer(spec RecognizerSpec) error {
	r, err := NewPatternRecognizer(spec.Entity, e.language, spec.Patterns, spec.Context)
	if err != nil {
		return err
	}
	e.recognizers = append(e.recognizers, r)
	return nil
}

// Register adds every spec, logging and skipping the ones that fail.
// It returns the number registered.
func (e *Engine) Register(specs []RecognizerSpec) int {
	n := 0
	for _, spec := range specs {
		if err := e.AddRecognizer(spec); err != nil {
			e.log.Warnf("recognizer_skip", "could not add recognizer %s: %v", spec.Entity, err)
			continue
		}
		n++
	}
	return n
}

// Recognizers returns the entity types of the registered recognizers.
func (e *Engine) Recognizers() []string {
	out := make([]string, len(e.recognizers))
	for i, r := range e.recognizers {
		out[i] = r.Entity
	}
	return out
}

// Model returns the statistical base recognizer.
func (e *Engine) Model() EntityModel { return e.model }

// Analyze runs the model and every pattern recognizer over text, drops
// detections below the threshold and resolves overlaps.
func (e *Engine) Analyze(ctx context.Context, text string, opts AnalyzeOptions) ([]Entity, error) {
	threshold := e.threshold
	if opts.Threshold > 0 {
		threshold = opts.Threshold
	}

	var found []Entity
	if e.model != nil {
		ents, err := e.model.Entities(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.model.Name(), err)
		}
		found = append(found, ents...)
	}
	for _, r := range e.recognizers {
		found = append(found, r.Analyze(text, opts.Context)...)
	}

	kept := found[:0]
	for _, ent := range found {
		if ent.Score < threshold || ent.Start >= ent.End || ent.End > len(text) {
			continue
		}
		if opts.Preserve[text[ent.Start:ent.End]] {
			continue
		}
		kept = append(kept, ent)
	}
	return resolveOverlaps(kept), nil
}
