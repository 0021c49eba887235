package anonymizer

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"ticket-anonymizer/internal/logger"
	"ticket-anonymizer/internal/metrics"
)

// Options selects and configures the entity model and thresholds.
type Options struct {
	Backend          string // heuristic (default), ollama or gemini
	Language         string
	DefaultThreshold float64
	CallThreshold    float64

	OllamaEndpoint string
	OllamaModel    string
	GeminiAPIKey   string
	GeminiModel    string
	GeminiBaseURL  string

	// CachePath enables the persistent bbolt NER cache for remote backends.
	// Without it remote results are cached in memory.
	CachePath string
	// CacheCapacity bounds the cached entries; 0 means 10,000.
	CacheCapacity int
	HTTPClient    *http.Client

	Logger  *logger.Logger
	Metrics *metrics.Metrics
}

// Build loads the entity model, registers the default recognizers and
// returns a ready Anonymizer.
func Build(ctx context.Context, opts Options) (*Anonymizer, error) {
	log := opts.Logger
	if log == nil {
		log = logger.New("ANONYMIZER", "info")
	}
	lang := opts.Language
	if lang == "" {
		lang = "pt"
	}

	model, err := buildModel(ctx, opts, log)
	if err != nil {
		return nil, err
	}

	engine := NewEngine(model, lang, opts.DefaultThreshold, log)
	n := engine.Register(DefaultRecognizers)
	log.Infof("init", "model=%s language=%s recognizers=%d/%d", model.Name(), lang, n, len(DefaultRecognizers))

	return New(engine, opts.CallThreshold, log, opts.Metrics), nil
}

func buildModel(ctx context.Context, opts Options, log *logger.Logger) (EntityModel, error) {
	var remote EntityModel
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case "", "heuristic":
		return NewHeuristicModel(), nil
	case "ollama":
		if opts.OllamaEndpoint == "" || opts.OllamaModel == "" {
			return nil, fmt.Errorf("ollama backend needs an endpoint and a model")
		}
		remote = NewOllamaModel(opts.OllamaEndpoint, opts.OllamaModel, opts.HTTPClient)
	case "gemini":
		m, err := NewGeminiModel(ctx, GeminiConfig{
			APIKey:  opts.GeminiAPIKey,
			Model:   opts.GeminiModel,
			BaseURL: opts.GeminiBaseURL,
		})
		if err != nil {
			return nil, err
		}
		remote = m
	default:
		return nil, fmt.Errorf("unknown NER backend %q", opts.Backend)
	}

	capacity := opts.CacheCapacity
	if capacity <= 0 {
		capacity = maxMemoryEntries
	}
	if opts.CachePath != "" {
		disk, err := newBoltCache(opts.CachePath, log)
		if err != nil {
			return nil, err
		}
		return NewCachedModel(remote, newS3FIFOCache(disk, capacity, log)), nil
	}
	return NewCachedModel(remote, newMemoryCache(capacity)), nil
}
