// Command pipeline is the ticket anonymization service.
//
// It exposes the management API, and for every submitted batch of ticket
// identifiers it normalizes, extracts, sanitizes and anonymizes each ticket
// description, stores the result and forwards it in batches to the external
// classifier.
//
// Outbound calls to the classifier honour HTTP_PROXY / HTTPS_PROXY /
// NO_PROXY from the environment.
//
// Usage:
//
//	# Defaults: bbolt store in tickets.db, API on 127.0.0.1:8000
//	./pipeline
//
//	# Load source records before serving
//	./pipeline -seed tickets.json
//
//	# Trigger a run
//	curl -X POST localhost:8000/api/v1/process -d '["101","102"]'
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ticket-anonymizer/internal/anonymizer"
	"ticket-anonymizer/internal/classifier"
	"ticket-anonymizer/internal/config"
	"ticket-anonymizer/internal/logger"
	"ticket-anonymizer/internal/management"
	"ticket-anonymizer/internal/metrics"
	"ticket-anonymizer/internal/pipeline"
	"ticket-anonymizer/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	seedPath := flag.String("seed", "", "JSON file with source records to load before serving")
	flag.Parse()

	cfg := config.Load()
	printBanner(cfg)

	log := logger.New("MAIN", cfg.LogLevel)
	ctx := context.Background()

	st, err := store.Open(ctx, cfg.StoreDriver, cfg.StorePath, store.Collections{
		Source:    cfg.SourceCollection,
		Processed: cfg.ProcessedCollection,
	})
	if err != nil {
		log.Fatalf("store", "open %s store: %v", cfg.StoreDriver, err)
	}

	if *seedPath != "" {
		n, err := loadSeed(ctx, st, *seedPath)
		if err != nil {
			log.Fatalf("seed", "%v", err)
		}
		log.Infof("seed", "loaded %d records from %s", n, *seedPath)
	}

	m := metrics.New()
	provider := anonymizer.NewProvider(func(ctx context.Context) (*anonymizer.Anonymizer, error) {
		return anonymizer.Build(ctx, anonymizerOptions(cfg, log, m))
	})
	// The service is useless without redaction, so initialization is eager.
	anon, err := provider.Get(ctx)
	if err != nil {
		log.Fatalf("anonymizer", "%v", err)
	}

	cls := classifier.New(classifier.Options{
		URL:     cfg.ClassifierURL,
		APIKey:  cfg.ClassifierAPIKey,
		Timeout: time.Duration(cfg.ClassifierTimeoutSeconds) * time.Second,
		RPS:     cfg.ClassifierRPS,
	})

	orch := pipeline.NewOrchestrator(st, anon, cls, pipeline.Options{
		BatchSize:          cfg.BatchSize,
		AnonymizerFailOpen: cfg.AnonymizerFailOpen,
	}, log.Module("ORCHESTRATOR"), m)
	runner := pipeline.NewRunner(orch, cfg.RunHistory, log.Module("RUNNER"))

	api := management.New(cfg, runner, st, m, log.Module("API"))
	errc := make(chan error, 1)
	go func() { errc <- api.ListenAndServe() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		log.Infof("shutdown", "received %s", s)
	case err := <-errc:
		if err != nil {
			log.Errorf("api", "%v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := api.Shutdown(shutdownCtx); err != nil {
		log.Warnf("shutdown", "api: %v", err)
	}
	if err := runner.Wait(shutdownCtx); err != nil {
		log.Warnf("shutdown", "runs still in flight: %v", err)
	}
	if err := anon.Close(); err != nil {
		log.Warnf("shutdown", "anonymizer: %v", err)
	}
	if err := st.Close(); err != nil {
		log.Warnf("shutdown", "store: %v", err)
	}
	log.Info("shutdown", "stopped")
}

func anonymizerOptions(cfg *config.Config, log *logger.Logger, m *metrics.Metrics) anonymizer.Options {
	return anonymizer.Options{
		Backend:          cfg.NERBackend,
		Language:         cfg.NERLanguage,
		DefaultThreshold: cfg.DefaultScoreThreshold,
		CallThreshold:    cfg.CallScoreThreshold,
		OllamaEndpoint:   cfg.OllamaEndpoint,
		OllamaModel:      cfg.OllamaModel,
		GeminiAPIKey:     cfg.GeminiAPIKey,
		GeminiModel:      cfg.GeminiModel,
		CachePath:        cfg.NERCachePath,
		CacheCapacity:    cfg.NERCacheCapacity,
		Logger:           log.Module("ANONYMIZER"),
		Metrics:          m,
	}
}

// loadSeed inserts the records of a JSON array file into the source
// collection.
func loadSeed(ctx context.Context, st store.Store, path string) (int, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied seed path
	if err != nil {
		return 0, fmt.Errorf("read seed file: %w", err)
	}
	var recs []store.RawRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		return 0, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	for i, rec := range recs {
		if rec.ID == "" {
			return i, fmt.Errorf("seed record %d has no chamadoId", i)
		}
		if err := st.PutRaw(ctx, rec); err != nil {
			return i, fmt.Errorf("seed record %s: %w", rec.ID, err)
		}
	}
	return len(recs), nil
}

func printBanner(cfg *config.Config) {
	upstreamProxy := os.Getenv("HTTPS_PROXY")
	if upstreamProxy == "" {
		upstreamProxy = os.Getenv("HTTP_PROXY")
	}
	if upstreamProxy == "" {
		upstreamProxy = "(direct)"
	}
	auth := "disabled"
	if cfg.APIToken != "" {
		auth = "bearer token"
	}

	fmt.Printf(`
╔══════════════════════════════════════════════════════╗
║          Ticket Anonymization Pipeline  (Go)         ║
╚══════════════════════════════════════════════════════╝
  API address     : %s:%d
  API auth        : %s
  Store           : %s (%s)
  NER backend     : %s
  Classifier      : %s
  Batch size      : %d
  Upstream proxy  : %s

  Trigger a run:
    curl -X POST http://localhost:%d/api/v1/process -d '["<id>"]'
`, cfg.BindAddress, cfg.APIPort, auth,
		cfg.StoreDriver, cfg.StorePath,
		cfg.NERBackend,
		cfg.ClassifierURL,
		cfg.BatchSize,
		upstreamProxy,
		cfg.APIPort)
}
