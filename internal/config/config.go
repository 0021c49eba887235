// Package config loads and holds all pipeline configuration.
// Settings start from built-in defaults, are overridden by an optional
// pipeline-config.json or pipeline-config.yaml (or the file named by
// PIPELINE_CONFIG), and finally by environment variables.
package config

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const configPathEnv = "PIPELINE_CONFIG"

// Config holds the full pipeline configuration.
type Config struct {
	APIPort     int    `json:"apiPort" yaml:"apiPort"`
	BindAddress string `json:"bindAddress" yaml:"bindAddress"`
	APIToken    string `json:"apiToken" yaml:"apiToken"`
	LogLevel    string `json:"logLevel" yaml:"logLevel"`

	// Document store. Driver is one of bbolt, sqlite, memory.
	StoreDriver         string `json:"storeDriver" yaml:"storeDriver"`
	StorePath           string `json:"storePath" yaml:"storePath"`
	SourceCollection    string `json:"sourceCollection" yaml:"sourceCollection"`
	ProcessedCollection string `json:"processedCollection" yaml:"processedCollection"`

	// External classifier.
	ClassifierURL            string  `json:"classifierUrl" yaml:"classifierUrl"`
	ClassifierAPIKey         string  `json:"classifierApiKey" yaml:"classifierApiKey"`
	ClassifierTimeoutSeconds int     `json:"classifierTimeoutSeconds" yaml:"classifierTimeoutSeconds"`
	ClassifierRPS            float64 `json:"classifierRps" yaml:"classifierRps"`
	BatchSize                int     `json:"batchSize" yaml:"batchSize"`
	RunHistory               int     `json:"runHistory" yaml:"runHistory"`

	// Entity recognition. Backend is one of heuristic, ollama, gemini.
	NERBackend            string  `json:"nerBackend" yaml:"nerBackend"`
	NERLanguage           string  `json:"nerLanguage" yaml:"nerLanguage"`
	NERCachePath          string  `json:"nerCachePath" yaml:"nerCachePath"`
	NERCacheCapacity      int     `json:"nerCacheCapacity" yaml:"nerCacheCapacity"`
	OllamaEndpoint        string  `json:"ollamaEndpoint" yaml:"ollamaEndpoint"`
	OllamaModel           string  `json:"ollamaModel" yaml:"ollamaModel"`
	GeminiAPIKey          string  `json:"geminiApiKey" yaml:"geminiApiKey"`
	GeminiModel           string  `json:"geminiModel" yaml:"geminiModel"`
	DefaultScoreThreshold float64 `json:"defaultScoreThreshold" yaml:"defaultScoreThreshold"`
	CallScoreThreshold    float64 `json:"callScoreThreshold" yaml:"callScoreThreshold"`

	// AnonymizerFailOpen keeps the unredacted description when the
	// anonymizer fails. When false the description is blanked instead.
	AnonymizerFailOpen bool `json:"anonymizerFailOpen" yaml:"anonymizerFailOpen"`
}

// Load returns config with defaults overridden by the config files and env vars.
func Load() *Config {
	cfg := defaults()
	if path := os.Getenv(configPathEnv); path != "" {
		loadFile(cfg, path)
	} else {
		loadFile(cfg, "pipeline-config.json")
		loadFile(cfg, "pipeline-config.yaml")
	}
	loadEnv(cfg)
	return cfg
}

func defaults() *Config {
	return &Config{
		APIPort:                  8000,
		BindAddress:              "127.0.0.1",
		LogLevel:                 "info",
		StoreDriver:              "bbolt",
		StorePath:                "tickets.db",
		SourceCollection:         "interacoes",
		ProcessedCollection:      "interacoes_processadas",
		ClassifierURL:            "http://localhost:8001/analisar",
		ClassifierTimeoutSeconds: 30,
		BatchSize:                10,
		RunHistory:               100,
		NERBackend:               "heuristic",
		NERLanguage:              "pt",
		NERCacheCapacity:         10_000,
		OllamaEndpoint:           "http://localhost:11434",
		OllamaModel:              "qwen2.5:3b",
		GeminiModel:              "gemini-2.5-flash",
		DefaultScoreThreshold:    0.7,
		CallScoreThreshold:       0.8,
		AnonymizerFailOpen:       true,
	}
}

// loadFile decodes path into cfg. YAML is used for .yaml/.yml files and
// JSON otherwise. A missing file is not an error.
func loadFile(cfg *Config, path string) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return // file is optional
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		log.Printf("[CONFIG] Warning: could not parse %s: %v", path, err)
		return
	}
	log.Printf("[CONFIG] Loaded %s", path)
}

func loadEnv(cfg *Config) {
	envInt("API_PORT", &cfg.APIPort)
	envString("BIND_ADDRESS", &cfg.BindAddress)
	envString("API_TOKEN", &cfg.APIToken)
	envString("LOG_LEVEL", &cfg.LogLevel)

	envString("STORE_DRIVER", &cfg.StoreDriver)
	envString("STORE_PATH", &cfg.StorePath)
	envString("SOURCE_COLLECTION", &cfg.SourceCollection)
	envString("PROCESSED_COLLECTION", &cfg.ProcessedCollection)

	envString("CLASSIFIER_URL", &cfg.ClassifierURL)
	envString("CLASSIFIER_API_KEY", &cfg.ClassifierAPIKey)
	envInt("CLASSIFIER_TIMEOUT_SECONDS", &cfg.ClassifierTimeoutSeconds)
	envFloat("CLASSIFIER_RPS", &cfg.ClassifierRPS)
	envInt("BATCH_SIZE", &cfg.BatchSize)
	envInt("RUN_HISTORY", &cfg.RunHistory)

	envString("NER_BACKEND", &cfg.NERBackend)
	envString("NER_LANGUAGE", &cfg.NERLanguage)
	envString("NER_CACHE_PATH", &cfg.NERCachePath)
	envInt("NER_CACHE_CAPACITY", &cfg.NERCacheCapacity)
	envString("OLLAMA_ENDPOINT", &cfg.OllamaEndpoint)
	envString("OLLAMA_MODEL", &cfg.OllamaModel)
	envString("GEMINI_API_KEY", &cfg.GeminiAPIKey)
	envString("GEMINI_MODEL", &cfg.GeminiModel)
	envFloat("DEFAULT_SCORE_THRESHOLD", &cfg.DefaultScoreThreshold)
	envFloat("CALL_SCORE_THRESHOLD", &cfg.CallScoreThreshold)

	if v := os.Getenv("ANONYMIZER_FAIL_OPEN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.AnonymizerFailOpen = b
		}
	}
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
