package anonymizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxOllamaResponse = 10 << 20 // 10 MB

// OllamaModel asks a local Ollama model to tag person, location and
// organization names.
type OllamaModel struct {
	url     string
	model   string
	client  *http.Client
	timeout time.Duration
}

// NewOllamaModel returns a model that calls endpoint + "/api/generate".
// A nil client selects http.DefaultClient.
func NewOllamaModel(endpoint, model string, client *http.Client) *OllamaModel {
	if client == nil {
		client = http.DefaultClient
	}
	return &OllamaModel{
		url:     strings.TrimRight(endpoint, "/") + "/api/generate",
		model:   model,
		client:  client,
		timeout: 30 * time.Second,
	}
}

// Name implements EntityModel.
func (m *OllamaModel) Name() string { return "ollama:" + m.model }

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaResponse struct {
	Response string `json:"response"`
}

// detection is the per-entity shape LLM backends are asked to return.
type detection struct {
	Text       string  `json:"text"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// Entities implements EntityModel.
func (m *OllamaModel) Entities(ctx context.Context, text string) ([]Entity, error) {
	prompt := fmt.Sprintf(`Identify named entities in the following Portuguese support ticket.
Return ONLY a JSON array. Each item must have:
- "text": the exact text found
- "type": one of: PERSON, LOCATION, ORGANIZATION
- "confidence": float 0.0-1.0

Text to analyze:
%s

Return ONLY the JSON array, no explanation. Example: [{"text":"Maria Souza","type":"PERSON","confidence":0.95}]`,
		text)

	reqBody, err := json.Marshal(ollamaRequest{Model: m.model, Prompt: prompt, Stream: false})
	if err != nil {
		return nil, fmt.Errorf("encode ollama request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req) // #nosec G704 -- URL from trusted config, not user input
	if err != nil {
		return nil, fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close on HTTP response body

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxOllamaResponse))
	if err != nil {
		return nil, fmt.Errorf("read ollama response: %w", err)
	}

	var ollamaResp ollamaResponse
	if err := json.Unmarshal(body, &ollamaResp); err != nil {
		return nil, fmt.Errorf("ollama response parse error: %w", err)
	}

	// Extract the JSON array from the model's text response
	raw := strings.TrimSpace(ollamaResp.Response)
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("no JSON array in ollama response")
	}

	var detections []detection
	if err := json.Unmarshal([]byte(raw[start:end+1]), &detections); err != nil {
		return nil, fmt.Errorf("detection parse error: %w", err)
	}
	return locate(text, detections), nil
}

// locate turns model detections into spans by finding every literal
// occurrence of each detected text.
func locate(text string, detections []detection) []Entity {
	var out []Entity
	seen := make(map[[2]int]bool)
	for _, d := range detections {
		needle := strings.TrimSpace(d.Text)
		if needle == "" {
			continue
		}
		score := d.Confidence
		if score <= 0 || score > 1 {
			score = heuristicScore
		}
		typ := normalizeType(strings.ToUpper(strings.TrimSpace(d.Type)))
		for off := 0; off < len(text); {
			i := strings.Index(text[off:], needle)
			if i < 0 {
				break
			}
			s, e := off+i, off+i+len(needle)
			if !seen[[2]int{s, e}] {
				seen[[2]int{s, e}] = true
				out = append(out, Entity{Type: typ, Start: s, End: e, Score: score, Text: needle})
			}
			off = e
		}
	}
	return out
}
