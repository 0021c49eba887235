package anonymizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiConfig configures the Gemini entity model.
type GeminiConfig struct {
	APIKey string
	Model  string

	// BaseURL overrides the Gemini API base URL.
	BaseURL string
}

// GeminiModel tags named entities with a Gemini model constrained to a JSON
// response schema.
type GeminiModel struct {
	client *genai.Client
	model  string
}

// NewGeminiModel creates the genai client.
func NewGeminiModel(ctx context.Context, cfg GeminiConfig) (*GeminiModel, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("GEMINI_API_KEY is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("GEMINI_MODEL is required")
	}

	cc := &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		cc.HTTPOptions.BaseURL = strings.TrimSpace(cfg.BaseURL)
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiModel{client: client, model: strings.TrimSpace(cfg.Model)}, nil
}

// Name implements EntityModel.
func (m *GeminiModel) Name() string { return "gemini:" + m.model }

var entitySchema = &genai.Schema{
	Type: genai.TypeArray,
	Items: &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"text":       {Type: genai.TypeString},
			"type":       {Type: genai.TypeString, Enum: []string{EntityPerson, EntityLocation, EntityOrganization}},
			"confidence": {Type: genai.TypeNumber},
		},
		Required: []string{"text", "type", "confidence"},
	},
}

// Entities implements EntityModel.
func (m *GeminiModel) Entities(ctx context.Context, text string) ([]Entity, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	resp, err := m.client.Models.GenerateContent(
		ctx,
		m.model,
		genai.Text(buildEntityPrompt(text)),
		&genai.GenerateContentConfig{
			CandidateCount:   1,
			ResponseMIMEType: "application/json",
			ResponseSchema:   entitySchema,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}

	detections, err := parseDetections(resp.Text())
	if err != nil {
		return nil, err
	}
	return locate(text, detections), nil
}

func parseDetections(raw string) ([]detection, error) {
	var out []detection
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &out); err != nil {
		return nil, fmt.Errorf("gemini: parse structured json: %w", err)
	}
	return out, nil
}

func buildEntityPrompt(text string) string {
	return strings.TrimSpace(`
You are a named-entity tagger for Portuguese customer-support tickets.
List every person, location and organization name that appears in the text.

Rules:
- "text" must be copied exactly as it appears.
- Do not tag greetings, job titles, product names or system names.
- Return an empty array when nothing is found.

Text: ` + text + `
`)
}
