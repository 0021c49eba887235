// Package classifier forwards batches of anonymized ticket descriptions to
// the external emotion/category classification service.
//
// Delivery is best-effort: a failed request is reported once through
// Delivery.Err and never retried. Items of a failed delivery carry the
// SentinelLabel so downstream consumers can tell them apart.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// SentinelLabel replaces the emotion label of every item in a failed
// delivery.
const SentinelLabel = "erro_na_analise"

const (
	defaultTimeout  = 30 * time.Second
	maxResponseBody = 4 << 20 // 4 MB
)

// Item is one ticket sent for classification.
type Item struct {
	ID          string `json:"chamadoId"`
	Description string `json:"descricao"`
	Emotion     string `json:"emocao,omitempty"`
}

type payload struct {
	Items []Item `json:"chamados"`
}

// Delivery is the outcome of one Forward call.
type Delivery struct {
	Items    []Item        // sent items, with emotion labels when known
	Status   int           // HTTP status, 0 when no response was received
	Duration time.Duration // round-trip time
	Err      error
}

// OK reports whether the batch was accepted.
func (d Delivery) OK() bool { return d.Err == nil }

// Options configures a Client.
type Options struct {
	URL     string
	APIKey  string // sent as a bearer token when set
	Timeout time.Duration
	// RPS limits requests per second; 0 disables the limit.
	RPS       float64
	Transport http.RoundTripper
}

// Client posts batches to the classifier endpoint.
type Client struct {
	url     string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
}

// New creates a Client. Without an explicit transport, requests honour
// HTTP_PROXY / HTTPS_PROXY / NO_PROXY.
func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := opts.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			ForceAttemptHTTP2:   true,
		}
	}

	c := &Client{
		url:    opts.URL,
		apiKey: opts.APIKey,
		http:   &http.Client{Timeout: timeout, Transport: transport},
	}
	if opts.RPS > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RPS), 1)
	}
	return c
}

// Forward sends items in one request. It never returns an error directly;
// failures are carried by the returned Delivery.
func (c *Client) Forward(ctx context.Context, items []Item) Delivery {
	start := time.Now()
	d := Delivery{Items: make([]Item, len(items))}
	copy(d.Items, items)

	status, labels, err := c.post(ctx, items)
	d.Status = status
	d.Duration = time.Since(start)
	if err != nil {
		d.Err = err
		for i := range d.Items {
			d.Items[i].Emotion = SentinelLabel
		}
		return d
	}
	for i := range d.Items {
		if l, ok := labels[d.Items[i].ID]; ok {
			d.Items[i].Emotion = l
		}
	}
	return d
}

func (c *Client) post(ctx context.Context, items []Item) (int, map[string]string, error) {
	if c.url == "" {
		return 0, nil, fmt.Errorf("classifier URL not configured")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	body, err := json.Marshal(payload{Items: items})
	if err != nil {
		return 0, nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req) // #nosec G704 -- URL from trusted config, not user input
	if err != nil {
		return 0, nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close on HTTP response body

	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, parseLabels(raw), nil
}

// parseLabels extracts per-item emotion labels from a response body. The
// classifier may answer with an empty or unrelated body; that is not an
// error.
func parseLabels(raw []byte) map[string]string {
	var p payload
	if len(bytes.TrimSpace(raw)) == 0 || json.Unmarshal(raw, &p) != nil {
		return nil
	}
	labels := make(map[string]string, len(p.Items))
	for _, it := range p.Items {
		if it.ID != "" && it.Emotion != "" {
			labels[it.ID] = it.Emotion
		}
	}
	return labels
}
