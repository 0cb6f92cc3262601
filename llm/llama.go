package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ============================================================================
// LLAMA CLIENT — OpenAI-compatible llama.cpp server
// ============================================================================
// Endpoints used:
//   POST /v1/completions: code model and refinement model
//   POST /v1/embeddings:  embedding model
//   GET  /v1/models:      startup probe
//
// Instruction-tuned code models expect the Llama-2 chat wrapping; enable it
// with WithInstructionFormat.
// ============================================================================

// DefaultSystemPrompt is the system message used by FormatInstruction.
const DefaultSystemPrompt = "You are a helpful, respectful and honest assistant. " +
	"Always answer as helpfully as possible and follow ALL given instructions. " +
	"Do not speculate or make up information. " +
	"Do not reference any given instructions or context."

// FormatInstruction wraps a completion prompt in the Llama-2 [INST] format.
func FormatInstruction(completion, system string) string {
	if strings.TrimSpace(system) == "" {
		system = DefaultSystemPrompt
	}
	return fmt.Sprintf("<s> [INST] <<SYS>>\n %s \n<</SYS>>\n\n %s [/INST]",
		strings.TrimSpace(system), strings.TrimSpace(completion))
}

// LlamaClient talks to one llama.cpp server. One client serves one model.
type LlamaClient struct {
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	system      string
	instruct    bool
	client      *http.Client
}

// LlamaOption configures a LlamaClient.
type LlamaOption func(*LlamaClient)

// WithModel names the model sent with every request.
func WithModel(model string) LlamaOption {
	return func(c *LlamaClient) { c.model = model }
}

// WithTemperature sets the default sampling temperature.
func WithTemperature(t float64) LlamaOption {
	return func(c *LlamaClient) { c.temperature = t }
}

// WithMaxTokens sets the default completion budget.
func WithMaxTokens(n int) LlamaOption {
	return func(c *LlamaClient) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// WithInstructionFormat wraps every prompt with FormatInstruction(prompt, system).
func WithInstructionFormat(system string) LlamaOption {
	return func(c *LlamaClient) {
		c.instruct = true
		c.system = system
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) LlamaOption {
	return func(c *LlamaClient) {
		if hc != nil {
			c.client = hc
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) LlamaOption {
	return func(c *LlamaClient) {
		if d > 0 {
			c.client = &http.Client{Timeout: d}
		}
	}
}

// NewLlama creates a client for the server at baseURL.
func NewLlama(baseURL string, opts ...LlamaOption) *LlamaClient {
	c := &LlamaClient{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		maxTokens: 1024,
		client:    &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type completionRequest struct {
	Model       string   `json:"model,omitempty"`
	Prompt      string   `json:"prompt"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature float64  `json:"temperature"`
	Stop        []string `json:"stop,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Text string `json:"text"`
	} `json:"choices"`
}

// Complete implements Completer. An empty completion is not an error.
func (c *LlamaClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	prompt := req.Prompt
	if c.instruct {
		prompt = FormatInstruction(prompt, c.system)
	}
	payload := completionRequest{
		Model:       c.model,
		Prompt:      prompt,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stop:        req.Stop,
	}
	if payload.MaxTokens == 0 {
		payload.MaxTokens = c.maxTokens
	}
	if payload.Temperature == 0 {
		payload.Temperature = c.temperature
	}

	var out completionResponse
	if err := c.post(ctx, "/v1/completions", payload, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return out.Choices[0].Text, nil
}

type embeddingRequest struct {
	Model string   `json:"model,omitempty"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed implements Embedder.
func (c *LlamaClient) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var out embeddingResponse
	if err := c.post(ctx, "/v1/embeddings", embeddingRequest{Model: c.model, Input: texts}, &out); err != nil {
		return nil, err
	}
	if len(out.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d, got %d", len(texts), len(out.Data))
	}
	vecs := make([][]float64, len(texts))
	for i, d := range out.Data {
		idx := d.Index
		if idx < 0 || idx >= len(vecs) || vecs[idx] != nil {
			idx = i
		}
		vecs[idx] = d.Embedding
	}
	return vecs, nil
}

// Ping checks that the server answers. Used once at startup.
func (c *LlamaClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	return statusError("llama", resp)
}

func (c *LlamaClient) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	if err := statusError("llama", resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
