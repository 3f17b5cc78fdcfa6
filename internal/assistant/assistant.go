// Package assistant asks a local language model for advice on records and
// batch failures. Its output is free text for the operator; it never feeds
// back into validation or triggers grid writes.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/JonMunkholm/gridfill/internal/config"
	"github.com/JonMunkholm/gridfill/internal/core"
)

// ErrAssistantDisabled is returned by the disabled advisor.
var ErrAssistantDisabled = errors.New("assistant disabled")

// Response is one piece of advice.
type Response struct {
	Content  string        `json:"content"`
	Model    string        `json:"model"`
	Duration time.Duration `json:"duration_ns"`
}

// Advisor produces advisory text.
type Advisor interface {
	// Analyze reviews records for format problems and conflicts.
	Analyze(ctx context.Context, records []core.TestData) (Response, error)
	// Suggest proposes fixes for an error log from a failed run.
	Suggest(ctx context.Context, errorLog string) (Response, error)
	// Chat answers a free-form question, optionally with context.
	Chat(ctx context.Context, message, background string) (Response, error)
}

// New returns the Ollama advisor when enabled, or an advisor that always
// fails with ErrAssistantDisabled.
func New(cfg config.AssistantConfig) Advisor {
	if !cfg.Enabled {
		return Disabled{}
	}
	return NewOllamaAdvisor(cfg.URL, cfg.Model, cfg.Timeout)
}

// Disabled is the advisor used when no model is configured.
type Disabled struct{}

func (Disabled) Analyze(context.Context, []core.TestData) (Response, error) {
	return Response{}, ErrAssistantDisabled
}

func (Disabled) Suggest(context.Context, string) (Response, error) {
	return Response{}, ErrAssistantDisabled
}

func (Disabled) Chat(context.Context, string, string) (Response, error) {
	return Response{}, ErrAssistantDisabled
}

// OllamaAdvisor talks to an Ollama server's generate API.
type OllamaAdvisor struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllamaAdvisor creates an advisor. Empty values fall back to a local
// server and llama3.1.
func NewOllamaAdvisor(baseURL, model string, timeout time.Duration) *OllamaAdvisor {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3.1"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OllamaAdvisor{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

const analyzePrompt = `Review the following production test configuration records for correctness and completeness.

Records:
%s

Check:
1. Part number format
2. Whether the station assignment is reasonable
3. Whether the version string follows the V<a.b.c.d>_<e.f.g.h>E<x.y> convention
4. Whether the description is clear
5. Possible conflicts or near-duplicates between records

Report the problems you find and suggest corrections.`

const suggestPrompt = `The following errors came from automated data entry into a web grid.

Errors:
%s

Explain the likely root cause, possible fixes, and how to prevent them in later runs.`

// Analyze serializes records as JSON and asks for a review.
func (a *OllamaAdvisor) Analyze(ctx context.Context, records []core.TestData) (Response, error) {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return Response{}, fmt.Errorf("marshaling records: %w", err)
	}
	return a.generate(ctx, fmt.Sprintf(analyzePrompt, data))
}

func (a *OllamaAdvisor) Suggest(ctx context.Context, errorLog string) (Response, error) {
	return a.generate(ctx, fmt.Sprintf(suggestPrompt, errorLog))
}

func (a *OllamaAdvisor) Chat(ctx context.Context, message, background string) (Response, error) {
	prompt := message
	if strings.TrimSpace(background) != "" {
		prompt = fmt.Sprintf("Context:\n%s\n\nQuestion:\n%s", background, message)
	}
	return a.generate(ctx, prompt)
}

func (a *OllamaAdvisor) generate(ctx context.Context, prompt string) (Response, error) {
	start := time.Now()

	body, err := json.Marshal(generateRequest{Model: a.model, Prompt: prompt})
	if err != nil {
		return Response{}, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("assistant request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("assistant request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("assistant request: server returned status %d", resp.StatusCode)
	}

	var gen generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gen); err != nil {
		return Response{}, fmt.Errorf("assistant request: decoding response: %w", err)
	}

	model := gen.Model
	if model == "" {
		model = a.model
	}
	return Response{Content: gen.Response, Model: model, Duration: time.Since(start)}, nil
}
