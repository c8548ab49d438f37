package model

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

const (
	DefaultOllamaURL   = "http://127.0.0.1:11434"
	DefaultOllamaModel = "qwen2.5:7b"
)

// Ollama calls the /api/generate endpoint of an Ollama server.
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllama returns a Generator for the given server and model.
// A zero timeout leaves deadlines to the caller's context.
func NewOllama(baseURL, model string, timeout time.Duration) *Ollama {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	if model == "" {
		model = DefaultOllamaModel
	}
	return &Ollama{
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
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

func (o *Ollama) Generate(ctx context.Context, prompt string) (string, error) {
	const op = "ollama generate"

	body, err := json.Marshal(generateRequest{Model: o.model, Prompt: prompt})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", classify(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &Error{Op: op, Kind: ErrUnavailable, Err: fmt.Errorf("status %s: %s", resp.Status, strings.TrimSpace(string(msg)))}
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", classify(op, fmt.Errorf("decode response: %w", err))
	}
	if out.Error != "" {
		return "", &Error{Op: op, Kind: ErrUnavailable, Err: fmt.Errorf("%s", out.Error)}
	}

	return strings.TrimSpace(out.Response), nil
}
