// Package openai classifies candidate secrets with a chat completion model.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/riskscan/scan-worker/internal/detection"
	"github.com/sashabaranov/go-openai"
)

const (
	DefaultModel     = "gpt-4o-mini"
	maxTokens        = 1024
	maxContextLength = 200
)

const systemPrompt = `You classify strings found in public web assets (JavaScript bundles, HTML, JSON).
For every item decide whether "token" is a live credential (API key, access token, password, private key material)
rather than a hash, an identifier, a build artifact name, encoded media or other harmless data.
Answer with a JSON object {"verdicts": [bool, ...]} holding exactly one boolean per item, in the order given.`

type item struct {
	Index   int    `json:"i"`
	Token   string `json:"token"`
	Context string `json:"context"`
}

type answer struct {
	Verdicts []bool `json:"verdicts"`
}

type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Validator implements detection.Validator on top of the chat completion API.
type Validator struct {
	client chatCompleter
	model  string
}

var _ detection.Validator = (*Validator)(nil)

type Option func(*openai.ClientConfig)

// WithTimeout bounds every request to the completion API.
func WithTimeout(d time.Duration) Option {
	return func(cfg *openai.ClientConfig) {
		if d > 0 {
			cfg.HTTPClient = &http.Client{Timeout: d}
		}
	}
}

// NewValidator creates a validator. An empty baseURL uses the public API.
func NewValidator(apiKey, baseURL, model string, opts ...Option) *Validator {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if model == "" {
		model = DefaultModel
	}
	return &Validator{client: openai.NewClientWithConfig(cfg), model: model}
}

func (v *Validator) Validate(ctx context.Context, reqs []detection.Request) ([]bool, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	items := make([]item, 0, len(reqs))
	for i, r := range reqs {
		items = append(items, item{Index: i, Token: r.Token, Context: truncate(r.Context, maxContextLength)})
	}
	body, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}

	req := openai.ChatCompletionRequest{
		Model: v.model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: string(body)},
		},
		Temperature: 0,
	}
	if reasoningModel(v.model) {
		req.MaxCompletionTokens = maxTokens
	} else {
		req.MaxTokens = maxTokens
	}

	resp, err := v.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}

	var a answer
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &a); err != nil {
		return nil, fmt.Errorf("decoding verdicts: %w", err)
	}
	if len(a.Verdicts) != len(reqs) {
		return nil, fmt.Errorf("expected %d verdicts, got %d", len(reqs), len(a.Verdicts))
	}
	return a.Verdicts, nil
}

func reasoningModel(model string) bool {
	for _, p := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
