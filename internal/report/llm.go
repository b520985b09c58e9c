package report

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/privaudit/internal/circuitbreaker"
	"github.com/privaudit/internal/config"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"

	anthropicVersion = "2023-06-01"
	maxTokens        = 1000
	systemPrompt     = "You are a financial analyst specializing in DAO treasury management. " +
		"Provide concise, actionable recommendations based on real treasury data."
)

// ErrEmptyCompletion is returned when a provider answers without any text
var ErrEmptyCompletion = errors.New("empty completion")

// Recommender produces free-text recommendations for a prompt
type Recommender interface {
	Name() string
	Recommend(ctx context.Context, prompt string) (string, error)
}

// ProviderFor picks the LLM provider. An explicit provider wins; otherwise
// Anthropic keys are recognised by their prefix.
func ProviderFor(provider, apiKey string) string {
	switch strings.ToLower(provider) {
	case ProviderOpenAI, ProviderAnthropic:
		return strings.ToLower(provider)
	}
	if strings.HasPrefix(apiKey, "sk-ant-") {
		return ProviderAnthropic
	}
	return ProviderOpenAI
}

// NewRecommender builds the configured LLM client wrapped in a circuit
// breaker from breakers. apiKey overrides cfg.APIKey when non-empty. It
// returns nil when no key is available.
//
// The server key has one breaker per provider; every caller supplied key
// gets its own, so a bad caller key never trips the server's breaker.
func NewRecommender(cfg config.AIConfig, apiKey string, breakers *circuitbreaker.Manager) Recommender {
	if apiKey == "" {
		apiKey = cfg.APIKey
	}
	if apiKey == "" {
		return nil
	}
	source := "server"
	if apiKey != cfg.APIKey {
		sum := sha256.Sum256([]byte(apiKey))
		source = "key-" + hex.EncodeToString(sum[:6])
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}
	var client Recommender
	switch ProviderFor(cfg.Provider, apiKey) {
	case ProviderAnthropic:
		client = &AnthropicClient{apiKey: apiKey, baseURL: cfg.AnthropicURL, model: cfg.AnthropicModel, httpClient: httpClient}
	default:
		client = &OpenAIClient{apiKey: apiKey, baseURL: cfg.OpenAIURL, model: cfg.OpenAIModel, httpClient: httpClient}
	}

	if breakers == nil {
		return client
	}
	name := "llm-" + client.Name() + "-" + source
	cb := breakers.GetOrCreate(name, circuitbreaker.DefaultConfig(name))
	return &breakerRecommender{inner: client, cb: cb}
}

type breakerRecommender struct {
	inner Recommender
	cb    *circuitbreaker.CircuitBreaker
}

func (b *breakerRecommender) Name() string { return b.inner.Name() }

func (b *breakerRecommender) Recommend(ctx context.Context, prompt string) (string, error) {
	var text string
	err := b.cb.Execute(ctx, func(ctx context.Context) error {
		var err error
		text, err = b.inner.Recommend(ctx, prompt)
		return err
	})
	return text, err
}

// OpenAIClient calls the chat completions API
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOpenAIClient creates an OpenAI client
func NewOpenAIClient(apiKey, baseURL, model string, timeout time.Duration) *OpenAIClient {
	return &OpenAIClient{apiKey: apiKey, baseURL: baseURL, model: model, httpClient: &http.Client{Timeout: timeout}}
}

func (c *OpenAIClient) Name() string { return ProviderOpenAI }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Recommend implements Recommender
func (c *OpenAIClient) Recommend(ctx context.Context, prompt string) (string, error) {
	body := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		Temperature: 0.7,
		MaxTokens:   maxTokens,
	}
	headers := map[string]string{"Authorization": "Bearer " + c.apiKey}

	var resp chatResponse
	if err := postJSON(ctx, c.httpClient, strings.TrimRight(c.baseURL, "/")+"/chat/completions", headers, body, &resp); err != nil {
		return "", fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("openai: %w", ErrEmptyCompletion)
	}
	return resp.Choices[0].Message.Content, nil
}

// AnthropicClient calls the messages API
type AnthropicClient struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewAnthropicClient creates an Anthropic client
func NewAnthropicClient(apiKey, baseURL, model string, timeout time.Duration) *AnthropicClient {
	return &AnthropicClient{apiKey: apiKey, baseURL: baseURL, model: model, httpClient: &http.Client{Timeout: timeout}}
}

func (c *AnthropicClient) Name() string { return ProviderAnthropic }

type messagesRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	Messages  []chatMessage `json:"messages"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Recommend implements Recommender
func (c *AnthropicClient) Recommend(ctx context.Context, prompt string) (string, error) {
	body := messagesRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages:  []chatMessage{{Role: "user", Content: prompt}},
	}
	headers := map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": anthropicVersion,
	}

	var resp messagesResponse
	if err := postJSON(ctx, c.httpClient, strings.TrimRight(c.baseURL, "/")+"/messages", headers, body, &resp); err != nil {
		return "", fmt.Errorf("anthropic: %w", err)
	}
	if len(resp.Content) == 0 || strings.TrimSpace(resp.Content[0].Text) == "" {
		return "", fmt.Errorf("anthropic: %w", ErrEmptyCompletion)
	}
	return resp.Content[0].Text, nil
}

func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, in, out interface{}) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := string(data)
		if len(msg) > 256 {
			msg = msg[:256] + "..."
		}
		return fmt.Errorf("HTTP error: %d - %s", resp.StatusCode, msg)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
