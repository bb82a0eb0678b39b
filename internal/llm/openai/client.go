// Package openai talks to OpenAI-compatible chat completion and embedding
// endpoints. The default base URL and models target Upstage Solar.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scholarship-crawler/internal/llm"
	"github.com/JakeFAU/scholarship-crawler/internal/scholarship"
)

// Defaults applied by New.
const (
	DefaultBaseURL      = "https://api.upstage.ai/v1"
	DefaultChatModel    = "solar-pro"
	DefaultPassageModel = "solar-embedding-1-large-passage"
	DefaultQueryModel   = "solar-embedding-1-large-query"
	DefaultTimeout      = 120 * time.Second
	DefaultEmbedTimeout = 60 * time.Second
)

// Config holds the endpoint, credentials and model names.
type Config struct {
	BaseURL      string
	APIKey       string
	ChatModel    string
	PassageModel string
	QueryModel   string
	Timeout      time.Duration
	EmbedTimeout time.Duration
}

// Client implements scholarship.Completer and scholarship.Embedder.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

var (
	_ scholarship.Completer = (*Client)(nil)
	_ scholarship.Embedder  = (*Client)(nil)
)

// New validates cfg and fills defaults.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.ChatModel == "" {
		cfg.ChatModel = DefaultChatModel
	}
	if cfg.PassageModel == "" {
		cfg.PassageModel = DefaultPassageModel
	}
	if cfg.QueryModel == "" {
		cfg.QueryModel = DefaultQueryModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = DefaultEmbedTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, http: &http.Client{}, logger: logger.Named("openai")}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingData struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

type embeddingResponse struct {
	Data  []embeddingData `json:"data"`
	Error *apiError       `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Complete sends one system and one user message and returns the first choice.
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	messages := make([]chatMessage, 0, 2)
	if system != "" {
		messages = append(messages, chatMessage{Role: "system", Content: system})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	var resp chatResponse
	req := chatRequest{Model: c.cfg.ChatModel, Messages: messages}
	if err := c.post(ctx, "/chat/completions", c.cfg.Timeout, req, &resp); err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("chat completion: %s", resp.Error.Message)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("chat completion: %w", llm.ErrEmptyResponse)
	}
	return resp.Choices[0].Message.Content, nil
}

// EmbedDocuments embeds passages with the passage model.
func (c *Client) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return c.embed(ctx, c.cfg.PassageModel, texts)
}

// EmbedQuery embeds a search query with the query model.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.embed(ctx, c.cfg.QueryModel, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (c *Client) embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	var resp embeddingResponse
	if err := c.post(ctx, "/embeddings", c.cfg.EmbedTimeout, embeddingRequest{Model: model, Input: texts}, &resp); err != nil {
		return nil, fmt.Errorf("embeddings: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("embeddings: %s", resp.Error.Message)
	}
	slices.SortStableFunc(resp.Data, func(a, b embeddingData) int { return a.Index - b.Index })
	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vectors[i] = d.Embedding
	}
	if err := llm.CheckEmbeddings(len(texts), vectors); err != nil {
		return nil, fmt.Errorf("embeddings: %w", err)
	}
	return vectors, nil
}

func (c *Client) post(ctx context.Context, path string, timeout time.Duration, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // body fully read below
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	c.logger.Debug("llm request",
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(data), 256))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
