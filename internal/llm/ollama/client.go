// Package ollama adapts a local Ollama server to the completion and embedding
// contracts.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"

	"github.com/JakeFAU/scholarship-crawler/internal/llm"
	"github.com/JakeFAU/scholarship-crawler/internal/scholarship"
)

// Defaults applied by New.
const (
	DefaultBaseURL    = "http://localhost:11434"
	DefaultChatModel  = "llama3.2"
	DefaultEmbedModel = "nomic-embed-text"
)

// Config selects the server and models. Ollama embeds passages and queries
// with the same model unless QueryModel is set.
type Config struct {
	BaseURL      string
	ChatModel    string
	PassageModel string
	QueryModel   string
	Timeout      time.Duration
	EmbedTimeout time.Duration
}

// Client implements scholarship.Completer and scholarship.Embedder.
type Client struct {
	api    *api.Client
	cfg    Config
	logger *zap.Logger
}

var (
	_ scholarship.Completer = (*Client)(nil)
	_ scholarship.Embedder  = (*Client)(nil)
)

// New parses the base URL and fills defaults.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse ollama url: %w", err)
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = DefaultChatModel
	}
	if cfg.PassageModel == "" {
		cfg.PassageModel = DefaultEmbedModel
	}
	if cfg.QueryModel == "" {
		cfg.QueryModel = cfg.PassageModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		api:    api.NewClient(base, &http.Client{}),
		cfg:    cfg,
		logger: logger.Named("ollama"),
	}, nil
}

// Complete runs a non-streaming chat with deterministic sampling.
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	messages := make([]api.Message, 0, 2)
	if system != "" {
		messages = append(messages, api.Message{Role: "system", Content: system})
	}
	messages = append(messages, api.Message{Role: "user", Content: prompt})
	stream := false
	req := &api.ChatRequest{
		Model:    c.cfg.ChatModel,
		Messages: messages,
		Stream:   &stream,
		Options:  map[string]any{"temperature": 0.0},
	}

	var out strings.Builder
	err := c.api.Chat(ctx, req, func(resp api.ChatResponse) error {
		out.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	if strings.TrimSpace(out.String()) == "" {
		return "", fmt.Errorf("ollama chat: %w", llm.ErrEmptyResponse)
	}
	return out.String(), nil
}

// EmbedDocuments embeds passages in one request.
func (c *Client) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return c.embed(ctx, c.cfg.PassageModel, texts)
}

// EmbedQuery embeds a search query.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.embed(ctx, c.cfg.QueryModel, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (c *Client) embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.EmbedTimeout)
	defer cancel()

	resp, err := c.api.Embed(ctx, &api.EmbedRequest{Model: model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if err := llm.CheckEmbeddings(len(texts), resp.Embeddings); err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	c.logger.Debug("embedded", zap.String("model", model), zap.Int("count", len(texts)))
	return resp.Embeddings, nil
}
