package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ravituringworks/generic-ai-agent-sub002/internal/config"
	"github.com/ravituringworks/generic-ai-agent-sub002/internal/logger"
	"github.com/ravituringworks/generic-ai-agent-sub002/pkg/types"
)

// OllamaClient talks to a local Ollama server over its chat and embedding
// HTTP APIs.
type OllamaClient struct {
	baseURL        string
	textModel      string
	embeddingModel string
	maxTokens      int
	temperature    float64
	httpClient     *http.Client
}

// NewOllamaClient builds a client from LLM configuration.
func NewOllamaClient(cfg config.LLMConfig) *OllamaClient {
	timeout := cfg.Timeout.Std()
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OllamaClient{
		baseURL:        strings.TrimRight(cfg.OllamaURL, "/"),
		textModel:      cfg.TextModel,
		embeddingModel: cfg.EmbeddingModel,
		maxTokens:      cfg.MaxTokens,
		temperature:    cfg.Temperature,
		httpClient:     &http.Client{Timeout: timeout},
	}
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Message ollamaChatMessage `json:"message"`
	Done    bool              `json:"done"`
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Generate sends the conversation to the chat endpoint and returns the
// assistant reply.
func (c *OllamaClient) Generate(ctx context.Context, messages []types.Message) (string, error) {
	chatMessages := make([]ollamaChatMessage, 0, len(messages))
	for _, m := range messages {
		chatMessages = append(chatMessages, ollamaChatMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	req := ollamaChatRequest{
		Model:    c.textModel,
		Messages: chatMessages,
		Stream:   false,
		Options: map[string]any{
			"num_predict": c.maxTokens,
			"temperature": c.temperature,
		},
	}

	var resp ollamaChatResponse
	if err := c.post(ctx, "/api/chat", req, &resp); err != nil {
		return "", err
	}
	return resp.Message.Content, nil
}

// Embed returns the embedding vector for text.
func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float64, error) {
	req := ollamaEmbedRequest{
		Model:  c.embeddingModel,
		Prompt: text,
	}

	var resp ollamaEmbedResponse
	if err := c.post(ctx, "/api/embeddings", req, &resp); err != nil {
		return nil, err
	}
	return resp.Embedding, nil
}

func (c *OllamaClient) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &ProviderError{Provider: "ollama", Operation: path, Message: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return &ProviderError{Provider: "ollama", Operation: path, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ProviderError{
			Provider:  "ollama",
			Operation: path,
			Message:   err.Error(),
			Transient: isNetworkError(err),
		}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ProviderError{Provider: "ollama", Operation: path, Message: err.Error(), Transient: true}
	}

	if resp.StatusCode != http.StatusOK {
		logger.Logger.Warn().
			Int("status", resp.StatusCode).
			Str("path", path).
			Msg("Ollama request failed")
		return &ProviderError{
			Provider:  "ollama",
			Operation: path,
			Message:   fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(data))),
			Transient: resp.StatusCode >= 500,
		}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &ProviderError{Provider: "ollama", Operation: path, Message: err.Error()}
	}
	return nil
}

func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return strings.Contains(err.Error(), "connection refused")
}
