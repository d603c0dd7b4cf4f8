// Package capability implements the provider port against an
// OpenAI-compatible HTTP API: embeddings plus structured chat completions
// for extraction, classification, sentiment, and pattern proposals.
package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/longregen/engram/internal/adapters/circuitbreaker"
	"github.com/longregen/engram/internal/adapters/retry"
	"github.com/longregen/engram/internal/domain"
	"github.com/longregen/engram/internal/domain/models"
	"github.com/longregen/engram/internal/ports"
)

const (
	embedTimeout = 30 * time.Second
	chatTimeout  = 60 * time.Second
)

// Config wires an OpenAI-compatible endpoint.
type Config struct {
	BaseURL    string
	APIKey     string
	EmbedModel string
	ChatModel  string
	Dimensions int
}

type Client struct {
	baseURL     string
	apiKey      string
	embedModel  string
	chatModel   string
	dimensions  int
	httpClient  *http.Client
	retryConfig retry.Config
	breaker     *circuitbreaker.CircuitBreaker
}

func NewClient(cfg Config) *Client {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	baseURL = strings.TrimSuffix(baseURL, "/v1")

	return &Client{
		baseURL:     baseURL,
		apiKey:      cfg.APIKey,
		embedModel:  cfg.EmbedModel,
		chatModel:   cfg.ChatModel,
		dimensions:  cfg.Dimensions,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		retryConfig: retry.CapabilityConfig(),
		breaker:     circuitbreaker.New(5, 30*time.Second),
	}
}

type embeddingRequest struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
}

func (c *Client) Embed(ctx context.Context, text string) (*ports.EmbeddingResult, error) {
	var result *ports.EmbeddingResult
	err := c.breaker.Execute(func() error {
		ctx, cancel := context.WithTimeout(ctx, embedTimeout)
		defer cancel()

		body, err := json.Marshal(embeddingRequest{Input: text, Model: c.embedModel})
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}

		respBody, err := c.post(ctx, "/v1/embeddings", body)
		if err != nil {
			return err
		}

		var parsed embeddingResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return domain.NewCapabilityError(domain.ErrMalformedResponse, "embeddings decode")
		}
		if len(parsed.Data) == 0 {
			return domain.NewCapabilityError(domain.ErrEmbeddingsFailed, "empty embeddings response")
		}

		embedding := parsed.Data[0].Embedding
		if c.dimensions > 0 && len(embedding) != c.dimensions {
			return domain.NewCapabilityError(domain.ErrEmbeddingsFailed,
				fmt.Sprintf("expected %d dimensions, got %d", c.dimensions, len(embedding)))
		}
		result = &ports.EmbeddingResult{
			Embedding:  embedding,
			Model:      parsed.Model,
			Dimensions: len(embedding),
		}
		return nil
	})
	return result, err
}

func (c *Client) GetDimensions() int {
	return c.dimensions
}

const extractPrompt = `Extract durable facts about the user from the message.
Respond with a JSON array, no prose. Each element:
{"key": "...", "value": "...", "type": "person|place|technology|decision|preference|constraint|goal|other", "importance": 0.0-1.0}
Return [] when the message carries no durable facts.`

func (c *Client) ExtractEntities(ctx context.Context, text string) ([]models.ExtractedEntity, error) {
	raw, err := c.chat(ctx, extractPrompt, text, 512)
	if err != nil {
		return nil, err
	}

	var entities []models.ExtractedEntity
	if err := json.Unmarshal([]byte(stripFences(raw)), &entities); err != nil {
		log.Printf("[Capability] entity extraction returned non-JSON: %q", truncate(raw, 200))
		return nil, domain.NewCapabilityError(domain.ErrMalformedResponse, "entity extraction")
	}
	return entities, nil
}

const classifyPrompt = `Classify the user's query intent. Respond with exactly one word from:
continuation, fact_retrieval, deep_recall, complex, procedural_trigger`

func (c *Client) ClassifyQuery(ctx context.Context, text string) (string, error) {
	raw, err := c.chat(ctx, classifyPrompt, text, 8)
	if err != nil {
		return "", err
	}
	label := strings.ToLower(strings.TrimSpace(stripFences(raw)))
	switch label {
	case "continuation", "fact_retrieval", "deep_recall", "complex", "procedural_trigger":
		return label, nil
	}
	return "", domain.NewCapabilityError(domain.ErrMalformedResponse, "classify label "+truncate(label, 40))
}

func (c *Client) Complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	return c.chat(ctx, "", prompt, maxTokens)
}

func (c *Client) AnswerWithContext(ctx context.Context, query string, memCtx *models.MemoryContext) (string, error) {
	var b strings.Builder
	if memCtx != nil && !memCtx.IsEmpty() {
		b.WriteString(memCtx.Render())
	}
	b.WriteString("User: ")
	b.WriteString(query)
	return c.chat(ctx, "Answer using the provided memory context when relevant.", b.String(), 1024)
}

const sentimentPrompt = `Rate the sentiment of the message.
Respond with JSON only: {"score": -1.0 to 1.0, "label": "negative|neutral|positive"}`

func (c *Client) AnalyzeSentiment(ctx context.Context, text string) (*ports.SentimentResult, error) {
	raw, err := c.chat(ctx, sentimentPrompt, text, 64)
	if err != nil {
		return nil, err
	}

	var result ports.SentimentResult
	if err := json.Unmarshal([]byte(stripFences(raw)), &result); err != nil {
		return nil, domain.NewCapabilityError(domain.ErrMalformedResponse, "sentiment")
	}
	return &result, nil
}

const proposePrompt = `The user message may describe a repeatable request worth turning into a
stored behavioral pattern. If it does, respond with JSON only:
{"name": "...", "description": "...", "triggers": [{"kind": "keyword|regex|semantic", "pattern": "..."}], "instruction_template": "..."}
If it does not, respond with exactly: null`

func (c *Client) ProposePattern(ctx context.Context, text string) (*ports.PatternProposal, error) {
	raw, err := c.chat(ctx, proposePrompt, text, 512)
	if err != nil {
		return nil, err
	}

	cleaned := strings.TrimSpace(stripFences(raw))
	if cleaned == "" || cleaned == "null" {
		return nil, nil
	}

	var proposal ports.PatternProposal
	if err := json.Unmarshal([]byte(cleaned), &proposal); err != nil {
		return nil, domain.NewCapabilityError(domain.ErrMalformedResponse, "pattern proposal")
	}
	return &proposal, nil
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *Client) chat(ctx context.Context, system, user string, maxTokens int) (string, error) {
	var content string
	err := c.breaker.Execute(func() error {
		ctx, cancel := context.WithTimeout(ctx, chatTimeout)
		defer cancel()

		req := chatRequest{Model: c.chatModel, MaxTokens: maxTokens}
		if system != "" {
			req.Messages = append(req.Messages, chatMessage{Role: "system", Content: system})
		}
		req.Messages = append(req.Messages, chatMessage{Role: "user", Content: user})

		body, err := json.Marshal(req)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}

		respBody, err := c.post(ctx, "/v1/chat/completions", body)
		if err != nil {
			return err
		}

		var parsed chatResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return domain.NewCapabilityError(domain.ErrMalformedResponse, "chat decode")
		}
		if len(parsed.Choices) == 0 {
			return domain.NewCapabilityError(domain.ErrMalformedResponse, "no choices")
		}
		content = parsed.Choices[0].Message.Content
		return nil
	})
	return content, err
}

func (c *Client) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	var respBody []byte

	err := retry.DoHTTP(ctx, c.retryConfig, func() (int, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return 0, fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return 0, fmt.Errorf("send request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return resp.StatusCode, fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			log.Printf("[Capability] API error: url=%s%s, status=%d, body=%s",
				c.baseURL, path, resp.StatusCode, truncate(string(respBody), 200))
			return resp.StatusCode, nil
		}
		return resp.StatusCode, nil
	})
	if err != nil {
		return nil, domain.NewCapabilityError(err, "capability request "+path)
	}
	return respBody, nil
}

// stripFences removes a surrounding markdown code fence, which chat models
// add around JSON despite instructions.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
