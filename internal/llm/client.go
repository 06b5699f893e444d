// Package llm is the typed HTTP client for the OpenAI-compatible inference
// gateway: plain chat completions for document metadata and multimodal
// completions for image captioning.
package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vectral-ai/corpus-engine/internal/domain"
	"github.com/vectral-ai/corpus-engine/internal/observability"
)

const (
	defaultChatModel   = "gpt-4o-mini"
	defaultVisionModel = "gpt-4o"
)

// Config holds gateway connection settings.
type Config struct {
	BaseURL       string
	APIKey        string
	ResourceGroup string
	ChatModel     string
	VisionModel   string
	ChatTimeout   time.Duration
	VisionTimeout time.Duration
}

// Client handles communication with the inference gateway.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *observability.Logger
	retry      *RetryConfig
}

// ChatMessage is a plain-text chat turn.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the request body for text-only completions.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
}

// VisionMessage is a chat turn whose content mixes text and images.
type VisionMessage struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ContentPart is one part of a multimodal message (text or image).
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL carries an image as a data URL.
type ImageURL struct {
	URL string `json:"url"`
}

// VisionRequest is the request body for multimodal completions.
type VisionRequest struct {
	Model    string          `json:"model"`
	Messages []VisionMessage `json:"messages"`
}

// Response is the completion response shared by both request kinds.
type Response struct {
	ID      string   `json:"id"`
	Choices []Choice `json:"choices"`
}

// Choice is a single completion choice.
type Choice struct {
	Message      ResponseMessage `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

// ResponseMessage is the assistant reply inside a choice.
type ResponseMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewClient creates a gateway client.
func NewClient(cfg Config, logger *observability.Logger) *Client {
	if cfg.ChatModel == "" {
		cfg.ChatModel = defaultChatModel
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = defaultVisionModel
	}
	if cfg.ChatTimeout <= 0 {
		cfg.ChatTimeout = 30 * time.Second
	}
	if cfg.VisionTimeout <= 0 {
		cfg.VisionTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = observability.DefaultLogger()
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		logger:     logger.WithComponent("llm"),
		retry:      DefaultRetryConfig(),
	}
}

// Chat sends a system+user prompt to the chat model and returns the reply
// text. Temperature is kept low: callers expect structured output.
func (c *Client) Chat(ctx context.Context, system, user string) (string, error) {
	req := ChatRequest{
		Model:       c.cfg.ChatModel,
		Temperature: 0.1,
	}
	if system != "" {
		req.Messages = append(req.Messages, ChatMessage{Role: "system", Content: system})
	}
	req.Messages = append(req.Messages, ChatMessage{Role: "user", Content: user})

	return c.complete(ctx, req, c.cfg.ChatTimeout)
}

// AnalyzeImage sends a prompt plus one image to the vision model and returns
// the reply text. The image travels inline as a base64 data URL.
func (c *Client) AnalyzeImage(ctx context.Context, prompt string, imageData []byte, mimeType string) (string, error) {
	if mimeType == "" {
		mimeType = "image/png"
	}
	dataURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(imageData)

	req := VisionRequest{
		Model: c.cfg.VisionModel,
		Messages: []VisionMessage{{
			Role: "user",
			Content: []ContentPart{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: &ImageURL{URL: dataURL}},
			},
		}},
	}

	return c.complete(ctx, req, c.cfg.VisionTimeout)
}

// complete posts a completion request and returns the first choice's content.
func (c *Client) complete(ctx context.Context, payload any, timeout time.Duration) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", domain.InternalError("marshal gateway request", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.retryWithBackoff(ctx, func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		}
		if c.cfg.ResourceGroup != "" {
			req.Header.Set("AI-Resource-Group", c.cfg.ResourceGroup)
		}
		return c.httpClient.Do(req)
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", domain.InferenceError("read gateway response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", domain.InferenceError(fmt.Sprintf("gateway returned status %d: %s", resp.StatusCode, truncate(string(data), 512)), nil)
	}

	var parsed Response
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", domain.InferenceError("decode gateway response", err)
	}
	if len(parsed.Choices) == 0 {
		return "", domain.InferenceError("gateway returned no choices", nil)
	}

	return parsed.Choices[0].Message.Content, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
