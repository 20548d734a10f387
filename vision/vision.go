// Package vision generates a free-text description of a listing from its
// gallery images via an OpenAI-compatible chat-completions endpoint. The
// scan pipeline treats it as best-effort: a failure here leaves the
// listing with an absent description.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"
)

// DefaultPrompt asks for the renter-facing walkthrough the catalog page
// itself rarely provides.
const DefaultPrompt = "Describe this apartment for a prospective tenant: " +
	"rooms shown, finishes, natural light, furnishings and overall condition. " +
	"Be concrete and brief; do not invent anything not visible in the photos."

// Config configures the vision describer.
type Config struct {
	// BaseURL is the chat-completions endpoint root.
	// Default: https://api.openai.com/v1.
	BaseURL string
	// APIKey is the bearer token. Required.
	APIKey string
	// Model names the vision-capable model. Default: gpt-4o-mini.
	Model string
	// Prompt precedes the images. Default: DefaultPrompt.
	Prompt string
	// ImageDetail is the per-image detail hint ("low", "high", "auto").
	// Default: low; gallery photos do not need hi-res analysis.
	ImageDetail string
	// MaxTokens caps the generated description. Default: 300.
	MaxTokens int
	// MaxImages caps how many gallery images are sent. Default: 8.
	MaxImages int
	// Timeout bounds one request. Default: 60s.
	Timeout time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.Model == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.Prompt == "" {
		c.Prompt = DefaultPrompt
	}
	if c.ImageDetail == "" {
		c.ImageDetail = "low"
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 300
	}
	if c.MaxImages <= 0 {
		c.MaxImages = 8
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Describer implements the scan pipeline's description collaborator.
type Describer struct {
	cfg    Config
	client *http.Client
}

// New creates a Describer. APIKey must be set.
func New(cfg Config) (*Describer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("vision: api key required")
	}
	cfg.defaults()
	return &Describer{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Describe reads the images at imagePaths, base64-embeds them into one
// user message after the prompt, and returns the model's description.
// Unreadable images are skipped; at least one must survive.
func (d *Describer) Describe(ctx context.Context, imagePaths []string) (string, error) {
	content := []contentPart{{Type: "text", Text: d.cfg.Prompt}}

	embedded := 0
	for _, p := range imagePaths {
		if embedded >= d.cfg.MaxImages {
			break
		}
		data, err := os.ReadFile(p)
		if err != nil {
			d.cfg.Logger.Warn("vision: unreadable image skipped", "path", p, "error", err)
			continue
		}
		content = append(content, contentPart{
			Type: "image_url",
			ImageURL: &imageURL{
				URL:    "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data),
				Detail: d.cfg.ImageDetail,
			},
		})
		embedded++
	}
	if embedded == 0 {
		return "", fmt.Errorf("vision: no readable images")
	}

	body, err := json.Marshal(chatRequest{
		Model:     d.cfg.Model,
		Messages:  []chatMessage{{Role: "user", Content: content}},
		MaxTokens: d.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("vision: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		d.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("vision: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.cfg.APIKey)

	resp, err := d.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("vision: http: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("vision: read body: %w", err)
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("vision: json decode: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("vision: api: %s", out.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("vision: http %d", resp.StatusCode)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("vision: empty response")
	}
	return out.Choices[0].Message.Content, nil
}
