// Package mlclient is an HTTP client for an OpenAI-compatible text
// moderation endpoint. It maps the upstream verdict onto
// moderation.Categories; unknown or missing category fields read as false.
package mlclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nosurfing/moderation/internal/moderation"
)

const (
	defaultTimeout = 5 * time.Second
	defaultModel   = "omni-moderation-latest"
	defaultBaseURL = "https://api.openai.com"
)

var (
	// ErrUnavailable indicates the moderation endpoint is unreachable.
	ErrUnavailable = errors.New("mlclient: moderation endpoint unavailable")

	// ErrEmptyResult is returned when the endpoint answers without any
	// result entries.
	ErrEmptyResult = errors.New("mlclient: moderation endpoint returned no results")
)

// Client calls POST <baseURL>/v1/moderations.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// Config holds client settings. Empty fields fall back to defaults.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

type moderationRequest struct {
	Input string `json:"input"`
	Model string `json:"model,omitempty"`
}

type moderationResponse struct {
	ID      string             `json:"id"`
	Model   string             `json:"model"`
	Results []moderationResult `json:"results"`
}

type moderationResult struct {
	Flagged    bool           `json:"flagged"`
	Categories resultCategory `json:"categories"`
}

type resultCategory struct {
	Hate       bool `json:"hate"`
	Harassment bool `json:"harassment"`
	Sexual     bool `json:"sexual"`
	Violence   bool `json:"violence"`
	SelfHarm   bool `json:"self-harm"`
}

// NewClient creates a moderation endpoint client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// Classify sends text for classification. When the upstream does not flag
// the text the returned Categories are all false, whatever individual
// category fields say.
func (c *Client) Classify(ctx context.Context, text string) (moderation.Categories, error) {
	reqBody, err := json.Marshal(moderationRequest{Input: text, Model: c.model})
	if err != nil {
		return moderation.Categories{}, fmt.Errorf("mlclient: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/moderations", bytes.NewReader(reqBody))
	if err != nil {
		return moderation.Categories{}, fmt.Errorf("mlclient: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return moderation.Categories{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return moderation.Categories{}, fmt.Errorf("mlclient: moderation endpoint returned %d", resp.StatusCode)
	}

	var result moderationResponse
	if decodeErr := json.NewDecoder(resp.Body).Decode(&result); decodeErr != nil {
		return moderation.Categories{}, fmt.Errorf("mlclient: decode response: %w", decodeErr)
	}
	if len(result.Results) == 0 {
		return moderation.Categories{}, ErrEmptyResult
	}

	first := result.Results[0]
	if !first.Flagged {
		return moderation.Categories{}, nil
	}
	return moderation.Categories{
		Flagged:    true,
		Hate:       first.Categories.Hate,
		Harassment: first.Categories.Harassment,
		Sexual:     first.Categories.Sexual,
		Violence:   first.Categories.Violence,
		SelfHarm:   first.Categories.SelfHarm,
	}, nil
}

// Health checks that the endpoint is reachable and accepts the API key.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", http.NoBody)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mlclient: moderation endpoint unhealthy: %d", resp.StatusCode)
	}
	return nil
}
