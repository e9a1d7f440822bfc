// Package gemini adapts Google's GenAI SDK to llm.Client.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/JakeFAU/compintel-monitor/internal/llm"
)

const providerName = "gemini"

// Client implements llm.Client with the Gemini API.
type Client struct {
	client *genai.Client
}

// New builds a Client for the Gemini developer API.
func New(ctx context.Context, apiKey, baseURL string) (*Client, error) {
	if apiKey == "" {
		return nil, llm.ErrInvalidAPIKey
	}
	cfg := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Client{client: client}, nil
}

// Name implements llm.Client.
func (c *Client) Name() string {
	return providerName
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, req llm.Request) (string, error) {
	temp := float32(req.Temperature)
	cfg := &genai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: int32(req.MaxTokens),
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := c.client.Models.GenerateContent(ctx, req.Model,
		[]*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}, cfg)
	if err != nil {
		return "", translate(err)
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", llm.ErrEmptyResponse
	}
	return text, nil
}

// ValidateKey lists models to confirm the key is accepted.
func (c *Client) ValidateKey(ctx context.Context) error {
	if _, err := c.client.Models.List(ctx, &genai.ListModelsConfig{PageSize: 1}); err != nil {
		return fmt.Errorf("list models: %w", translate(err))
	}
	return nil
}

// translate maps SDK failures onto llm.APIError using the reported status.
func translate(err error) error {
	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "resource_exhausted") || strings.Contains(lower, "error 429"):
		return &llm.APIError{Provider: providerName, StatusCode: http.StatusTooManyRequests, Message: msg}
	case strings.Contains(lower, "api key not valid") || strings.Contains(lower, "unauthenticated"):
		return &llm.APIError{Provider: providerName, StatusCode: http.StatusUnauthorized, Message: msg}
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("gemini request: %w", err)
	}
}
