// Package anthropic adapts the Anthropic Messages API to llm.Client.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/JakeFAU/compintel-monitor/internal/llm"
)

const providerName = "anthropic"

// jsonSuffix nudges the model toward a bare JSON object; the API has no JSON mode flag.
const jsonSuffix = "\n\nRespond with a single JSON object and nothing else."

// Client implements llm.Client with the Anthropic SDK.
type Client struct {
	client sdk.Client
	apiKey string
}

// New builds a Client. baseURL is optional.
func New(apiKey, baseURL string) *Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Client{client: sdk.NewClient(opts...), apiKey: apiKey}
}

// Name implements llm.Client.
func (c *Client) Name() string {
	return providerName
}

// Complete implements llm.Client.
func (c *Client) Complete(ctx context.Context, req llm.Request) (string, error) {
	system := req.System
	if req.JSON {
		system += jsonSuffix
	}
	params := sdk.MessageNewParams{
		Model:       sdk.Model(req.Model),
		MaxTokens:   int64(req.MaxTokens),
		Messages:    []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt))},
		Temperature: sdk.Float(req.Temperature),
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", translate(err)
	}
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", llm.ErrEmptyResponse
	}
	return b.String(), nil
}

// ValidateKey lists models to confirm the key is accepted.
func (c *Client) ValidateKey(ctx context.Context) error {
	if c.apiKey == "" {
		return llm.ErrInvalidAPIKey
	}
	if _, err := c.client.Models.List(ctx, sdk.ModelListParams{}); err != nil {
		return fmt.Errorf("list models: %w", translate(err))
	}
	return nil
}

func translate(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return &llm.APIError{Provider: providerName, StatusCode: apiErr.StatusCode, Message: apiErr.Error()}
	}
	return fmt.Errorf("anthropic request: %w", err)
}
