package adapter

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/AllenChen-Xingan/nvda-vision/internal/capture"
	"github.com/AllenChen-Xingan/nvda-vision/internal/vision"
)

// DefaultCloudEndpoint is the Doubao ARK endpoint, which speaks the
// OpenAI-compatible chat completions protocol.
const DefaultCloudEndpoint = "https://ark.cn-beijing.volces.com/api/v3"

// DefaultCloudModel is the vision model requested from the cloud endpoint.
const DefaultCloudModel = "doubao-vision-pro"

const cloudPrompt = `Identify every UI element in this screenshot. Respond with a JSON object:
{"elements": [{"type": "button|link|textbox|dropdown|checkbox|radio|text|icon|image|label|tooltip|dialog|panel|menu|list|table", "text": "...", "bbox": [x1, y1, x2, y2], "confidence": 0.0-1.0, "actionable": true|false}]}
Respond with JSON only, no explanation.`

// CloudConfig configures the cloud API adapter.
type CloudConfig struct {
	APIKey   string
	Endpoint string
	Model    string
}

// Cloud sends screenshots to a remote OpenAI-compatible vision API.
// It is the last fallback tier and is only invoked with user consent.
type Cloud struct {
	config CloudConfig
	client *openai.Client
}

// NewCloud creates a cloud API adapter.
func NewCloud(config CloudConfig) *Cloud {
	if config.Endpoint == "" {
		config.Endpoint = DefaultCloudEndpoint
	}
	if config.Model == "" {
		config.Model = DefaultCloudModel
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	clientConfig.BaseURL = config.Endpoint

	return &Cloud{
		config: config,
		client: openai.NewClientWithConfig(clientConfig),
	}
}

// Load is a no-op: the cloud adapter holds no local resources.
func (c *Cloud) Load() error {
	if c.config.APIKey == "" {
		return fmt.Errorf("cloud API key not configured")
	}
	return nil
}

// Infer uploads the screenshot and parses the element response.
func (c *Cloud) Infer(ctx context.Context, shot *capture.Screenshot, timeout time.Duration) ([]vision.Element, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dataURI := "data:image/png;base64," + base64.StdEncoding.EncodeToString(shot.Data)

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: cloudPrompt},
					{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: dataURI},
					},
				},
			},
		},
	})
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("cloud request: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("cloud response contained no choices")
	}

	return parseCloudResponse(resp.Choices[0].Message.Content)
}

// Unload is a no-op: the cloud adapter holds no local resources.
func (c *Cloud) Unload() error {
	return nil
}

// Descriptor returns the adapter's static capability metadata.
func (c *Cloud) Descriptor() Descriptor {
	return Descriptor{
		Name: c.config.Model,
		Tier: vision.TierCloud,
	}
}

// parseCloudResponse extracts elements from the model's JSON reply.
// Models sometimes wrap JSON in markdown code fences; strip them first.
func parseCloudResponse(content string) ([]vision.Element, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var response struct {
		Elements []jsonElement `json:"elements"`
	}
	if err := json.Unmarshal([]byte(content), &response); err != nil {
		return nil, fmt.Errorf("parse cloud response: %w", err)
	}

	return toElements(response.Elements), nil
}
