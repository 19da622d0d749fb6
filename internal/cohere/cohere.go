package cohere

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/lehigh-university-libraries/visionbatch/internal/providers"
)

const defaultBaseURL = "https://api.cohere.com/v2"

// Cohere is a provider for the Cohere v2 chat API with vision models
type Cohere struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// New returns a new Cohere provider
func New(s providers.Settings) *Cohere {
	baseURL := strings.TrimRight(s.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Cohere{
		apiKey:  s.APIKey,
		baseURL: baseURL,
		client:  providers.DefaultHTTPClient(s.HTTPClient),
	}
}

func (c *Cohere) Name() string { return "cohere" }

// ExtractText sends the prompt and image to Cohere chat and returns the first text block
func (c *Cohere) ExtractText(ctx context.Context, config providers.Config) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("COHERE_API_KEY not set")
	}

	base64Image := base64.StdEncoding.EncodeToString(config.Image)

	requestBody, err := json.Marshal(map[string]interface{}{
		"model": config.Model,
		"messages": []map[string]interface{}{
			{
				"role": "user",
				"content": []map[string]interface{}{
					{
						"type": "text",
						"text": config.Prompt,
					},
					{
						"type": "image_url",
						"image_url": map[string]string{
							"url": providers.DataURI(config.MimeType, base64Image),
						},
					},
				},
			},
		},
		"temperature": config.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat", bytes.NewBuffer(requestBody))
	if err != nil {
		return "", fmt.Errorf("failed to create new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %v: %w", err, providers.ErrTransient)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", providers.StatusError("cohere", resp.StatusCode, string(body))
	}

	var response struct {
		Message struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", fmt.Errorf("failed to decode response body: %w", err)
	}

	for _, block := range response.Message.Content {
		if block.Type == "" || block.Type == "text" {
			return block.Text, nil
		}
	}

	return "", fmt.Errorf("no text content returned from Cohere")
}
