package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrTransient marks failures that may succeed on retry
var ErrTransient = errors.New("transient provider error")

// Config represents the configuration for a single vision request
type Config struct {
	Model       string
	Temperature float64
	Prompt      string
	Image       []byte
	MimeType    string
}

// Provider defines the interface for a vision-capable LLM provider
type Provider interface {
	Name() string
	ExtractText(ctx context.Context, config Config) (string, error)
}

// Settings carries the credentials and endpoints needed to build a provider
type Settings struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// DefaultHTTPClient is shared by the HTTP based providers when none is configured
func DefaultHTTPClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: 90 * time.Second}
}

// StatusError converts a non-200 response status into an error, wrapping
// ErrTransient for statuses that can succeed on retry.
func StatusError(provider string, code int, body string) error {
	if code == http.StatusTooManyRequests || code >= 500 {
		return fmt.Errorf("%s API returned status %d: %s: %w", provider, code, body, ErrTransient)
	}
	return fmt.Errorf("%s API returned status %d: %s", provider, code, body)
}

// DataURI formats image bytes the way chat-completion style APIs expect them
func DataURI(mimeType, base64Image string) string {
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return "data:" + mimeType + ";base64," + base64Image
}
