package classifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lehigh-university-libraries/visionbatch/internal/cohere"
	"github.com/lehigh-university-libraries/visionbatch/internal/gemini"
	"github.com/lehigh-university-libraries/visionbatch/internal/ollama"
	"github.com/lehigh-university-libraries/visionbatch/internal/openai"
	"github.com/lehigh-university-libraries/visionbatch/internal/providers"
	"golang.org/x/time/rate"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
	DefaultTimeout    = 60 * time.Second
)

// Response is the tagged outcome of a classify call. Error is only set when Success is false.
type Response struct {
	Success  bool
	Text     string
	Error    string
	Attempts int
}

// Options tunes retry and pacing behaviour
type Options struct {
	Model             string
	MaxRetries        int
	BaseDelay         time.Duration
	AttemptTimeout    time.Duration
	RequestsPerMinute int
	Logger            *slog.Logger
}

// Client wraps a provider with bounded retry and exponential backoff
type Client struct {
	provider   providers.Provider
	model      string
	maxRetries int
	baseDelay  time.Duration
	timeout    time.Duration
	limiter    *rate.Limiter
	logger     *slog.Logger

	// sleep is swapped in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a classifier client. Zero values in opts fall back to defaults,
// except BaseDelay where a negative value disables backoff entirely.
func New(p providers.Provider, opts Options) *Client {
	c := &Client{
		provider:   p,
		model:      opts.Model,
		maxRetries: opts.MaxRetries,
		baseDelay:  opts.BaseDelay,
		timeout:    opts.AttemptTimeout,
		logger:     opts.Logger,
		sleep:      sleepContext,
	}
	if c.maxRetries <= 0 {
		c.maxRetries = DefaultMaxRetries
	}
	if c.baseDelay == 0 {
		c.baseDelay = DefaultBaseDelay
	}
	if c.baseDelay < 0 {
		c.baseDelay = 0
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if opts.RequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	}
	return c
}

// NewProvider builds the named provider
func NewProvider(name string, s providers.Settings) (providers.Provider, error) {
	switch name {
	case "cohere":
		return cohere.New(s), nil
	case "openai":
		return openai.New(s), nil
	case "ollama":
		return ollama.New(s), nil
	case "gemini":
		return gemini.New(s), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
}

// Classify sends one image and prompt to the provider. It never returns an
// error; failures after the last attempt come back as Success=false.
func (c *Client) Classify(ctx context.Context, image []byte, mimeType, prompt string, temperature float64) Response {
	cfg := providers.Config{
		Model:       c.model,
		Temperature: temperature,
		Prompt:      prompt,
		Image:       image,
		MimeType:    mimeType,
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				lastErr = err
				break
			}
		}

		c.logger.Info("Sending request to vision provider",
			"provider", c.provider.Name(),
			"attempt", fmt.Sprintf("%d/%d", attempt+1, c.maxRetries))

		attempts++
		text, err := c.attempt(ctx, cfg)
		if err == nil {
			return Response{Success: true, Text: text, Attempts: attempt + 1}
		}
		lastErr = err
		c.logger.Error("Error calling vision provider",
			"provider", c.provider.Name(),
			"attempt", attempt+1,
			"transient", errors.Is(err, providers.ErrTransient),
			"err", err)

		if ctx.Err() != nil || attempt == c.maxRetries-1 {
			break
		}
		delay := c.baseDelay * time.Duration(1<<attempt)
		c.logger.Info("Retrying vision request", "delay", delay)
		if err := c.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}

	return Response{Success: false, Error: lastErr.Error(), Attempts: attempts}
}

func (c *Client) attempt(ctx context.Context, cfg providers.Config) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.provider.ExtractText(ctx, cfg)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
