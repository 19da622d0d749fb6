package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPrompt         = "Is a flare burning in this image? Answer with only 'true' or 'false'."
	DefaultEnhancedPrompt = "Describe in detail what you see in this image, focusing on the flare."
	DefaultSubject        = "Flare"
)

var defaultModels = map[string]string{
	"cohere": "command-a-vision-epsilon",
	"openai": "gpt-4o-mini",
	"ollama": "llava",
	"gemini": "gemini-1.5-flash",
}

// Config holds the server and batch settings
type Config struct {
	Port      string `yaml:"port"`
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
	OllamaURL string `yaml:"ollama_url"`
	StaticDir string `yaml:"static_dir"`

	CohereAPIKey string `yaml:"-"`
	OpenAIAPIKey string `yaml:"-"`
	GeminiAPIKey string `yaml:"-"`

	MinImages         int      `yaml:"min_images"`
	MaxImages         int      `yaml:"max_images"`
	AllowedExtensions []string `yaml:"allowed_extensions"`
	MaxUploadBytes    int64    `yaml:"max_upload_bytes"`

	DefaultSubject        string `yaml:"default_subject"`
	DefaultPrompt         string `yaml:"default_prompt"`
	DefaultEnhancedPrompt string `yaml:"default_enhanced_prompt"`

	MaxRetries        int           `yaml:"max_retries"`
	RetryBaseDelay    time.Duration `yaml:"retry_base_delay"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	MaxConcurrentJobs int           `yaml:"max_concurrent_jobs"`
	ResultTTL         time.Duration `yaml:"result_ttl"`
	ThumbnailSize     int           `yaml:"thumbnail_size"`
}

// Default returns the built-in settings
func Default() *Config {
	return &Config{
		Port:                  "8888",
		Provider:              "cohere",
		OllamaURL:             "http://localhost:11434",
		StaticDir:             "static",
		MinImages:             1,
		MaxImages:             50,
		AllowedExtensions:     []string{".jpg", ".jpeg", ".png"},
		MaxUploadBytes:        16 * 1024 * 1024,
		DefaultSubject:        DefaultSubject,
		DefaultPrompt:         DefaultPrompt,
		DefaultEnhancedPrompt: DefaultEnhancedPrompt,
		MaxRetries:            3,
		RetryBaseDelay:        time.Second,
		MaxConcurrentJobs:     4,
		ThumbnailSize:         300,
	}
}

// Load builds the config from defaults, an optional YAML file at path and
// the environment, in that order of precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if cfg.Model == "" {
		cfg.Model = defaultModels[cfg.Provider]
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.Provider = strings.ToLower(getEnv("PROVIDER", c.Provider))
	c.Model = getEnv("MODEL", c.Model)
	c.OllamaURL = getEnv("OLLAMA_URL", c.OllamaURL)
	c.StaticDir = getEnv("STATIC_DIR", c.StaticDir)
	c.CohereAPIKey = getEnv("COHERE_API_KEY", c.CohereAPIKey)
	c.OpenAIAPIKey = getEnv("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.GeminiAPIKey = getEnv("GEMINI_API_KEY", c.GeminiAPIKey)

	c.MinImages = getEnvInt("MIN_IMAGES", c.MinImages)
	c.MaxImages = getEnvInt("MAX_IMAGES", c.MaxImages)
	if v := getEnv("ALLOWED_EXTENSIONS", ""); v != "" {
		c.AllowedExtensions = splitList(v)
	}
	c.MaxUploadBytes = int64(getEnvInt("MAX_UPLOAD_BYTES", int(c.MaxUploadBytes)))

	c.DefaultSubject = getEnv("DEFAULT_SUBJECT", c.DefaultSubject)
	c.DefaultPrompt = getEnv("DEFAULT_PROMPT", c.DefaultPrompt)
	c.DefaultEnhancedPrompt = getEnv("DEFAULT_ENHANCED_PROMPT", c.DefaultEnhancedPrompt)

	c.MaxRetries = getEnvInt("MAX_RETRIES", c.MaxRetries)
	c.RetryBaseDelay = getEnvDuration("RETRY_BASE_DELAY", c.RetryBaseDelay)
	c.RequestsPerMinute = getEnvInt("REQUESTS_PER_MINUTE", c.RequestsPerMinute)
	c.MaxConcurrentJobs = getEnvInt("MAX_CONCURRENT_JOBS", c.MaxConcurrentJobs)
	c.ResultTTL = getEnvDuration("RESULT_TTL", c.ResultTTL)
	c.ThumbnailSize = getEnvInt("THUMBNAIL_SIZE", c.ThumbnailSize)
}

// Validate rejects settings the server cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.MinImages < 1 {
		errs = append(errs, fmt.Errorf("min images must be at least 1, got %d", c.MinImages))
	}
	if c.MaxImages < c.MinImages {
		errs = append(errs, fmt.Errorf("max images (%d) must not be less than min images (%d)", c.MaxImages, c.MinImages))
	}
	if _, ok := defaultModels[c.Provider]; !ok {
		errs = append(errs, fmt.Errorf("unsupported provider: %s", c.Provider))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("max upload bytes must be positive"))
	}
	if len(c.AllowedExtensions) == 0 {
		errs = append(errs, fmt.Errorf("at least one allowed extension is required"))
	}
	return errors.Join(errs...)
}

// APIKey returns the key for the configured provider
func (c *Config) APIKey() string {
	switch c.Provider {
	case "cohere":
		return c.CohereAPIKey
	case "openai":
		return c.OpenAIAPIKey
	case "gemini":
		return c.GeminiAPIKey
	}
	return ""
}

// BaseURL returns the endpoint override for the configured provider, if any
func (c *Config) BaseURL() string {
	if c.Provider == "ollama" {
		return c.OllamaURL
	}
	return ""
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		if !strings.HasPrefix(part, ".") {
			part = "." + part
		}
		out = append(out, part)
	}
	return out
}
