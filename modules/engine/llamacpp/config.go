package llamacpp

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config holds the configuration for a llama.cpp server engine.
type Config struct {
	BaseURL string            `yaml:"base_url"`
	APIKey  string            `yaml:"api_key"`
	Headers map[string]string `yaml:"headers"`
	// Timeout bounds the wait for response headers of a completion.
	Timeout time.Duration `yaml:"timeout"`
	// LoadTimeout bounds how long Load waits for the server to report healthy.
	LoadTimeout  time.Duration `yaml:"load_timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
	// CachePrompt lets the server reuse the KV cache across requests.
	CachePrompt *bool `yaml:"cache_prompt"`
}

// defaults sets default values for unset fields.
func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "http://127.0.0.1:8080"
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout == 0 {
		c.Timeout = 120 * time.Second
	}
	if c.LoadTimeout == 0 {
		c.LoadTimeout = 60 * time.Second
	}
	if c.PollInterval == 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.CachePrompt == nil {
		v := true
		c.CachePrompt = &v
	}
}

// validate returns an error if the configuration is unusable.
func (c *Config) validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("engine.llamacpp: base_url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("engine.llamacpp: base_url scheme must be http or https, got %q", u.Scheme)
	}
	if c.Timeout < 0 || c.LoadTimeout < 0 || c.PollInterval < 0 {
		return fmt.Errorf("engine.llamacpp: durations must not be negative")
	}
	return nil
}
