package suno

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/igolaizola/trackgen/pkg/provider"
	"go.uber.org/zap"
)

const (
	DefaultTimeout = 3 * time.Minute
	MinTimeout     = 100 * time.Second
	MaxTimeout     = 5 * time.Minute
)

type Client struct {
	client  *provider.Client
	timeout time.Duration
}

type Config struct {
	BaseURL string
	Key     string
	Timeout time.Duration
	Wait    time.Duration
	Debug   bool
	Client  *http.Client
	Logger  *zap.Logger
}

// GenerateRequest is the music generation wire contract.
type GenerateRequest struct {
	Prompt           string `json:"prompt"`
	Tags             string `json:"tags,omitempty"`
	Title            string `json:"title,omitempty"`
	MakeInstrumental bool   `json:"make_instrumental"`
	WaitAudio        bool   `json:"wait_audio"`
	Duration         int    `json:"duration,omitempty"`

	// Custom sends the prompt as literal lyrics.
	Custom bool `json:"-"`
}

func New(cfg *Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("suno: base url is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if timeout < MinTimeout || timeout > MaxTimeout {
		return nil, fmt.Errorf("suno: timeout %s out of range [%s, %s]", timeout, MinTimeout, MaxTimeout)
	}
	return &Client{
		client: provider.New(&provider.Config{
			BaseURL: cfg.BaseURL,
			Key:     cfg.Key,
			Wait:    cfg.Wait,
			Debug:   cfg.Debug,
			Client:  cfg.Client,
			Logger:  cfg.Logger,
		}),
		timeout: timeout,
	}, nil
}

// Generate requests a song and returns the raw provider payload.
func (c *Client) Generate(ctx context.Context, req *GenerateRequest) (json.RawMessage, error) {
	path := "api/generate"
	if req.Custom {
		path = "api/custom_generate"
	}
	raw, err := c.client.Invoke(ctx, path, req, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("suno: couldn't generate song: %w", err)
	}
	return raw, nil
}
