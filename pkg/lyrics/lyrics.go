package lyrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/igolaizola/trackgen/pkg/logger"
	"github.com/igolaizola/trackgen/pkg/music"
	"github.com/igolaizola/trackgen/pkg/provider"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const (
	DefaultModel   = openai.GPT3Dot5Turbo
	DefaultTimeout = 30 * time.Second
)

type Client struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	log     *zap.Logger
}

type Config struct {
	Key     string
	BaseURL string
	Model   string
	Timeout time.Duration
	Logger  *zap.Logger
}

func New(cfg *Config) *Client {
	c := openai.DefaultConfig(cfg.Key)
	if cfg.BaseURL != "" {
		c.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		client:  openai.NewClientWithConfig(c),
		model:   model,
		timeout: timeout,
		log:     logger.OrNop(cfg.Logger),
	}
}

// Prompt builds the lyrics request for a song.
func Prompt(req music.Request) string {
	var influences string
	if len(req.Subgenres) > 0 {
		influences = fmt.Sprintf(" with influences from %s", strings.Join(req.Subgenres, ", "))
	}
	return fmt.Sprintf(`Write emotional and engaging lyrics for a %s song%s. Theme: %s

Return ONLY the lyrics as a JSON array of objects with "time" and "text" properties, where:
- "time" is the timestamp in M:SS format, spaced 15 seconds apart
- "text" is the line of lyrics
- Include enough lyrics for a 3-minute song
- Make it a complete, coherent song with verses, chorus, and bridge

Example format:
[
  {"time": "0:00", "text": "First line of lyrics"},
  {"time": "0:15", "text": "Second line of lyrics"}
]`, req.Genre, influences, req.Description)
}

// Generate asks the language model for timestamped lyrics.
func (c *Client) Generate(ctx context.Context, req music.Request) ([]music.LyricLine, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: Prompt(req),
			},
		},
		Temperature: 0.7,
	})
	if err != nil {
		return nil, fmt.Errorf("lyrics: couldn't create chat completion: %w", transportError(err))
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("lyrics: %w: no choices returned", provider.ErrMalformed)
	}
	content := resp.Choices[0].Message.Content
	c.log.Debug("lyrics: response", zap.String("model", c.model), zap.Int("length", len(content)))

	lines, err := Parse(content)
	if err != nil {
		return nil, err
	}
	return lines, nil
}

// transportError converts client errors so they are classified like any other
// provider failure.
func transportError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		body, _ := json.Marshal(map[string]any{
			"error": map[string]string{"message": apiErr.Message},
		})
		return &provider.TransportError{
			Responded:  true,
			StatusCode: apiErr.HTTPStatusCode,
			Body:       body,
			Err:        err,
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		var body []byte
		if reqErr.Err != nil {
			body = []byte(reqErr.Err.Error())
		}
		return &provider.TransportError{
			Responded:  true,
			StatusCode: reqErr.HTTPStatusCode,
			Body:       body,
			Err:        err,
		}
	}
	return &provider.TransportError{
		Timeout: provider.IsTimeout(err),
		Err:     err,
	}
}

var (
	fence     = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*(.*?)\\s*```$")
	timestamp = regexp.MustCompile(`^(\d+):([0-5]\d)$`)
)

// Parse reads a JSON array of {"time": "M:SS", "text": "..."} lines, optionally
// wrapped in a markdown code fence.
func Parse(content string) ([]music.LyricLine, error) {
	content = strings.TrimSpace(content)
	if m := fence.FindStringSubmatch(content); m != nil {
		content = m[1]
	}
	var lines []music.LyricLine
	if err := json.Unmarshal([]byte(content), &lines); err != nil {
		return nil, fmt.Errorf("lyrics: %w: invalid lyrics format: %v", provider.ErrMalformed, err)
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("lyrics: %w: empty lyrics", provider.ErrMalformed)
	}
	last := -1
	for i, l := range lines {
		l.Time = strings.TrimSpace(l.Time)
		l.Text = strings.TrimSpace(l.Text)
		if l.Text == "" {
			return nil, fmt.Errorf("lyrics: %w: line %d has no text", provider.ErrMalformed, i)
		}
		secs, ok := seconds(l.Time)
		if !ok {
			return nil, fmt.Errorf("lyrics: %w: line %d has invalid time %q", provider.ErrMalformed, i, l.Time)
		}
		if secs < last {
			return nil, fmt.Errorf("lyrics: %w: line %d is out of order", provider.ErrMalformed, i)
		}
		last = secs
		lines[i] = l
	}
	return lines, nil
}

func seconds(s string) (int, bool) {
	m := timestamp.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	mins, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	secs, _ := strconv.Atoi(m[2])
	return mins*60 + secs, true
}
