package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/igolaizola/trackgen/pkg/classify"
	"github.com/igolaizola/trackgen/pkg/logger"
	"github.com/igolaizola/trackgen/pkg/music"
	"github.com/igolaizola/trackgen/pkg/normalize"
	"github.com/igolaizola/trackgen/pkg/suno"
	"go.uber.org/zap"
)

// Default durations in seconds when the provider doesn't report one.
const (
	DirectDuration = 30
	LyricsDuration = 180
)

type MusicProvider interface {
	Generate(ctx context.Context, req *suno.GenerateRequest) (json.RawMessage, error)
}

type LyricsProvider interface {
	Generate(ctx context.Context, req music.Request) ([]music.LyricLine, error)
}

type Config struct {
	// Lyrics enables the lyrics-then-music pipeline.
	Lyrics bool
	Logger *zap.Logger
}

type Generator struct {
	music     MusicProvider
	lyrics    LyricsProvider
	useLyrics bool
	log       *zap.Logger
}

type Result struct {
	Track      music.Track
	Alternates []music.Track
}

func New(m MusicProvider, l LyricsProvider, cfg *Config) (*Generator, error) {
	if m == nil {
		return nil, errors.New("generator: music provider is required")
	}
	if cfg.Lyrics && l == nil {
		return nil, errors.New("generator: lyrics provider is required when lyrics are enabled")
	}
	return &Generator{
		music:     m,
		lyrics:    l,
		useLyrics: cfg.Lyrics,
		log:       logger.OrNop(cfg.Logger),
	}, nil
}

// Validate checks that description and genre are present.
func Validate(req music.Request) error {
	if strings.TrimSpace(req.Description) == "" || strings.TrimSpace(req.Genre) == "" {
		return classify.Invalid("Missing required parameters")
	}
	return nil
}

// Prompt builds the music prompt of a request.
func Prompt(req music.Request) string {
	var elements string
	if len(req.Subgenres) > 0 {
		elements = fmt.Sprintf(" with elements of %s", strings.Join(req.Subgenres, ", "))
	}
	return fmt.Sprintf("Create a %s song%s. %s", req.Genre, elements, req.Description)
}

// Run generates the tracks of a request. A single attempt is made per stage
// and any failure discards the work done so far.
func (g *Generator) Run(ctx context.Context, req music.Request) (*Result, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	title := fmt.Sprintf("%s Generation", req.Genre)

	gen := &suno.GenerateRequest{
		Prompt:    Prompt(req),
		Tags:      req.Tags(),
		Title:     title,
		WaitAudio: true,
	}
	opts := normalize.Options{
		Request:  req,
		Duration: DirectDuration,
	}

	if g.useLyrics {
		lines, err := g.lyrics.Generate(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("generator: couldn't generate lyrics: %w", err)
		}
		g.log.Debug("generator: lyrics generated", zap.Int("lines", len(lines)))
		texts := make([]string, 0, len(lines))
		for _, l := range lines {
			texts = append(texts, l.Text)
		}
		gen = &suno.GenerateRequest{
			Prompt:    strings.Join(texts, "\n"),
			Tags:      req.Tags(),
			Title:     title,
			WaitAudio: true,
			Duration:  LyricsDuration,
			Custom:    true,
		}
		opts.Duration = LyricsDuration
		opts.Lyrics = lines
	}

	raw, err := g.music.Generate(ctx, gen)
	if err != nil {
		return nil, fmt.Errorf("generator: couldn't generate music: %w", err)
	}
	primary, alternates, err := normalize.Normalize(raw, opts)
	if err != nil {
		return nil, fmt.Errorf("generator: couldn't normalize response: %w", err)
	}
	g.log.Debug("generator: tracks normalized",
		zap.String("id", primary.ID),
		zap.Int("alternates", len(alternates)),
	)
	return &Result{Track: *primary, Alternates: alternates}, nil
}
