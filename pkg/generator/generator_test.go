package generator

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/igolaizola/trackgen/pkg/classify"
	"github.com/igolaizola/trackgen/pkg/music"
	"github.com/igolaizola/trackgen/pkg/provider"
	"github.com/igolaizola/trackgen/pkg/suno"
)

type fakeMusic struct {
	raw string
	err error
	got []*suno.GenerateRequest
}

func (f *fakeMusic) Generate(ctx context.Context, req *suno.GenerateRequest) (json.RawMessage, error) {
	f.got = append(f.got, req)
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(f.raw), nil
}

type fakeLyrics struct {
	lines []music.LyricLine
	err   error
	calls int
}

func (f *fakeLyrics) Generate(ctx context.Context, req music.Request) ([]music.LyricLine, error) {
	f.calls++
	return f.lines, f.err
}

func TestPrompt(t *testing.T) {
	tests := []struct {
		req  music.Request
		want string
	}{
		{
			req:  music.Request{Description: "upbeat summer anthem", Genre: "Pop"},
			want: "Create a Pop song. upbeat summer anthem",
		},
		{
			req:  music.Request{Description: "upbeat summer anthem", Genre: "Pop", Subgenres: []string{"Dance-pop", "Synth-pop"}},
			want: "Create a Pop song with elements of Dance-pop, Synth-pop. upbeat summer anthem",
		},
	}
	for _, tt := range tests {
		if got := Prompt(tt.req); got != tt.want {
			t.Errorf("Prompt() = %q; want %q", got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		req     music.Request
		wantErr bool
	}{
		{music.Request{Description: "d", Genre: "g"}, false},
		{music.Request{Description: "d"}, true},
		{music.Request{Genre: "g"}, true},
		{music.Request{Description: "  ", Genre: "g"}, true},
		{music.Request{Description: "d", Genre: "\t"}, true},
	}
	for _, tt := range tests {
		err := Validate(tt.req)
		if (err != nil) != tt.wantErr {
			t.Errorf("Validate(%+v) err = %v; wantErr %v", tt.req, err, tt.wantErr)
		}
		if err != nil && classify.Classify(err).Kind != classify.InvalidRequest {
			t.Errorf("Validate(%+v) kind = %s", tt.req, classify.Classify(err).Kind)
		}
	}
}

func TestRunDirect(t *testing.T) {
	m := &fakeMusic{raw: `[{"audio_url": "https://ex/a.mp3", "id": "a"}, {"audio_url": "https://ex/b.mp3", "id": "b"}]`}
	l := &fakeLyrics{}
	g, err := New(m, l, &Config{})
	if err != nil {
		t.Fatal(err)
	}
	req := music.Request{Description: "upbeat summer anthem", Genre: "Pop", Subgenres: []string{"Dance-pop"}}
	res, err := g.Run(context.Background(), req)
	if err != nil {
		t.Fatalf("Run() err = %v", err)
	}
	if l.calls != 0 {
		t.Fatalf("lyrics called %d times", l.calls)
	}
	if len(m.got) != 1 {
		t.Fatalf("music called %d times", len(m.got))
	}
	want := suno.GenerateRequest{
		Prompt:    "Create a Pop song with elements of Dance-pop. upbeat summer anthem",
		Tags:      "Pop Dance-pop",
		Title:     "Pop Generation",
		WaitAudio: true,
	}
	if *m.got[0] != want {
		t.Fatalf("music request = %+v; want %+v", *m.got[0], want)
	}
	if res.Track.AudioURL != "https://ex/a.mp3" || res.Track.Duration != DirectDuration {
		t.Fatalf("track = %+v", res.Track)
	}
	if res.Track.Lyrics != nil {
		t.Fatalf("track lyrics = %+v; want nil", res.Track.Lyrics)
	}
	if len(res.Alternates) != 1 || res.Alternates[0].Title != "Pop Generation (Variation 2)" {
		t.Fatalf("alternates = %+v", res.Alternates)
	}
}

func TestRunLyrics(t *testing.T) {
	m := &fakeMusic{raw: `{"clips": [{"audio_url": "https://ex/a.mp3"}, {"audio_url": "https://ex/b.mp3"}]}`}
	lines := []music.LyricLine{{Time: "0:00", Text: "first"}, {Time: "0:15", Text: "second"}}
	l := &fakeLyrics{lines: lines}
	g, err := New(m, l, &Config{Lyrics: true})
	if err != nil {
		t.Fatal(err)
	}
	res, err := g.Run(context.Background(), music.Request{Description: "d", Genre: "Rock", Subgenres: []string{"Grunge"}})
	if err != nil {
		t.Fatalf("Run() err = %v", err)
	}
	want := suno.GenerateRequest{
		Prompt:    "first\nsecond",
		Tags:      "Rock Grunge",
		Title:     "Rock Generation",
		WaitAudio: true,
		Duration:  LyricsDuration,
		Custom:    true,
	}
	if *m.got[0] != want {
		t.Fatalf("music request = %+v; want %+v", *m.got[0], want)
	}
	for _, tr := range append([]music.Track{res.Track}, res.Alternates...) {
		if tr.Lyrics == nil || len(tr.Lyrics.Lines) != 2 {
			t.Fatalf("track %s lyrics = %+v", tr.Title, tr.Lyrics)
		}
		if tr.Duration != LyricsDuration {
			t.Fatalf("track %s duration = %v", tr.Title, tr.Duration)
		}
	}
}

func TestRunFailures(t *testing.T) {
	tests := []struct {
		name      string
		lyrics    bool
		music     *fakeMusic
		lyricsErr error
		wantKind  classify.Kind
		wantCalls int
	}{
		{
			name:      "no audio",
			music:     &fakeMusic{raw: `[{"title": "a"}, {"title": "b"}]`},
			wantKind:  classify.MalformedUpstreamResponse,
			wantCalls: 1,
		},
		{
			name:      "rate limited",
			music:     &fakeMusic{err: &provider.TransportError{Responded: true, StatusCode: 429}},
			wantKind:  classify.RateLimited,
			wantCalls: 1,
		},
		{
			name:      "lyrics malformed",
			lyrics:    true,
			music:     &fakeMusic{raw: `[{"audio_url": "x"}]`},
			lyricsErr: provider.ErrMalformed,
			wantKind:  classify.MalformedUpstreamResponse,
			wantCalls: 0,
		},
		{
			name:      "lyrics timeout",
			lyrics:    true,
			music:     &fakeMusic{raw: `[{"audio_url": "x"}]`},
			lyricsErr: &provider.TransportError{Timeout: true, Err: context.DeadlineExceeded},
			wantKind:  classify.Timeout,
			wantCalls: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := New(tt.music, &fakeLyrics{err: tt.lyricsErr}, &Config{Lyrics: tt.lyrics})
			if err != nil {
				t.Fatal(err)
			}
			res, err := g.Run(context.Background(), music.Request{Description: "d", Genre: "Pop"})
			if err == nil {
				t.Fatalf("Run() = %+v; want error", res)
			}
			if got := classify.Classify(err).Kind; got != tt.wantKind {
				t.Fatalf("Run() kind = %s; want %s (%v)", got, tt.wantKind, err)
			}
			if len(tt.music.got) != tt.wantCalls {
				t.Fatalf("music called %d times; want %d", len(tt.music.got), tt.wantCalls)
			}
		})
	}
}

func TestRunInvalid(t *testing.T) {
	m := &fakeMusic{raw: `[]`}
	g, err := New(m, nil, &Config{})
	if err != nil {
		t.Fatal(err)
	}
	_, err = g.Run(context.Background(), music.Request{Genre: "Pop"})
	var cerr *classify.Error
	if !errors.As(err, &cerr) || cerr.Kind != classify.InvalidRequest {
		t.Fatalf("Run() err = %v; want invalid request", err)
	}
	if len(m.got) != 0 {
		t.Fatal("music provider called for an invalid request")
	}
}

func TestNew(t *testing.T) {
	if _, err := New(nil, nil, &Config{}); err == nil {
		t.Error("New() without music provider err = nil")
	}
	if _, err := New(&fakeMusic{}, nil, &Config{Lyrics: true}); err == nil {
		t.Error("New() with lyrics enabled and no lyrics provider err = nil")
	}
}
