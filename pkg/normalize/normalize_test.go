package normalize

import (
	"errors"
	"strings"
	"testing"

	"github.com/igolaizola/trackgen/pkg/music"
	"github.com/igolaizola/trackgen/pkg/provider"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantShape Shape
		wantAudio []string
		wantErr   bool
	}{
		{
			name:      "numbered object",
			raw:       `[{"1": {"audio_url": "http://b"}, "0": {"audio_url": "http://a", "title": "T"}}]`,
			wantShape: NumberedObject,
			wantAudio: []string{"http://a", "http://b"},
		},
		{
			name:      "numbered object beyond nine",
			raw:       `[{"0":{"audio_url":"0"},"1":{"audio_url":"1"},"2":{"audio_url":"2"},"3":{"audio_url":"3"},"4":{"audio_url":"4"},"5":{"audio_url":"5"},"6":{"audio_url":"6"},"7":{"audio_url":"7"},"8":{"audio_url":"8"},"9":{"audio_url":"9"},"10":{"audio_url":"10"}}]`,
			wantShape: NumberedObject,
			wantAudio: []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9", "10"},
		},
		{
			name:      "nested sequence",
			raw:       `[[{"audio_url": "http://a"}, {"audio_url": "http://b"}]]`,
			wantShape: NestedSequence,
			wantAudio: []string{"http://a", "http://b"},
		},
		{
			name:      "sequence",
			raw:       `[{"audio_url": "http://a"}, {"audio_url": "http://b"}]`,
			wantShape: Sequence,
			wantAudio: []string{"http://a", "http://b"},
		},
		{
			name:      "envelope",
			raw:       `{"id": "batch", "clips": [{"audio_url": "http://a"}]}`,
			wantShape: Envelope,
			wantAudio: []string{"http://a"},
		},
		{
			name:      "bare object",
			raw:       `{"audio_url": "http://a", "id": 42}`,
			wantShape: BareObject,
			wantAudio: []string{"http://a"},
		},
		{
			name:      "numbered keys with gap are a plain object",
			raw:       `[{"0": {"audio_url": "http://a"}, "2": {"audio_url": "http://b"}}]`,
			wantShape: Sequence,
			wantAudio: []string{""},
		},
		{name: "empty", raw: ``, wantErr: true},
		{name: "empty sequence", raw: `[]`, wantErr: true},
		{name: "scalar", raw: `"ok"`, wantErr: true},
		{name: "sequence of scalars", raw: `[1, 2]`, wantErr: true},
		{name: "mixed sequence", raw: `[{"audio_url": "http://a"}, "x"]`, wantErr: true},
		{name: "invalid json", raw: `[{"audio_url": }]`, wantErr: true},
		{name: "html", raw: `<html></html>`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, shape, err := Decode([]byte(tt.raw))
			if tt.wantErr {
				if !errors.Is(err, provider.ErrMalformed) {
					t.Fatalf("Decode() err = %v; want ErrMalformed", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode() err = %v", err)
			}
			if shape != tt.wantShape {
				t.Fatalf("Decode() shape = %s; want %s", shape, tt.wantShape)
			}
			if len(got) != len(tt.wantAudio) {
				t.Fatalf("Decode() = %d candidates; want %d", len(got), len(tt.wantAudio))
			}
			for i, c := range got {
				if string(c.AudioURL) != tt.wantAudio[i] {
					t.Errorf("candidate %d audio = %q; want %q", i, c.AudioURL, tt.wantAudio[i])
				}
			}
		})
	}
}

func TestNormalizeNumberedObject(t *testing.T) {
	req := music.Request{Description: "d", Genre: "Pop"}
	primary, alternates, err := Normalize([]byte(`[{"0": {"audio_url": "http://x", "title": "T"}}]`), Options{
		Request:  req,
		Duration: 30,
	})
	if err != nil {
		t.Fatalf("Normalize() err = %v", err)
	}
	if len(alternates) != 0 {
		t.Fatalf("Normalize() alternates = %d; want 0", len(alternates))
	}
	if primary.AudioURL != "http://x" || primary.Title != "T" {
		t.Fatalf("Normalize() primary = %+v", primary)
	}
	if err := primary.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestTracksDefaults(t *testing.T) {
	req := music.Request{Description: "upbeat", Genre: "Pop", Subgenres: []string{"Dance-pop", "Synth"}}
	candidates, _, err := Decode([]byte(`[{"audio_url": "http://a", "lyric": "la la"}, {"audio_url": "http://b", "id": "b", "title": "B", "image_url": "http://img", "duration": 95.5}]`))
	if err != nil {
		t.Fatal(err)
	}
	primary, alternates, err := Tracks(candidates, Options{
		Request:  req,
		Duration: 30,
		NewID:    func() string { return "generated" },
	})
	if err != nil {
		t.Fatalf("Tracks() err = %v", err)
	}
	want := music.Track{
		ID:          "generated",
		Title:       "Pop Generation",
		Artist:      "Pop Collective AI",
		Album:       "Pop: Dance-pop × Synth",
		CoverURL:    DefaultCover,
		Duration:    30,
		AudioURL:    "http://a",
		Genre:       "Pop",
		Description: "upbeat",
	}
	got := *primary
	if got.Lyrics == nil || got.Lyrics.Plain() != "la la" {
		t.Fatalf("primary lyrics = %+v", got.Lyrics)
	}
	got.Lyrics = nil
	if got != want {
		t.Fatalf("primary = %+v; want %+v", got, want)
	}
	if len(alternates) != 1 {
		t.Fatalf("alternates = %d; want 1", len(alternates))
	}
	alt := alternates[0]
	if alt.Title != "B (Variation 2)" || alt.CoverURL != "http://img" || alt.Duration != 95.5 || alt.ID != "b" {
		t.Fatalf("alternate = %+v", alt)
	}
}

func TestTracksDropsInvalid(t *testing.T) {
	req := music.Request{Description: "d", Genre: "Rock"}
	candidates, _, err := Decode([]byte(`[{"title": "no audio"}, {"audio_url": "http://b"}, {"audio_url": "http://c"}]`))
	if err != nil {
		t.Fatal(err)
	}
	primary, alternates, err := Tracks(candidates, Options{Request: req, Duration: 180})
	if err != nil {
		t.Fatalf("Tracks() err = %v", err)
	}
	if primary.AudioURL != "http://b" {
		t.Fatalf("primary audio = %s; want http://b", primary.AudioURL)
	}
	if len(alternates) != 1 || alternates[0].Title != "Rock Generation (Variation 2)" {
		t.Fatalf("alternates = %+v", alternates)
	}
	if primary.ID == "" {
		t.Fatal("primary id is empty")
	}
}

func TestTracksAllInvalid(t *testing.T) {
	_, _, err := Normalize([]byte(`[{"title": "a"}, {"title": "b", "id": "x"}]`), Options{
		Request:  music.Request{Description: "d", Genre: "Pop"},
		Duration: 30,
	})
	if !errors.Is(err, provider.ErrMalformed) {
		t.Fatalf("Normalize() err = %v; want ErrMalformed", err)
	}
}

func TestTracksGeneratedLyrics(t *testing.T) {
	lines := []music.LyricLine{{Time: "0:00", Text: "one"}, {Time: "0:15", Text: "two"}}
	primary, _, err := Normalize([]byte(`{"audio_url": "http://a", "lyric": "provider lyric"}`), Options{
		Request:  music.Request{Description: "d", Genre: "Pop"},
		Duration: 180,
		Lyrics:   lines,
	})
	if err != nil {
		t.Fatal(err)
	}
	if primary.Lyrics == nil || len(primary.Lyrics.Lines) != 2 {
		t.Fatalf("lyrics = %+v; want generated lines", primary.Lyrics)
	}
	if primary.Duration != 180 {
		t.Fatalf("duration = %v; want 180", primary.Duration)
	}
}

func TestNormalizeUnreadableOptionalFields(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantID     string
		wantLength float64
		wantLyrics bool
	}{
		{name: "empty duration", raw: `[{"audio_url":"http://x","duration":""}]`, wantLength: 30},
		{name: "clock duration", raw: `[{"audio_url":"http://x","duration":"3:00"}]`, wantLength: 30},
		{name: "numeric string duration", raw: `[{"audio_url":"http://x","duration":"95.5"}]`, wantLength: 95.5},
		{name: "negative duration", raw: `[{"audio_url":"http://x","duration":-4}]`, wantLength: 30},
		{name: "metadata duration", raw: `[{"audio_url":"http://x","metadata":{"duration":120}}]`, wantLength: 120},
		{name: "unreadable metadata duration", raw: `[{"audio_url":"http://x","metadata":{"duration":"n/a"}}]`, wantLength: 30},
		{name: "metadata not an object", raw: `[{"audio_url":"http://x","metadata":"none"}]`, wantLength: 30},
		{name: "lyric array", raw: `[{"audio_url":"http://x","lyric":["a","b"]}]`, wantLength: 30},
		{name: "lyric string", raw: `[{"audio_url":"http://x","lyric":"la"}]`, wantLength: 30, wantLyrics: true},
		{name: "object id", raw: `[{"audio_url":"http://x","id":{"v":1}}]`, wantLength: 30},
		{name: "numeric id", raw: `[{"audio_url":"http://x","id":7}]`, wantID: "7", wantLength: 30},
		{name: "title object", raw: `[{"audio_url":"http://x","title":{"a":1}}]`, wantLength: 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			primary, _, err := Normalize([]byte(tt.raw), Options{
				Request:  music.Request{Description: "d", Genre: "Pop"},
				Duration: 30,
				NewID:    func() string { return "generated" },
			})
			if err != nil {
				t.Fatalf("Normalize() err = %v", err)
			}
			if primary.AudioURL != "http://x" {
				t.Fatalf("audio = %q", primary.AudioURL)
			}
			wantID := tt.wantID
			if wantID == "" {
				wantID = "generated"
			}
			if primary.ID != wantID {
				t.Fatalf("id = %q; want %q", primary.ID, wantID)
			}
			if primary.Duration != tt.wantLength {
				t.Fatalf("duration = %v; want %v", primary.Duration, tt.wantLength)
			}
			if primary.Title != "Pop Generation" {
				t.Fatalf("title = %q", primary.Title)
			}
			if (primary.Lyrics != nil) != tt.wantLyrics {
				t.Fatalf("lyrics = %+v; want present %v", primary.Lyrics, tt.wantLyrics)
			}
		})
	}
}

func TestTracksMissingAudioReason(t *testing.T) {
	_, _, err := Normalize([]byte(`[{"title": "a", "duration": "x"}]`), Options{
		Request:  music.Request{Description: "d", Genre: "Pop"},
		Duration: 30,
	})
	if !errors.Is(err, provider.ErrMalformed) {
		t.Fatalf("Normalize() err = %v; want ErrMalformed", err)
	}
	if !strings.Contains(err.Error(), "candidate 0 has no audio url") {
		t.Fatalf("Normalize() err = %v", err)
	}
}
