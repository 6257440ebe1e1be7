// Package normalize turns the provider payloads into tracks.
//
// Providers have answered with several shapes over time. Decode tries each
// known shape in a fixed order and fails closed when none matches.
package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/igolaizola/trackgen/pkg/music"
	"github.com/igolaizola/trackgen/pkg/provider"
)

// DefaultCover is used when the provider doesn't return an image.
const DefaultCover = "https://images.unsplash.com/photo-1470225620780-dba8ba36b745?w=300&h=300&fit=crop"

// Shape identifies which payload layout was decoded.
type Shape int

const (
	NumberedObject Shape = iota + 1
	NestedSequence
	Sequence
	Envelope
	BareObject
)

func (s Shape) String() string {
	switch s {
	case NumberedObject:
		return "numbered-object"
	case NestedSequence:
		return "nested-sequence"
	case Sequence:
		return "sequence"
	case Envelope:
		return "envelope"
	case BareObject:
		return "bare-object"
	default:
		return "unknown"
	}
}

// Candidate is a raw track-like object before validation.
type Candidate struct {
	ID       string
	Title    string
	ImageURL string
	AudioURL string
	Lyric    string
	Status   string
	// Duration in seconds, zero when missing or unreadable.
	Duration float64
}

// candidate reads the known fields of an object one by one. A field with an
// unexpected type is left empty instead of discarding the whole object.
func candidate(o json.RawMessage) Candidate {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(o, &fields); err != nil {
		return Candidate{}
	}
	c := Candidate{
		ID:       readText(fields["id"]),
		Title:    readText(fields["title"]),
		ImageURL: readText(fields["image_url"]),
		AudioURL: readText(fields["audio_url"]),
		Lyric:    readText(fields["lyric"]),
		Status:   readText(fields["status"]),
		Duration: readNumber(fields["duration"]),
	}
	if c.Duration == 0 {
		var meta map[string]json.RawMessage
		if err := json.Unmarshal(fields["metadata"], &meta); err == nil {
			c.Duration = readNumber(meta["duration"])
		}
	}
	return c
}

// readText accepts strings and numbers. Anything else reads as empty.
func readText(b json.RawMessage) string {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return ""
	}
	switch {
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return ""
		}
		return strings.TrimSpace(s)
	case b[0] == '-' || (b[0] >= '0' && b[0] <= '9'):
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return ""
		}
		return n.String()
	default:
		return ""
	}
}

// readNumber accepts positive numbers and numeric strings.
func readNumber(b json.RawMessage) float64 {
	s := readText(b)
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f <= 0 || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0
	}
	return f
}

type envelope struct {
	Clips []json.RawMessage `json:"clips"`
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("normalize: %w: %s", provider.ErrMalformed, fmt.Sprintf(format, args...))
}

// Decode extracts the candidates of a payload in provider order. Candidates
// that aren't objects make the whole payload malformed.
func Decode(raw []byte) ([]Candidate, Shape, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, 0, malformed("empty payload")
	}

	var objects []json.RawMessage
	var shape Shape
	switch raw[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, 0, malformed("invalid json: %v", err)
		}
		if len(items) == 0 {
			return nil, 0, malformed("no tracks returned")
		}
		if numbered, ok := numberedValues(items); ok {
			objects, shape = numbered, NumberedObject
			break
		}
		if nested, ok := nestedValues(items); ok {
			objects, shape = nested, NestedSequence
			break
		}
		objects, shape = items, Sequence
	case '{':
		var env envelope
		if err := json.Unmarshal(raw, &env); err == nil && len(env.Clips) > 0 {
			objects, shape = env.Clips, Envelope
			break
		}
		objects, shape = []json.RawMessage{raw}, BareObject
	default:
		return nil, 0, malformed("unexpected payload %s", truncate(raw))
	}

	candidates := make([]Candidate, 0, len(objects))
	for i, o := range objects {
		if !isObject(o) {
			return nil, 0, malformed("%s item %d is not an object", shape, i)
		}
		candidates = append(candidates, candidate(o))
	}
	return candidates, shape, nil
}

// numberedValues matches [{"0": {...}, "1": {...}}] with keys 0..n-1.
func numberedValues(items []json.RawMessage) ([]json.RawMessage, bool) {
	if len(items) != 1 || !isObject(items[0]) {
		return nil, false
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(items[0], &m); err != nil || len(m) == 0 {
		return nil, false
	}
	idx := make([]int, 0, len(m))
	for k := range m {
		n, err := strconv.Atoi(k)
		if err != nil || n < 0 || strconv.Itoa(n) != k {
			return nil, false
		}
		idx = append(idx, n)
	}
	sort.Ints(idx)
	for i, n := range idx {
		if i != n {
			return nil, false
		}
	}
	values := make([]json.RawMessage, 0, len(idx))
	for _, n := range idx {
		values = append(values, m[strconv.Itoa(n)])
	}
	return values, true
}

// nestedValues matches [[{...}, {...}]].
func nestedValues(items []json.RawMessage) ([]json.RawMessage, bool) {
	first := bytes.TrimSpace(items[0])
	if len(first) == 0 || first[0] != '[' {
		return nil, false
	}
	var inner []json.RawMessage
	if err := json.Unmarshal(first, &inner); err != nil || len(inner) == 0 {
		return nil, false
	}
	return inner, true
}

func isObject(b json.RawMessage) bool {
	b = bytes.TrimSpace(b)
	return len(b) > 0 && b[0] == '{'
}

func truncate(b []byte) string {
	s := string(b)
	if len(s) > 100 {
		return s[:100] + "..."
	}
	return s
}

// Options carry the request echo and pipeline defaults.
type Options struct {
	Request music.Request
	// Duration is used when the provider doesn't report one.
	Duration float64
	// Lyrics replace the provider lyrics when set.
	Lyrics []music.LyricLine
	// NewID generates ids for candidates without one.
	NewID func() string
}

// Tracks builds and validates tracks from candidates. Invalid candidates are
// dropped; if none is valid the payload is malformed.
func Tracks(candidates []Candidate, opts Options) (*music.Track, []music.Track, error) {
	newID := opts.NewID
	if newID == nil {
		newID = func() string { return uuid.NewString() }
	}
	req := opts.Request
	album := fmt.Sprintf("%s Explorations", req.Genre)
	if len(req.Subgenres) > 0 {
		album = fmt.Sprintf("%s: %s", req.Genre, strings.Join(req.Subgenres, " × "))
	}

	var valid []music.Track
	var reasons []string
	for i, c := range candidates {
		t := music.Track{
			ID:          c.ID,
			Title:       c.Title,
			Artist:      fmt.Sprintf("%s Collective AI", req.Genre),
			Album:       album,
			CoverURL:    c.ImageURL,
			Duration:    c.Duration,
			AudioURL:    c.AudioURL,
			Genre:       req.Genre,
			Description: req.Description,
		}
		if t.Title == "" {
			t.Title = fmt.Sprintf("%s Generation", req.Genre)
		}
		if t.CoverURL == "" {
			t.CoverURL = DefaultCover
		}
		if t.Duration == 0 {
			t.Duration = opts.Duration
		}
		switch {
		case len(opts.Lyrics) > 0:
			t.Lyrics = music.TimedLyrics(opts.Lyrics)
		case c.Lyric != "":
			t.Lyrics = music.TextLyrics(c.Lyric)
		}
		if t.AudioURL != "" && t.ID == "" {
			t.ID = newID()
		}
		if t.AudioURL == "" {
			reasons = append(reasons, fmt.Sprintf("candidate %d has no audio url", i))
			continue
		}
		if err := t.Validate(); err != nil {
			reasons = append(reasons, fmt.Sprintf("candidate %d: %s", i, strings.TrimPrefix(err.Error(), "music: ")))
			continue
		}
		valid = append(valid, t)
	}
	if len(valid) == 0 {
		if len(reasons) == 0 {
			return nil, nil, malformed("no tracks returned")
		}
		return nil, nil, malformed("no valid tracks (%s)", strings.Join(reasons, "; "))
	}

	primary := valid[0]
	var alternates []music.Track
	for i, t := range valid[1:] {
		t.Title = fmt.Sprintf("%s (Variation %d)", t.Title, i+2)
		alternates = append(alternates, t)
	}
	return &primary, alternates, nil
}

// Normalize decodes a raw payload into a primary track and its alternates.
func Normalize(raw []byte, opts Options) (*music.Track, []music.Track, error) {
	candidates, _, err := Decode(raw)
	if err != nil {
		return nil, nil, err
	}
	return Tracks(candidates, opts)
}
