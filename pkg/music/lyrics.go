package music

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type LyricLine struct {
	Time string `json:"time"`
	Text string `json:"text"`
}

// Lyrics holds either plain text or timestamped lines.
type Lyrics struct {
	Text  string
	Lines []LyricLine
}

func TextLyrics(s string) *Lyrics {
	return &Lyrics{Text: s}
}

func TimedLyrics(lines []LyricLine) *Lyrics {
	return &Lyrics{Lines: append([]LyricLine{}, lines...)}
}

// Plain returns the lyric text with one line per row.
func (l *Lyrics) Plain() string {
	if l == nil {
		return ""
	}
	if len(l.Lines) == 0 {
		return l.Text
	}
	texts := make([]string, 0, len(l.Lines))
	for _, line := range l.Lines {
		texts = append(texts, line.Text)
	}
	return strings.Join(texts, "\n")
}

func (l Lyrics) MarshalJSON() ([]byte, error) {
	if len(l.Lines) > 0 {
		return json.Marshal(l.Lines)
	}
	return json.Marshal(l.Text)
}

func (l *Lyrics) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return errors.New("music: empty lyrics")
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("music: couldn't unmarshal lyrics text: %w", err)
		}
		*l = Lyrics{Text: s}
	case '[':
		var lines []LyricLine
		if err := json.Unmarshal(b, &lines); err != nil {
			return fmt.Errorf("music: couldn't unmarshal lyrics lines: %w", err)
		}
		*l = Lyrics{Lines: lines}
	case 'n':
		*l = Lyrics{}
	default:
		return fmt.Errorf("music: invalid lyrics %s", string(b))
	}
	return nil
}

func (l Lyrics) clone() Lyrics {
	c := l
	if l.Lines != nil {
		c.Lines = append([]LyricLine{}, l.Lines...)
	}
	return c
}
