package music

import (
	"fmt"
	"strings"
	"time"
)

// Request is what a caller asks to be generated. It is immutable once a task
// has been created for it.
type Request struct {
	Description string   `json:"description"`
	Genre       string   `json:"genre"`
	Subgenres   []string `json:"subgenres"`
}

// Tags returns the style tags sent to the music provider.
func (r Request) Tags() string {
	return strings.Join(append([]string{r.Genre}, r.Subgenres...), " ")
}

func (r Request) clone() Request {
	c := r
	if r.Subgenres != nil {
		c.Subgenres = append([]string{}, r.Subgenres...)
	}
	return c
}

type Track struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Artist      string  `json:"artist"`
	Album       string  `json:"album"`
	CoverURL    string  `json:"coverUrl"`
	Duration    float64 `json:"duration"`
	Liked       bool    `json:"liked"`
	AudioURL    string  `json:"audioUrl"`
	Lyrics      *Lyrics `json:"lyrics,omitempty"`
	Genre       string  `json:"genre"`
	Description string  `json:"description"`
}

// Validate checks that the track can be played and displayed.
func (t *Track) Validate() error {
	var missing []string
	for _, f := range []struct {
		name  string
		value string
	}{
		{"id", t.ID},
		{"title", t.Title},
		{"artist", t.Artist},
		{"album", t.Album},
		{"coverUrl", t.CoverURL},
		{"audioUrl", t.AudioURL},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("music: track is missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (t Track) clone() Track {
	c := t
	if t.Lyrics != nil {
		l := t.Lyrics.clone()
		c.Lyrics = &l
	}
	return c
}

type Status string

const (
	Pending   Status = "pending"
	Completed Status = "completed"
	Failed    Status = "failed"
)

func (s Status) Terminal() bool {
	return s == Completed || s == Failed
}

// CanTransition reports whether a snapshot with status from may be replaced
// by one with status to. Terminal states only accept an identical status.
func CanTransition(from, to Status) bool {
	switch from {
	case Pending:
		return to == Pending || to == Completed || to == Failed
	case Completed, Failed:
		return to == from
	default:
		return false
	}
}

// Task is a point in time snapshot of a generation.
type Task struct {
	ID         string    `json:"id"`
	Request    Request   `json:"request"`
	Status     Status    `json:"status"`
	Track      *Track    `json:"track,omitempty"`
	Alternates []Track   `json:"alternates,omitempty"`
	ErrorKind  string    `json:"errorKind,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// NewTask returns a pending snapshot.
func NewTask(id string, req Request, now time.Time) *Task {
	return &Task{
		ID:        id,
		Request:   req.clone(),
		Status:    Pending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Complete returns a completed copy of the task.
func (t *Task) Complete(primary Track, alternates []Track, now time.Time) *Task {
	c := t.base(Completed, now)
	p := primary.clone()
	c.Track = &p
	for _, a := range alternates {
		c.Alternates = append(c.Alternates, a.clone())
	}
	return c
}

// Fail returns a failed copy of the task.
func (t *Task) Fail(kind, message string, now time.Time) *Task {
	c := t.base(Failed, now)
	c.ErrorKind = kind
	c.Error = message
	return c
}

func (t *Task) base(status Status, now time.Time) *Task {
	if now.Before(t.CreatedAt) {
		now = t.CreatedAt
	}
	return &Task{
		ID:        t.ID,
		Request:   t.Request.clone(),
		Status:    status,
		CreatedAt: t.CreatedAt,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy so readers never share memory with the store.
func (t *Task) Clone() *Task {
	c := *t
	c.Request = t.Request.clone()
	if t.Track != nil {
		p := t.Track.clone()
		c.Track = &p
	}
	if t.Alternates != nil {
		c.Alternates = make([]Track, 0, len(t.Alternates))
		for _, a := range t.Alternates {
			c.Alternates = append(c.Alternates, a.clone())
		}
	}
	return &c
}

// Consistent checks that only the fields of the current status are set.
func (t *Task) Consistent() error {
	switch t.Status {
	case Pending:
		if t.Track != nil || len(t.Alternates) > 0 || t.Error != "" || t.ErrorKind != "" {
			return fmt.Errorf("music: pending task %s has result fields", t.ID)
		}
	case Completed:
		if t.Track == nil {
			return fmt.Errorf("music: completed task %s has no track", t.ID)
		}
		if t.Error != "" || t.ErrorKind != "" {
			return fmt.Errorf("music: completed task %s has error fields", t.ID)
		}
	case Failed:
		if t.Track != nil || len(t.Alternates) > 0 {
			return fmt.Errorf("music: failed task %s has tracks", t.ID)
		}
		if t.ErrorKind == "" {
			return fmt.Errorf("music: failed task %s has no error kind", t.ID)
		}
	default:
		return fmt.Errorf("music: task %s has unknown status %q", t.ID, t.Status)
	}
	return nil
}
