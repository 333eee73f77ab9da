package aggregate

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/braincount/impression-engine/internal/models"
)

// FlexFloat accepts both JSON numbers and numeric strings. Legacy
// camera firmware serializes dwell times either way.
type FlexFloat float64

func (f *FlexFloat) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		*f = 0
		return nil
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fmt.Errorf("invalid numeric value %q: %w", s, err)
	}
	*f = FlexFloat(v)
	return nil
}

func (f FlexFloat) MarshalJSON() ([]byte, error) {
	return json.Marshal(float64(f))
}

// UploadRecord is one detection record in the legacy upload payload.
type UploadRecord struct {
	Billboard   string    `json:"billboard"`
	CameraID    string    `json:"camera_id,omitempty"`
	ObjectType  string    `json:"object_type,omitempty"`
	Date        string    `json:"date"`
	Hour        *int      `json:"hour,omitempty"`
	EntryTime   string    `json:"entry_time,omitempty"`
	ExitTime    string    `json:"exit_time,omitempty"`
	DwallTime   FlexFloat `json:"dwalltime"`
	Impressions int64     `json:"impressions,omitempty"`
	Reach       string    `json:"reach,omitempty"`
}

// Event is a normalized detection event ready to fold into rollups.
type Event struct {
	BillboardUUID string
	ObjectType    models.ObjectType
	EntryTime     time.Time
	ExitTime      time.Time
	DwellSeconds  float64
	Impressions   int64
	ReachTokens   []string
}

const (
	dateLayout = "2006-01-02"
)

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// ParseReachList parses the legacy reach serialization: a bracketed,
// quoted, newline-separated token list such as "[ 'tok1'\n'tok2' ]".
// Brackets and quotes are stripped and the remainder is split on
// newlines. Whatever survives trimming is a token.
func ParseReachList(raw string) []string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil
	}
	var tokens []string
	for _, line := range strings.Split(s, "\n") {
		tok := strings.TrimSpace(line)
		tok = strings.Trim(tok, `'",`)
		tok = strings.TrimSpace(tok)
		if tok != "" {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

// Normalize validates an upload record and converts it to an Event.
// Errors wrap ErrMalformedEvent.
func (r *UploadRecord) Normalize() (Event, error) {
	if r.Billboard == "" {
		return Event{}, fmt.Errorf("%w: missing billboard", ErrMalformedEvent)
	}

	var entry, exit time.Time
	var err error

	if r.EntryTime != "" {
		entry, err = parseTimestamp(r.EntryTime)
		if err != nil {
			return Event{}, fmt.Errorf("%w: entry_time: %v", ErrMalformedEvent, err)
		}
	}
	if r.ExitTime != "" {
		exit, err = parseTimestamp(r.ExitTime)
		if err != nil {
			return Event{}, fmt.Errorf("%w: exit_time: %v", ErrMalformedEvent, err)
		}
	}

	if entry.IsZero() {
		if r.Date == "" {
			return Event{}, fmt.Errorf("%w: missing date and entry_time", ErrMalformedEvent)
		}
		day, err := time.Parse(dateLayout, r.Date)
		if err != nil {
			return Event{}, fmt.Errorf("%w: date: %v", ErrMalformedEvent, err)
		}
		hour := 0
		if r.Hour != nil {
			hour = *r.Hour
		}
		if hour < 0 || hour > 23 {
			return Event{}, fmt.Errorf("%w: hour %d out of range", ErrMalformedEvent, hour)
		}
		entry = time.Date(day.Year(), day.Month(), day.Day(), hour, 0, 0, 0, time.UTC)
	}

	if exit.IsZero() {
		exit = entry
	}
	if exit.Before(entry) {
		return Event{}, fmt.Errorf("%w: exit_time precedes entry_time", ErrMalformedEvent)
	}

	dwell := float64(r.DwallTime)
	if dwell == 0 && exit.After(entry) {
		dwell = exit.Sub(entry).Seconds()
	}
	if dwell < 0 {
		return Event{}, fmt.Errorf("%w: negative dwell time", ErrMalformedEvent)
	}

	impressions := r.Impressions
	if impressions <= 0 {
		impressions = 1
	}

	return Event{
		BillboardUUID: r.Billboard,
		ObjectType:    models.ParseObjectType(r.ObjectType),
		EntryTime:     entry,
		ExitTime:      exit,
		DwellSeconds:  dwell,
		Impressions:   impressions,
		ReachTokens:   ParseReachList(r.Reach),
	}, nil
}

// FromDetection converts a staged detection row to an Event.
func FromDetection(d *models.Detection) Event {
	return Event{
		BillboardUUID: d.BillboardUUID,
		ObjectType:    d.ObjectType,
		EntryTime:     d.EntryTime.UTC(),
		ExitTime:      d.ExitTime.UTC(),
		DwellSeconds:  d.DwellSeconds,
		Impressions:   1,
		ReachTokens:   append([]string(nil), d.ReachTokens...),
	}
}
