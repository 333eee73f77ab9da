package report

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Query is a parsed report request.
type Query struct {
	CampaignUUID   string
	DateFrom       *time.Time
	DateTo         *time.Time
	HourFrom       *int
	HourTo         *int
	TimeSlots      []string
	Locations      []string
	BillboardTypes []string
}

const dateLayout = "2006-01-02"

// splitList splits a delimited list parameter, accepting both semicolons
// and commas, and drops empty entries.
func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ';' || r == ','
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}

func parseDateParam(values url.Values, name string) (*time.Time, error) {
	raw := strings.TrimSpace(values.Get(name))
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", name, raw, err)
	}
	return &t, nil
}

func parseHourParam(values url.Values, name string) (*int, error) {
	raw := strings.TrimSpace(values.Get(name))
	if raw == "" {
		return nil, nil
	}
	h, err := strconv.Atoi(raw)
	if err != nil || h < 0 || h > 23 {
		return nil, fmt.Errorf("invalid %s %q: must be an hour 0-23", name, raw)
	}
	return &h, nil
}

// ParseQuery parses report query parameters. A missing uuid yields
// ErrMissingCampaign.
func ParseQuery(values url.Values) (*Query, error) {
	q := &Query{
		CampaignUUID:   strings.TrimSpace(values.Get("uuid")),
		TimeSlots:      splitList(values.Get("time_slots")),
		Locations:      splitList(values.Get("location")),
		BillboardTypes: splitList(values.Get("billboard_type")),
	}
	if q.CampaignUUID == "" {
		return nil, ErrMissingCampaign
	}

	var err error
	if q.DateFrom, err = parseDateParam(values, "start_date"); err != nil {
		return nil, err
	}
	if q.DateTo, err = parseDateParam(values, "end_date"); err != nil {
		return nil, err
	}
	if q.HourFrom, err = parseHourParam(values, "start_time"); err != nil {
		return nil, err
	}
	if q.HourTo, err = parseHourParam(values, "end_time"); err != nil {
		return nil, err
	}
	return q, nil
}

// Hours resolves the combined hour filter, nil meaning all hours.
func (q *Query) Hours() []int {
	return CombineHours(q.HourFrom, q.HourTo, q.TimeSlots)
}

// CacheKey is a stable identifier for the query, used for report
// response caching.
func (q *Query) CacheKey() string {
	var b strings.Builder
	b.WriteString("report:")
	b.WriteString(q.CampaignUUID)
	if q.DateFrom != nil {
		b.WriteString(":df=" + q.DateFrom.Format(dateLayout))
	}
	if q.DateTo != nil {
		b.WriteString(":dt=" + q.DateTo.Format(dateLayout))
	}
	if q.HourFrom != nil {
		b.WriteString(":hf=" + strconv.Itoa(*q.HourFrom))
	}
	if q.HourTo != nil {
		b.WriteString(":ht=" + strconv.Itoa(*q.HourTo))
	}
	for _, s := range q.TimeSlots {
		b.WriteString(":ts=" + s)
	}
	for _, l := range q.Locations {
		b.WriteString(":loc=" + l)
	}
	for _, t := range q.BillboardTypes {
		b.WriteString(":bt=" + t)
	}
	return b.String()
}
