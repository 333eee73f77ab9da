package aggregate

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/braincount/impression-engine/internal/models"
)

func TestParseReachList(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"legacy bracketed", "[ 'tok1'\n'tok2' ]", []string{"tok1", "tok2"}},
		{"double quotes", "[\"a\"\n\"b\"]", []string{"a", "b"}},
		{"trailing commas", "['a',\n'b',]", []string{"a", "b"}},
		{"single token", "['only']", []string{"only"}},
		{"empty string", "", nil},
		{"empty brackets", "[]", nil},
		{"whitespace only", "[  \n  ]", nil},
		{"no brackets", "'x'\n'y'", []string{"x", "y"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseReachList(tt.raw))
		})
	}
}

func TestFlexFloat(t *testing.T) {
	var rec struct {
		D FlexFloat `json:"dwalltime"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{"dwalltime": 12.5}`), &rec))
	assert.Equal(t, 12.5, float64(rec.D))

	require.NoError(t, json.Unmarshal([]byte(`{"dwalltime": "7.25"}`), &rec))
	assert.Equal(t, 7.25, float64(rec.D))

	require.NoError(t, json.Unmarshal([]byte(`{"dwalltime": null}`), &rec))
	assert.Zero(t, float64(rec.D))

	assert.Error(t, json.Unmarshal([]byte(`{"dwalltime": "abc"}`), &rec))
}

func TestNormalize(t *testing.T) {
	hour := 5
	rec := UploadRecord{
		Billboard:  "bb-1",
		ObjectType: "car",
		Date:       "2024-03-10",
		Hour:       &hour,
		DwallTime:  FlexFloat(10),
		Reach:      "['a'\n'b']",
	}

	ev, err := rec.Normalize()
	require.NoError(t, err)
	assert.Equal(t, "bb-1", ev.BillboardUUID)
	assert.Equal(t, models.ObjectCar, ev.ObjectType)
	assert.Equal(t, time.Date(2024, 3, 10, 5, 0, 0, 0, time.UTC), ev.EntryTime)
	assert.Equal(t, 10.0, ev.DwellSeconds)
	assert.Equal(t, int64(1), ev.Impressions, "impressions default to 1")
	assert.Equal(t, []string{"a", "b"}, ev.ReachTokens)
}

func TestNormalizeEntryExit(t *testing.T) {
	rec := UploadRecord{
		Billboard: "bb-1",
		EntryTime: "2024-03-10T05:00:00Z",
		ExitTime:  "2024-03-10T05:00:30Z",
	}

	ev, err := rec.Normalize()
	require.NoError(t, err)
	assert.Equal(t, 30.0, ev.DwellSeconds, "dwell derived from entry/exit when not supplied")
	assert.Equal(t, 5, ev.EntryTime.Hour())
}

func TestNormalizeErrors(t *testing.T) {
	hour := 24
	tests := []struct {
		name string
		rec  UploadRecord
	}{
		{"missing billboard", UploadRecord{Date: "2024-03-10"}},
		{"missing date", UploadRecord{Billboard: "bb-1"}},
		{"bad date", UploadRecord{Billboard: "bb-1", Date: "10/03/2024"}},
		{"hour out of range", UploadRecord{Billboard: "bb-1", Date: "2024-03-10", Hour: &hour}},
		{"bad entry time", UploadRecord{Billboard: "bb-1", EntryTime: "not-a-time"}},
		{"exit before entry", UploadRecord{
			Billboard: "bb-1",
			EntryTime: "2024-03-10T05:00:30Z",
			ExitTime:  "2024-03-10T05:00:00Z",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.rec.Normalize()
			require.ErrorIs(t, err, ErrMalformedEvent)
		})
	}
}

func TestNormalizeUnknownObjectType(t *testing.T) {
	rec := UploadRecord{Billboard: "bb-1", Date: "2024-03-10", ObjectType: "spaceship"}
	ev, err := rec.Normalize()
	require.NoError(t, err)
	assert.Equal(t, models.ObjectOther, ev.ObjectType)
}
