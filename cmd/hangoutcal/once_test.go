package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hangoutcal/internal/busy"
	"hangoutcal/internal/config"
	"hangoutcal/internal/model"
	"hangoutcal/internal/slot"
)

const selectionYAML = `mode: timeslots
duration_minutes: 60
slots:
  - {date: "2024-06-01", hour: 10, minute: 0}
  - {date: "2024-06-01", hour: 10, minute: 30}
  - {date: "2024-06-01", hour: 11, minute: 0}
  - {date: "2024-06-01", hour: 10, minute: 0}
ranges:
  - {date: "2024-06-02", from: "14:00", to: "15:00"}
`

type onceOutput struct {
	SessionID       string `json:"session_id"`
	Mode            string `json:"mode"`
	DurationMinutes int    `json:"duration_minutes"`
	PollID          string `json:"poll_id"`
	Ranges          []struct {
		Label     string   `json:"label"`
		Conflicts []string `json:"conflicts"`
	} `json:"ranges"`
}

func writeSelection(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "selection.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func lunchProvider() busy.Provider {
	return busy.ProviderFunc(func(_ context.Context, day time.Time) ([]model.Event, error) {
		if day.Day() != 1 {
			return nil, nil
		}
		return []model.Event{{Title: "Coffee", Start: day.Add(11 * time.Hour), End: day.Add(11*time.Hour + 30*time.Minute)}}, nil
	})
}

func TestRunOnce(t *testing.T) {
	conf := config.DefaultConfig()
	index := busy.NewIndex(time.UTC, nil)
	var out, polls bytes.Buffer

	err := runOnce(context.Background(), conf, index, lunchProvider(), writeSelection(t, selectionYAML), newLogPollCreator(&polls), &out)
	require.NoError(t, err)

	var got onceOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &got), out.String())
	assert.Equal(t, "timeslots", got.Mode)
	assert.Equal(t, 60, got.DurationMinutes)
	require.Len(t, got.Ranges, 3)
	assert.Equal(t, "Sat Jun 1 10:00–11:00", got.Ranges[0].Label)
	assert.Empty(t, got.Ranges[0].Conflicts)
	assert.Equal(t, []string{"Coffee"}, got.Ranges[1].Conflicts)
	assert.Equal(t, "Sun Jun 2 14:00–15:00", got.Ranges[2].Label)

	assert.NotEmpty(t, got.PollID)
	assert.Contains(t, polls.String(), got.SessionID)
	assert.Equal(t, []string{"2024-06-01", "2024-06-02"}, index.Days())
}

func TestRunOnceWithoutSubmit(t *testing.T) {
	var out bytes.Buffer
	err := runOnce(context.Background(), config.DefaultConfig(), busy.NewIndex(time.UTC, nil), nil,
		writeSelection(t, "slots:\n  - {date: \"2024-06-01\", hour: 9, minute: 0}\n"), nil, &out)
	require.NoError(t, err)

	var got onceOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, "availability", got.Mode)
	assert.Empty(t, got.PollID)
	require.Len(t, got.Ranges, 1)
}

func TestRunOnceRejectsBadSelection(t *testing.T) {
	conf := config.DefaultConfig()
	cases := map[string]string{
		"bad yaml":       "slots: [",
		"bad mode":       "mode: weekly\n",
		"bad duration":   "mode: timeslots\nduration_minutes: 45\n",
		"bad date":       "slots:\n  - {date: \"01/06/2024\", hour: 9, minute: 0}\n",
		"off grid":       "slots:\n  - {date: \"2024-06-01\", hour: 9, minute: 10}\n",
		"off-grid range": "ranges:\n  - {date: \"2024-06-01\", from: \"14:15\", to: \"15:15\"}\n",
		"empty range":    "ranges:\n  - {date: \"2024-06-01\", from: \"10:00\", to: \"10:00\"}\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			var out bytes.Buffer
			err := runOnce(context.Background(), conf, busy.NewIndex(time.UTC, nil), nil, writeSelection(t, body), nil, &out)
			assert.Error(t, err)
			assert.Zero(t, out.Len())
		})
	}
}

func TestSelectionDays(t *testing.T) {
	d1 := time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)
	d2 := d1.AddDate(0, 0, 1)
	days := selectionDays([]slot.Slot{slot.New(d1, 9, 0), slot.New(d1, 9, 30), slot.New(d2, 8, 0)})
	require.Len(t, days, 2)
	assert.True(t, days[1].Equal(d2))
}
