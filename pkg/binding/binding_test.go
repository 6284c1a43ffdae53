package binding

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleLog = `[
  {"type":"plant","timestamp":"2025-03-10T10:00:00Z","client_id":"a","plant_id":"p1","plot_id":"bed","species":"fern","cost":10},
  {"type":"water","timestamp":"2025-03-10T11:00:00Z","client_id":"b","plant_id":"p1"},
  {"type":"sing","timestamp":"2025-03-10T11:30:00Z","client_id":"c","volume":11},
  7
]`

func TestDerive(t *testing.T) {
	out, err := Derive(sampleLog, `{"timezone":"UTC"}`)
	require.NoError(t, err)

	var got struct {
		State struct {
			Energy struct {
				Capacity  float64 `json:"capacity"`
				Available float64 `json:"available"`
			} `json:"energy"`
			Plants      map[string]json.RawMessage `json:"plants"`
			Diagnostics struct {
				Unknown int `json:"unknown"`
			} `json:"diagnostics"`
		} `json:"state"`
		Dropped int `json:"dropped"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, 100.0, got.State.Energy.Capacity)
	assert.Equal(t, 90.5, got.State.Energy.Available)
	assert.Contains(t, got.State.Plants, "p1")
	assert.Equal(t, 1, got.State.Diagnostics.Unknown)
	assert.Equal(t, 1, got.Dropped)
}

func TestDerive_EmptyLog(t *testing.T) {
	out, err := Derive("", "")
	require.NoError(t, err)
	assert.Contains(t, out, `"available":100`)
}

func TestRules_Overrides(t *testing.T) {
	r, err := Rules(`{"max_capacity":150,"daily_hour":6,"weekly_day":0,"timezone":"Asia/Tokyo"}`)
	require.NoError(t, err)
	assert.Equal(t, 150.0, r.MaxCapacity)
	assert.Equal(t, 6, r.Boundary.DailyHour)
	assert.Equal(t, "Asia/Tokyo", r.Boundary.Location.String())
	assert.Equal(t, 100.0, r.StartCapacity)

	for _, bad := range []string{`{"weekly_day":9}`, `{"daily_hour":24}`, `{"timezone":"Nowhere/Land"}`, `nope`} {
		_, err := Rules(bad)
		assert.Error(t, err, bad)
	}
}

func TestCapacityHistory(t *testing.T) {
	out, err := CapacityHistory(sampleLog, "")
	require.NoError(t, err)
	var points []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &points))
	assert.Len(t, points, 2)

	out, err = CapacityHistory("[]", "")
	require.NoError(t, err)
	assert.Equal(t, "[]", out)
}

func TestAllowances(t *testing.T) {
	out, err := Allowances(sampleLog, `{"timezone":"UTC"}`, "2025-03-10T12:00:00Z")
	require.NoError(t, err)

	var got struct {
		WaterRemaining     int    `json:"water_remaining"`
		ExpansionRemaining int    `json:"expansion_remaining"`
		NextDailyReset     string `json:"next_daily_reset"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, 4, got.WaterRemaining)
	assert.Equal(t, 2, got.ExpansionRemaining)
	assert.Equal(t, "2025-03-11T04:00:00Z", got.NextDailyReset)

	_, err = Allowances(sampleLog, "", "yesterday")
	assert.Error(t, err)
}

func TestNewEvent(t *testing.T) {
	out, err := NewEvent(`{"type":"water","plant_id":"p1"}`, "2025-03-10T12:00:00Z")
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "water", got["type"])
	assert.Equal(t, "2025-03-10T12:00:00Z", got["timestamp"])
	assert.NotEmpty(t, got["client_id"])

	_, err = NewEvent(`{"type":"water"}`, "2025-03-10T12:00:00Z")
	assert.Error(t, err)
}

func TestBoundaries(t *testing.T) {
	out, err := Boundaries(`{"timezone":"UTC"}`, "2025-03-12T03:00:00Z")
	require.NoError(t, err)
	assert.JSONEq(t, `{"day_start":"2025-03-11T04:00:00Z","week_start":"2025-03-10T04:00:00Z"}`, out)
}
