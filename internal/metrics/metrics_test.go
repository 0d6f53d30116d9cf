package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, r *Recorder, name, label, value string) float64 {
	t.Helper()
	families, err := r.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestRecorderCounts(t *testing.T) {
	r := New()
	r.ObserveFetch("ok")
	r.ObserveFetch("ok")
	r.ObserveFetch("error")
	r.ObservePopulate(true)
	r.ObservePopulate(false)
	r.ObserveRanges("timeslots", 4, time.Millisecond)

	assert.Equal(t, 2.0, counterValue(t, r, "hangoutcal_ics_fetch_total", "result", "ok"))
	assert.Equal(t, 1.0, counterValue(t, r, "hangoutcal_ics_fetch_total", "result", "error"))
	assert.Equal(t, 1.0, counterValue(t, r, "hangoutcal_index_populate_total", "result", "error"))
	assert.Equal(t, 4.0, counterValue(t, r, "hangoutcal_ranges_computed_total", "mode", "timeslots"))

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hangoutcal_range_compute_seconds_count 1")
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.ObserveFetch("ok")
	r.ObservePopulate(true)
	r.ObserveRanges("availability", 1, time.Second)
	assert.Nil(t, r.Registry())

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
