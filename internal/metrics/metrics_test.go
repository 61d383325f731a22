package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoring_Singleton(t *testing.T) {
	assert.Same(t, Scoring(), Scoring())
}

func TestNilMetrics(t *testing.T) {
	var m *ScoringMetrics
	assert.NotPanics(t, func() {
		m.ObserveCircle("applied")
		m.ObserveReactions("added", 1)
		m.ObserveInvariantFault("circle")
		m.ObserveRating("published")
	})
}

func TestHandler_ExposesCounters(t *testing.T) {
	m := Scoring()
	m.ObserveCircle("applied")
	m.ObserveReactions("added", 2)
	m.ObserveReactions("removed", 0)
	m.ObserveInvariantFault("reaction")
	m.ObserveRating("published")

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, `circles_events_total{outcome="applied"}`)
	assert.Contains(t, text, `circles_reactions_total{direction="added"} 2`)
	assert.NotContains(t, text, `direction="removed"`)
	assert.Contains(t, text, `circles_invariant_faults_total{event="reaction"}`)
	assert.Contains(t, text, `circles_ratings_total{result="published"}`)
}

func TestServe_EmptyAddr(t *testing.T) {
	assert.NoError(t, Serve(context.Background(), ""))
}
