package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Collector) float64 {
	t.Helper()
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	m := <-ch
	var pb dto.Metric
	require.NoError(t, m.Write(&pb))
	return pb.GetCounter().GetValue()
}

func TestRecorderIncrementsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)

	r.RecordBudgetTrip()
	r.RecordBudgetTrip()
	require.Equal(t, float64(2), counterValue(t, r.budgetTripsTotal))

	r.RecordCollisionDenial()
	require.Equal(t, float64(1), counterValue(t, r.collisionDenialsTotal))

	r.RecordRejection("PLAN_SCOPE_VIOLATION")
	r.RecordPromotion("contested", "validated")
	r.ObserveTurn("submit_plan_graph", 12*time.Millisecond)
}

func TestHandlerServesExposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)
	r.RecordBudgetTrip()

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)
}
