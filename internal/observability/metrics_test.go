package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordTransition("in_service")
	m.RecordTransition("in_service")
	m.RecordRejection("assign_technician", "FORBIDDEN")
	m.RecordObserverDelivery("failed")
	m.RecordUnjournaled(3)
	m.RecordUnjournaled(0)
	m.RecordDanglingTransitions(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("in_service")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejections.WithLabelValues("assign_technician", "FORBIDDEN")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.observerDeliveries.WithLabelValues("failed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.unjournaledTickets))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.danglingTransitions))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRequest("/x", "GET", 200, time.Millisecond)
		m.RecordError("/x", "GET", "NOT_FOUND")
		m.RecordTransition("created")
		m.RecordRejection("update_state", "BAD_REQUEST")
		m.RecordObserverDelivery("sent")
		m.RecordStateMachineLookup("memory")
		m.RecordUnjournaled(1)
		m.RecordDanglingTransitions(1)
	})
}
