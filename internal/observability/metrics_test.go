package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("mcsimd", "GET", "/health", 200, 12*time.Millisecond)
	RecordPortalCommand("dprc.open", "OK", time.Millisecond)
	RecordSimCommand("dprc.open", "OK")

	before := counterValue(t, portalTransportFailures)
	RecordPortalTransportFailure()
	if got := counterValue(t, portalTransportFailures); got != before+1 {
		t.Fatalf("transport failures = %v, want %v", got, before+1)
	}
	if got := counterValue(t, simCommands.WithLabelValues("dprc.open", "OK")); got < 1 {
		t.Fatalf("sim command not recorded: %v", got)
	}
}
