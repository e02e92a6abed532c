package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveDispatchDefaultsOutcome(t *testing.T) {
	before := testutil.ToFloat64(Dispatches.WithLabelValues("direct", "ok"))
	ObserveDispatch("direct", "")
	if got := testutil.ToFloat64(Dispatches.WithLabelValues("direct", "ok")); got != before+1 {
		t.Fatalf("ok counter = %v, want %v", got, before+1)
	}
}

func TestObserveCycleSetsGauge(t *testing.T) {
	ObserveCycle(10*time.Millisecond, 7)
	if got := testutil.ToFloat64(PendingItems); got != 7 {
		t.Fatalf("pending gauge = %v, want 7", got)
	}
}
