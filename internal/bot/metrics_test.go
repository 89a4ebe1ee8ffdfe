package bot

import (
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordClose_AccumulatesRealizedPnl(t *testing.T) {
	before := testutil.ToFloat64(RealizedPnlTotal)
	wins := testutil.ToFloat64(ClosedGroups.WithLabelValues("metrics-test", "win"))
	losses := testutil.ToFloat64(ClosedGroups.WithLabelValues("metrics-test", "loss"))

	RecordClose("metrics-test", 12.5)
	RecordClose("metrics-test", -2.5)

	if got := testutil.ToFloat64(RealizedPnlTotal) - before; math.Abs(got-10) > floatEpsilon {
		t.Errorf("реализованный PnL: ожидали +10, получили %v", got)
	}
	if got := testutil.ToFloat64(ClosedGroups.WithLabelValues("metrics-test", "win")) - wins; got != 1 {
		t.Errorf("win: ожидали 1, получили %v", got)
	}
	if got := testutil.ToFloat64(ClosedGroups.WithLabelValues("metrics-test", "loss")) - losses; got != 1 {
		t.Errorf("loss: ожидали 1, получили %v", got)
	}
}
