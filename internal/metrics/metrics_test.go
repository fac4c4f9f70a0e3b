package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMustRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	MustRegister(reg)

	// Registering the same collectors twice must panic (prometheus contract).
	defer func() {
		if recover() == nil {
			t.Error("MustRegister() twice did not panic")
		}
	}()
	MustRegister(reg)
}

func TestRecordDelivery(t *testing.T) {
	before := testutil.ToFloat64(DeliveriesTotal.WithLabelValues("succeeded"))
	RecordDelivery("succeeded", 120*time.Millisecond)
	after := testutil.ToFloat64(DeliveriesTotal.WithLabelValues("succeeded"))
	if after != before+1 {
		t.Errorf("DeliveriesTotal{succeeded} = %v, want %v", after, before+1)
	}
}

func TestRecordRetryAndDeadLetter(t *testing.T) {
	before := testutil.ToFloat64(RetriesTotal.WithLabelValues("http_5xx"))
	RecordRetry("http_5xx")
	if got := testutil.ToFloat64(RetriesTotal.WithLabelValues("http_5xx")); got != before+1 {
		t.Errorf("RetriesTotal{http_5xx} = %v, want %v", got, before+1)
	}

	beforeDL := testutil.ToFloat64(DeadLettersTotal)
	RecordDeadLetter()
	if got := testutil.ToFloat64(DeadLettersTotal); got != beforeDL+1 {
		t.Errorf("DeadLettersTotal = %v, want %v", got, beforeDL+1)
	}
}

func TestUpdateBacklog(t *testing.T) {
	UpdateBacklog("pending", 42)
	if got := testutil.ToFloat64(Backlog.WithLabelValues("pending")); got != 42 {
		t.Errorf("Backlog{pending} = %v, want 42", got)
	}
	UpdateBacklog("pending", 0)
	if got := testutil.ToFloat64(Backlog.WithLabelValues("pending")); got != 0 {
		t.Errorf("Backlog{pending} = %v, want 0", got)
	}
}
