package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew(t *testing.T) {
	m := New()
	if m == nil {
		t.Fatal("New() returned nil")
	}
	if m.Registry() == nil {
		t.Error("Registry() returned nil")
	}

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	// histograms and plain gauges are exported before any observation
	for _, want := range []string{
		"photocrm_drip_tick_duration_seconds",
		"photocrm_drip_due_subscriptions",
	} {
		if !names[want] {
			t.Errorf("metric %s not registered", want)
		}
	}
}

func TestGlobalMetrics(t *testing.T) {
	SetGlobal(nil)
	if Global() != nil {
		t.Error("Global() should be nil after SetGlobal(nil)")
	}

	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	if Global() != m {
		t.Error("Global() did not return the set metrics")
	}
}

func TestHelpers(t *testing.T) {
	m := New()
	SetGlobal(m)
	defer SetGlobal(nil)

	IncDeliveries(OutcomeSent)
	IncDeliveries(OutcomeSent)
	IncDeliveries(OutcomeRetried)
	SetDueSubscriptions(7)
	IncSubscriptionsEnded("sequence_finished")
	IncAutomationExecutions("STAGE_CHANGE", "already_executed")
	IncDeliveryStatusUpdates("DELIVERED", false)
	ObserveTick(0.25)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"sent", testutil.ToFloat64(m.DeliveriesTotal.WithLabelValues(OutcomeSent)), 2},
		{"retried", testutil.ToFloat64(m.DeliveriesTotal.WithLabelValues(OutcomeRetried)), 1},
		{"due", testutil.ToFloat64(m.DueSubscriptions), 7},
		{"ended", testutil.ToFloat64(m.SubscriptionsEndedTotal.WithLabelValues("sequence_finished")), 1},
		{"executions", testutil.ToFloat64(m.AutomationExecutionsTotal.WithLabelValues("STAGE_CHANGE", "already_executed")), 1},
		{"status updates", testutil.ToFloat64(m.DeliveryStatusUpdatesTotal.WithLabelValues("DELIVERED", "false")), 1},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
	if n := testutil.CollectAndCount(m.TickDurationSeconds); n != 1 {
		t.Errorf("tick histogram series = %d, want 1", n)
	}
}

func TestHelpersWithoutGlobal(t *testing.T) {
	SetGlobal(nil)

	// Should not panic when global metrics is nil
	IncDeliveries(OutcomeFailed)
	ObserveTick(1)
	SetDueSubscriptions(1)
	IncSubscriptionsEnded("unsubscribed")
	IncAutomationExecutions("COUNTDOWN", "executed")
	IncDeliveryStatusUpdates("SENT", true)
	IncAPIErrors("server_error")
}
