package models

import (
	"testing"
	"time"
)

func TestCampaignCadenceWeeks(t *testing.T) {
	tests := map[int]int{1: 1, 7: 1, 8: 2, 14: 2, 30: 5}
	for days, want := range tests {
		c := &Campaign{CadenceDays: days}
		if got := c.CadenceWeeks(); got != want {
			t.Errorf("CadenceWeeks(%d days) = %d, want %d", days, got, want)
		}
	}
}

func TestDeliveryStatusPredecessors(t *testing.T) {
	if got := DeliveryPending.Predecessors(); len(got) != 0 {
		t.Errorf("PENDING predecessors = %v, want none", got)
	}
	found := false
	for _, p := range DeliveryBounced.Predecessors() {
		if p == DeliveryDelivered {
			found = true
		}
	}
	if !found {
		t.Error("a delivered message should still be able to bounce")
	}
	if !DeliverySent.Settled() || DeliveryPending.Settled() {
		t.Error("Settled() mismatch")
	}
}

func TestMaxDurationElapsed(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	unbounded := &Campaign{}
	if unbounded.MaxDurationElapsed(start, start.AddDate(5, 0, 0)) {
		t.Error("unbounded campaign elapsed")
	}
	c := &Campaign{MaxDurationDays: 30}
	if c.MaxDurationElapsed(start, start.AddDate(0, 0, 29)) {
		t.Error("elapsed before max duration")
	}
	if !c.MaxDurationElapsed(start, start.AddDate(0, 0, 31)) {
		t.Error("not elapsed after max duration")
	}
}
