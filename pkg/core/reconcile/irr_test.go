package reconcile

import (
	"math"
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestCalculateXIRRSimpleRoundTrip(t *testing.T) {
	events := []CashflowEvent{
		{Date: date(2020, 1, 1), Amount: -1_000_000},
		{Date: date(2021, 1, 1), Amount: 1_100_000},
	}
	irr := CalculateXIRR(events)
	if math.Abs(irr-0.10) > 0.01 {
		t.Errorf("CalculateXIRR = %v, want approximately 0.10", irr)
	}
}

func TestCalculateXIRRMultipleCashflows(t *testing.T) {
	events := []CashflowEvent{
		{Date: date(2018, 1, 1), Amount: -5_000_000},
		{Date: date(2019, 1, 1), Amount: -3_000_000},
		{Date: date(2020, 1, 1), Amount: 2_000_000},
		{Date: date(2022, 1, 1), Amount: 10_000_000},
	}
	irr := CalculateXIRR(events)
	if irr <= 0 {
		t.Errorf("expected a positive IRR for a profitable series, got %v", irr)
	}
}

func TestCalculateXIRRTooFewEventsReturnsZero(t *testing.T) {
	if irr := CalculateXIRR([]CashflowEvent{{Date: date(2020, 1, 1), Amount: -1}}); irr != 0 {
		t.Errorf("expected 0 for a single cashflow, got %v", irr)
	}
}
