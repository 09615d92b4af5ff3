package bot

import (
	"testing"
	"time"
)

// ============================================================================
// TEST CASES: BOUNDARY REMAINING
// ============================================================================

// TestBoundaryRemainingHourly verifies remaining time on the hourly grid
func TestBoundaryRemainingHourly(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 45, 0, 0, time.UTC)

	rem, err := BoundaryRemaining("1h", now)
	if err != nil {
		t.Fatalf("BoundaryRemaining failed: %v", err)
	}
	if rem != 15*time.Minute {
		t.Errorf("Expected 15m remaining, got %v", rem)
	}
}

// TestBoundaryRemainingFourHour verifies the 4h grid is anchored at midnight
func TestBoundaryRemainingFourHour(t *testing.T) {
	now := time.Date(2026, 3, 10, 5, 0, 0, 0, time.UTC)

	rem, err := BoundaryRemaining("4h", now)
	if err != nil {
		t.Fatalf("BoundaryRemaining failed: %v", err)
	}
	// Current 4h candle runs 04:00-08:00.
	if rem != 3*time.Hour {
		t.Errorf("Expected 3h remaining, got %v", rem)
	}
}

// TestBoundaryRemainingWeekly verifies weekly candles close Monday midnight
func TestBoundaryRemainingWeekly(t *testing.T) {
	// A Wednesday.
	now := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)

	rem, err := BoundaryRemaining("1w", now)
	if err != nil {
		t.Fatalf("BoundaryRemaining failed: %v", err)
	}
	// Next Monday is 2026-03-16.
	if rem != 5*24*time.Hour {
		t.Errorf("Expected 5 days remaining, got %v", rem)
	}
}

// TestBoundaryRemainingMonthly verifies monthly candles close on the first
func TestBoundaryRemainingMonthly(t *testing.T) {
	now := time.Date(2026, 2, 27, 12, 0, 0, 0, time.UTC)

	rem, err := BoundaryRemaining("1M", now)
	if err != nil {
		t.Fatalf("BoundaryRemaining failed: %v", err)
	}
	// 2026 is not a leap year; next boundary is 2026-03-01 00:00.
	if rem != 36*time.Hour {
		t.Errorf("Expected 36h remaining, got %v", rem)
	}
}

// TestBoundaryRemainingThreeDayAnchor verifies the 3d grid pivot
func TestBoundaryRemainingThreeDayAnchor(t *testing.T) {
	// Exactly one day after an anchor-aligned boundary.
	now := threeDayAnchor.Add(6*72*time.Hour + 24*time.Hour)

	rem, err := BoundaryRemaining("3d", now)
	if err != nil {
		t.Fatalf("BoundaryRemaining failed: %v", err)
	}
	if rem != 48*time.Hour {
		t.Errorf("Expected 48h remaining, got %v", rem)
	}
}

// TestBoundaryRemainingUnknownInterval verifies the config error path
func TestBoundaryRemainingUnknownInterval(t *testing.T) {
	if _, err := BoundaryRemaining("7m", time.Now()); err == nil {
		t.Error("Expected error for unsupported timeframe")
	}
}

// TestBoundaryRemainingAtExactBoundary verifies a full interval is reported
// at the instant of a boundary, not zero
func TestBoundaryRemainingAtExactBoundary(t *testing.T) {
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)

	rem, err := BoundaryRemaining("1h", now)
	if err != nil {
		t.Fatalf("BoundaryRemaining failed: %v", err)
	}
	if rem != time.Hour {
		t.Errorf("Expected full hour at the boundary instant, got %v", rem)
	}
}

// ============================================================================
// TEST CASES: CROSSING DETECTION
// ============================================================================

// TestDetectorFiresOnceAtIncrease verifies the trigger fires exactly once,
// at the increase in remaining time
func TestDetectorFiresOnceAtIncrease(t *testing.T) {
	detector := &boundaryDetector{}

	sequence := []time.Duration{
		50 * time.Second,
		40 * time.Second,
		30 * time.Second,
		20 * time.Second,
		10 * time.Second,
		59 * time.Second, // boundary crossed here
		49 * time.Second,
		39 * time.Second,
	}

	fires := 0
	firedAt := -1
	for i, rem := range sequence {
		if detector.Crossed(rem) {
			fires++
			firedAt = i
		}
	}

	if fires != 1 {
		t.Errorf("Expected exactly 1 trigger, got %d", fires)
	}
	if firedAt != 5 {
		t.Errorf("Expected trigger at index 5, got %d", firedAt)
	}
}

// TestDetectorSelfHealsAfterStall verifies a late poll still detects the
// crossing
func TestDetectorSelfHealsAfterStall(t *testing.T) {
	detector := &boundaryDetector{}

	// Poll, long stall across a boundary, then poll again: remaining went
	// from 5s to 55s of the next candle.
	if detector.Crossed(5 * time.Second) {
		t.Error("First poll must not fire")
	}
	if !detector.Crossed(55 * time.Second) {
		t.Error("Expected crossing detected after stall")
	}
}

// TestDetectorDoesNotFireOnFirstPoll verifies the detector needs a baseline
func TestDetectorDoesNotFireOnFirstPoll(t *testing.T) {
	detector := &boundaryDetector{}
	if detector.Crossed(time.Hour) {
		t.Error("Detector must not fire without a previous observation")
	}
}
