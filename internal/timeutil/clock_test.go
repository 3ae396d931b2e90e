package timeutil

import (
	"testing"
	"time"
)

func TestRealClock(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	if now := clock.Now(); now.Before(before) {
		t.Errorf("RealClock.Now() = %v, before %v", now, before)
	}

	ticker := clock.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	select {
	case <-ticker.C():
	case <-time.After(time.Second):
		t.Fatal("ticker did not fire")
	}
}

func TestMockClock_Advance(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)
	if !clock.Now().Equal(start) {
		t.Fatalf("Now() = %v, want %v", clock.Now(), start)
	}
	clock.Advance(250 * time.Millisecond)
	if got := clock.Now().Sub(start); got != 250*time.Millisecond {
		t.Errorf("advanced %v, want 250ms", got)
	}
}

func TestMockTicker(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	ticker := clock.NewTicker(30 * time.Millisecond)
	if clock.Tickers() != 1 {
		t.Fatalf("Tickers() = %d, want 1", clock.Tickers())
	}

	clock.Advance(20 * time.Millisecond)
	select {
	case <-ticker.C():
		t.Fatal("ticker fired early")
	default:
	}

	clock.Advance(10 * time.Millisecond)
	select {
	case <-ticker.C():
	default:
		t.Fatal("ticker did not fire at its period")
	}

	// a long jump delivers one tick and schedules the next after now
	clock.Advance(100 * time.Millisecond)
	<-ticker.C()
	clock.Advance(10 * time.Millisecond)
	select {
	case <-ticker.C():
		t.Fatal("ticker fired before its rescheduled period")
	default:
	}

	ticker.Stop()
	clock.Advance(time.Second)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestThrottle(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	th := NewThrottle(clock, 100*time.Millisecond)

	steps := []struct {
		advance time.Duration
		want    bool
	}{
		{0, true},
		{50 * time.Millisecond, false},
		{60 * time.Millisecond, true},
		{99 * time.Millisecond, false},
		{time.Millisecond, true},
	}
	for i, s := range steps {
		clock.Advance(s.advance)
		if got := th.Allow(); got != s.want {
			t.Errorf("step %d: Allow() = %v, want %v", i, got, s.want)
		}
	}
}

func TestThrottle_ZeroInterval(t *testing.T) {
	th := NewThrottle(NewMockClock(time.Unix(0, 0)), 0)
	for i := 0; i < 3; i++ {
		if !th.Allow() {
			t.Fatalf("call %d throttled with zero interval", i)
		}
	}
}
