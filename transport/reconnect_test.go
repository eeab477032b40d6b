package transport

import (
	"testing"
	"time"
)

func TestExponentialScheduleGrowsAndCaps(t *testing.T) {
	t.Parallel()
	policy := NewExponentialReconnectionPolicy(10*time.Millisecond, 100*time.Millisecond)
	sched := policy.NewSchedule()

	d1, ok := sched.Next()
	if !ok || d1 != 10*time.Millisecond {
		t.Fatalf("first delay = %v, ok=%v, want 10ms,true", d1, ok)
	}
	d2, _ := sched.Next()
	if d2 != 20*time.Millisecond {
		t.Fatalf("second delay = %v, want 20ms", d2)
	}
	d3, _ := sched.Next()
	if d3 != 40*time.Millisecond {
		t.Fatalf("third delay = %v, want 40ms", d3)
	}

	// Keep drawing delays until the schedule caps at max.
	var last time.Duration
	for i := 0; i < 10; i++ {
		last, _ = sched.Next()
	}
	if last != 100*time.Millisecond {
		t.Fatalf("schedule should clamp at max, got %v", last)
	}
}

func TestExponentialScheduleNeverExhausts(t *testing.T) {
	t.Parallel()
	sched := NewExponentialReconnectionPolicy(0, 0).NewSchedule()
	for i := 0; i < 5; i++ {
		if _, ok := sched.Next(); !ok {
			t.Fatal("default exponential schedule must never report exhausted")
		}
	}
}

func TestExponentialScheduleIndependentPerOutage(t *testing.T) {
	t.Parallel()
	policy := NewExponentialReconnectionPolicy(5*time.Millisecond, time.Second)
	s1 := policy.NewSchedule()
	s1.Next()
	s1.Next()

	s2 := policy.NewSchedule()
	d, _ := s2.Next()
	if d != 5*time.Millisecond {
		t.Fatalf("a fresh schedule must restart from base, got %v", d)
	}
}
