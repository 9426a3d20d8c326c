package clock

import (
	"testing"
	"time"
)

func TestRealNow(t *testing.T) {
	before := time.Now()
	got := Real{}.Now()
	after := time.Now()
	if got.Before(before) || got.After(after) {
		t.Errorf("Now() = %v, outside [%v, %v]", got, before, after)
	}
}

func TestFake(t *testing.T) {
	start := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	f := NewFake(start)

	if !f.Now().Equal(start) {
		t.Errorf("Now() = %v, want %v", f.Now(), start)
	}

	f.Advance(90 * time.Second)
	if want := start.Add(90 * time.Second); !f.Now().Equal(want) {
		t.Errorf("after Advance: %v, want %v", f.Now(), want)
	}

	reset := start.Add(-time.Hour)
	f.Set(reset)
	if !f.Now().Equal(reset) {
		t.Errorf("after Set: %v, want %v", f.Now(), reset)
	}
}

func TestFakeDoesNotTick(t *testing.T) {
	f := NewFake(time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC))
	first := f.Now()
	time.Sleep(time.Millisecond)
	if !f.Now().Equal(first) {
		t.Error("a fake clock must not move on its own")
	}
}
