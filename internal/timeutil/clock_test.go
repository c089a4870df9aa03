package timeutil

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

func TestRealClock(t *testing.T) {
	var c Clock = RealClock{}
	before := time.Now()
	if c.Now().Before(before) {
		t.Error("Now() went backwards")
	}
	if d := c.Since(before); d < 0 {
		t.Errorf("Since() = %v, want >= 0", d)
	}

	tk := c.NewTicker(time.Millisecond)
	defer tk.Stop()
	select {
	case <-tk.C():
	case <-time.After(time.Second):
		t.Fatal("real ticker did not fire")
	}
}

func TestMockClock_AdvanceAndSet(t *testing.T) {
	c := NewMockClock(epoch)
	if got := c.Now(); !got.Equal(epoch) {
		t.Errorf("Now() = %v, want %v", got, epoch)
	}

	c.Advance(90 * time.Second)
	if got, want := c.Now(), epoch.Add(90*time.Second); !got.Equal(want) {
		t.Errorf("after Advance, Now() = %v, want %v", got, want)
	}
	if got := c.Since(epoch); got != 90*time.Second {
		t.Errorf("Since() = %v, want 90s", got)
	}

	c.Set(epoch)
	if got := c.Now(); !got.Equal(epoch) {
		t.Errorf("after Set, Now() = %v, want %v", got, epoch)
	}
}

func TestMockTicker(t *testing.T) {
	c := NewMockClock(epoch)
	tk := c.NewTicker(time.Minute)
	if n := c.Tickers(); n != 1 {
		t.Fatalf("Tickers() = %d, want 1", n)
	}

	c.Advance(30 * time.Second)
	select {
	case <-tk.C():
		t.Fatal("fired before the interval elapsed")
	default:
	}

	c.Advance(30 * time.Second)
	select {
	case got := <-tk.C():
		if want := epoch.Add(time.Minute); !got.Equal(want) {
			t.Errorf("tick at %v, want %v", got, want)
		}
	default:
		t.Fatal("did not fire at the interval")
	}

	// A long jump delivers one tick and schedules the next after now.
	c.Advance(5 * time.Minute)
	<-tk.C()
	c.Advance(30 * time.Second)
	select {
	case <-tk.C():
		t.Fatal("ticks were not coalesced")
	default:
	}

	tk.Stop()
	if n := c.Tickers(); n != 0 {
		t.Errorf("Tickers() after Stop = %d, want 0", n)
	}
	c.Advance(time.Hour)
	select {
	case <-tk.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestMockClock_RejectsZeroInterval(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("NewTicker(0) did not panic")
		}
	}()
	NewMockClock(epoch).NewTicker(0)
}
