package clock

import (
	"testing"
	"time"
)

func TestFakeTickerFiresOnAdvance(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFake(start)

	ticker := f.NewTicker(10 * time.Second)
	defer ticker.Stop()

	f.Advance(9 * time.Second)
	select {
	case <-ticker.C:
		t.Fatal("ticker fired before its interval")
	default:
	}

	f.Advance(time.Second)
	select {
	case got := <-ticker.C:
		if want := start.Add(10 * time.Second); !got.Equal(want) {
			t.Errorf("tick time = %v, want %v", got, want)
		}
	default:
		t.Fatal("ticker did not fire at its interval")
	}

	if got := f.Now(); !got.Equal(start.Add(10 * time.Second)) {
		t.Errorf("Now() = %v", got)
	}
}

func TestFakeStoppedTickerIsSilent(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	ticker := f.NewTicker(time.Second)
	ticker.Stop()

	f.Advance(5 * time.Second)
	select {
	case <-ticker.C:
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestWaitForTickers(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	done := make(chan struct{})

	go func() {
		f.WaitForTickers(1)
		close(done)
	}()

	f.NewTicker(time.Second)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitForTickers did not return")
	}
}
