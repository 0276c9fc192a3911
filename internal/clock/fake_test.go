package clock

import (
	"testing"
	"time"
)

func TestFakeAfterFiresOnAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFake(start)

	ch := f.After(time.Minute)
	select {
	case <-ch:
		t.Fatal("expected After to not fire before the deadline")
	default:
	}

	f.Advance(30 * time.Second)
	select {
	case <-ch:
		t.Fatal("expected After to not fire before the full duration elapses")
	default:
	}

	f.Advance(30 * time.Second)
	select {
	case got := <-ch:
		want := start.Add(time.Minute)
		if !got.Equal(want) {
			t.Fatalf("expected fire time %v, got %v", want, got)
		}
	default:
		t.Fatal("expected After to fire once the deadline is reached")
	}
}

func TestFakeAfterNonPositiveFiresImmediately(t *testing.T) {
	f := NewFake(time.Now())
	ch := f.After(0)
	select {
	case <-ch:
	default:
		t.Fatal("expected a non-positive duration to fire immediately")
	}
}
