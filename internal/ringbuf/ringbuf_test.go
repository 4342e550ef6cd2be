package ringbuf

import (
	"sync"
	"testing"
	"time"

	"signaltrader/internal/model"
)

func point(equity float64) model.EquityPoint {
	return model.EquityPoint{Time: time.Unix(int64(equity), 0).UTC(), Equity: equity}
}

func TestRing_PushAndRecent(t *testing.T) {
	r := New(4)

	r.Push(point(100))
	r.Push(point(101))

	if r.Len() != 2 {
		t.Fatalf("expected len=2, got %d", r.Len())
	}

	got := r.Recent(0)
	if len(got) != 2 {
		t.Fatalf("expected 2 points, got %d", len(got))
	}
	if got[0].Equity != 100 || got[1].Equity != 101 {
		t.Fatalf("expected oldest-first [100 101], got [%v %v]", got[0].Equity, got[1].Equity)
	}
}

func TestRing_OverwritesOldest(t *testing.T) {
	r := New(3)

	for i := 0; i < 5; i++ {
		r.Push(point(float64(i)))
	}

	if r.Len() != 3 {
		t.Fatalf("expected len=3 after overflow, got %d", r.Len())
	}
	got := r.Recent(0)
	want := []float64{2, 3, 4}
	for i, w := range want {
		if got[i].Equity != w {
			t.Fatalf("at %d: expected %v, got %v", i, w, got[i].Equity)
		}
	}
}

func TestRing_RecentLimit(t *testing.T) {
	r := New(8)
	for i := 0; i < 6; i++ {
		r.Push(point(float64(i)))
	}

	got := r.Recent(2)
	if len(got) != 2 {
		t.Fatalf("expected 2 points, got %d", len(got))
	}
	if got[0].Equity != 4 || got[1].Equity != 5 {
		t.Fatalf("expected newest window [4 5], got [%v %v]", got[0].Equity, got[1].Equity)
	}

	// Asking for more than held caps at Len.
	got = r.Recent(100)
	if len(got) != 6 {
		t.Fatalf("expected 6 points, got %d", len(got))
	}
}

func TestRing_MinimumCapacity(t *testing.T) {
	r := New(0)
	if r.Cap() != 2 {
		t.Fatalf("expected minimum capacity 2, got %d", r.Cap())
	}
}

func TestRing_ConcurrentPushRecent(t *testing.T) {
	const count = 10_000
	r := New(256)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < count; i++ {
			r.Push(point(float64(i)))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < count; i++ {
			pts := r.Recent(16)
			for j := 1; j < len(pts); j++ {
				if pts[j].Equity < pts[j-1].Equity {
					t.Error("points out of order within snapshot")
					return
				}
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("concurrent test timed out")
	}
}
