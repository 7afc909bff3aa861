package ringbuf

import (
	"sync"
	"testing"
	"time"

	"scalper-systemv1/internal/model"
)

func TestRing_FIFOOrder(t *testing.T) {
	r := New(4)

	tokens := []string{"NIFTY26AUG24500CE", "NIFTY26AUG24500PE", "256265"}
	for i, tok := range tokens {
		if !r.Push(model.RawUpdate{Token: tok, LTP: int64(100 + i)}) {
			t.Fatalf("push %q failed on a non-full ring", tok)
		}
	}
	if r.Len() != len(tokens) {
		t.Fatalf("Len() = %d, want %d", r.Len(), len(tokens))
	}

	for i, tok := range tokens {
		u, ok := r.Pop()
		if !ok {
			t.Fatalf("pop %d returned empty", i)
		}
		if u.Token != tok || u.LTP != int64(100+i) {
			t.Fatalf("pop %d = {%s %d}, want {%s %d}", i, u.Token, u.LTP, tok, 100+i)
		}
	}
	if _, ok := r.Pop(); ok {
		t.Fatal("pop succeeded on a drained ring")
	}
}

func TestRing_FullRingDropsAndCounts(t *testing.T) {
	r := New(2)
	r.Push(model.RawUpdate{Token: "a"})
	r.Push(model.RawUpdate{Token: "b"})

	if r.Push(model.RawUpdate{Token: "c"}) {
		t.Fatal("push succeeded on a full ring")
	}
	if r.Push(model.RawUpdate{Token: "d"}) {
		t.Fatal("second push succeeded on a full ring")
	}
	if r.Overflow() != 2 {
		t.Fatalf("Overflow() = %d, want 2", r.Overflow())
	}

	// Earlier entries survive the drops.
	if u, ok := r.Pop(); !ok || u.Token != "a" {
		t.Fatalf("oldest entry = %v ok=%v, want a", u.Token, ok)
	}
}

func TestRing_CursorsWrapCleanly(t *testing.T) {
	r := New(4)
	var seq int64
	for cycle := 0; cycle < 6; cycle++ {
		for i := 0; i < r.Cap(); i++ {
			seq++
			if !r.Push(model.RawUpdate{LTP: seq}) {
				t.Fatalf("cycle %d: push %d rejected", cycle, i)
			}
		}
		want := seq - int64(r.Cap()) + 1
		for i := 0; i < r.Cap(); i++ {
			u, ok := r.Pop()
			if !ok {
				t.Fatalf("cycle %d: pop %d on non-empty ring failed", cycle, i)
			}
			if u.LTP != want {
				t.Fatalf("cycle %d: popped %d, want %d", cycle, u.LTP, want)
			}
			want++
		}
	}
}

func TestRing_SingleProducerSingleConsumer(t *testing.T) {
	const total = 100_000
	r := New(1024)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < total; i++ {
			for !r.Push(model.RawUpdate{LTP: int64(i)}) {
				// ring full, spin until the consumer catches up
			}
		}
	}()

	var received []int64
	go func() {
		defer wg.Done()
		for len(received) < total {
			if u, ok := r.Pop(); ok {
				received = append(received, u.LTP)
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
	case <-time.After(60 * time.Second):
		t.Fatal("producer/consumer pair deadlocked")
	}

	for i, v := range received {
		if v != int64(i) {
			t.Fatalf("reordered at %d: got %d", i, v)
		}
	}
}

func TestCeilPow2(t *testing.T) {
	cases := []struct{ in, want int }{
		{0, 1}, {1, 1}, {2, 2}, {3, 4}, {5, 8}, {8, 8}, {9, 16}, {1000, 1024},
	}
	for _, tc := range cases {
		if got := ceilPow2(tc.in); got != tc.want {
			t.Errorf("ceilPow2(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
