package gate

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestGateStartsOpenAndReportsEveryCall(t *testing.T) {
	g := New()
	if !g.IsOpen() {
		t.Fatal("expected gate to start open")
	}

	var trace []Transition
	g.Observe(func(tr Transition) { trace = append(trace, tr) })

	g.Close("recognizing")
	g.Close("speaking")
	g.Open("settled")

	if len(trace) != 3 {
		t.Fatalf("expected 3 transitions, got %d", len(trace))
	}
	if !trace[0].Changed() || trace[0].Open {
		t.Fatalf("expected first call to close the gate: %+v", trace[0])
	}
	if trace[1].Changed() || trace[1].Reason != "speaking" {
		t.Fatalf("expected repeated close to be reported unchanged: %+v", trace[1])
	}
	if !trace[2].Open || trace[2].Reason != "settled" {
		t.Fatalf("unexpected reopen: %+v", trace[2])
	}
	if !g.IsOpen() {
		t.Fatal("expected gate open")
	}
}

func TestWaitOpen(t *testing.T) {
	g := New()
	g.Close("test")

	go func() {
		time.Sleep(30 * time.Millisecond)
		g.Open("test")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := g.WaitOpen(ctx, 5*time.Millisecond); err != nil {
		t.Fatalf("wait open: %v", err)
	}
}

func TestWaitOpenCancelled(t *testing.T) {
	g := New()
	g.Close("test")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := g.WaitOpen(ctx, 5*time.Millisecond); err == nil {
		t.Fatal("expected context error while gate stays closed")
	}
}

func TestSpeakingLockSingleHolder(t *testing.T) {
	lock := NewSpeakingLock()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		maxSeen int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := lock.Acquire(context.Background()); err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			mu.Lock()
			if h := lock.Holders(); h > maxSeen {
				maxSeen = h
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			lock.Release()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("expected exactly one holder at a time, saw %d", maxSeen)
	}
	if lock.Acquisitions() != 16 {
		t.Fatalf("expected 16 acquisitions, got %d", lock.Acquisitions())
	}
	if lock.Held() {
		t.Fatal("expected lock released")
	}
}

func TestSpeakingLockAcquireHonoursContext(t *testing.T) {
	lock := NewSpeakingLock()
	if err := lock.Acquire(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer lock.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := lock.Acquire(ctx); err == nil {
		t.Fatal("expected second acquire to time out")
	}
	if lock.Holders() != 1 {
		t.Fatalf("expected 1 holder, got %d", lock.Holders())
	}
}
