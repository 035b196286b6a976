// Package gate holds the two pieces of shared state that keep the interpreter
// from hearing itself: the microphone gate and the speaking lock.
package gate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Transition describes one call to Open or Close. Repeated calls that do not
// change the state are still reported, with WasOpen == Open.
type Transition struct {
	WasOpen bool
	Open    bool
	Reason  string
	At      time.Time
}

// Changed reports whether the call flipped the gate.
func (t Transition) Changed() bool { return t.WasOpen != t.Open }

// Gate is the process-wide microphone gate. Captures may only begin while it
// is open. It starts open.
type Gate struct {
	mu        sync.Mutex
	open      atomic.Bool
	observers []func(Transition)
	clock     func() time.Time
}

func New() *Gate {
	g := &Gate{clock: time.Now}
	g.open.Store(true)
	return g
}

// Observe registers fn to be called for every transition. Observers run
// synchronously while the writer lock is held and must not call back into the gate.
func (g *Gate) Observe(fn func(Transition)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.observers = append(g.observers, fn)
}

func (g *Gate) Open(reason string)  { g.set(true, reason) }
func (g *Gate) Close(reason string) { g.set(false, reason) }

// IsOpen is a non-blocking read.
func (g *Gate) IsOpen() bool { return g.open.Load() }

func (g *Gate) set(open bool, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	was := g.open.Swap(open)
	t := Transition{WasOpen: was, Open: open, Reason: reason, At: g.clock()}
	for _, fn := range g.observers {
		fn(t)
	}
}

// WaitOpen polls until the gate is open or ctx is done.
func (g *Gate) WaitOpen(ctx context.Context, interval time.Duration) error {
	if g.IsOpen() {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if g.IsOpen() {
				return nil
			}
		}
	}
}
