package gate

import (
	"context"
	"sync/atomic"
)

// SpeakingLock allows a single speaker at a time.
type SpeakingLock struct {
	sem          chan struct{}
	holders      atomic.Int32
	acquisitions atomic.Int64
}

func NewSpeakingLock() *SpeakingLock {
	return &SpeakingLock{sem: make(chan struct{}, 1)}
}

// Acquire blocks until the lock is free or ctx is done.
func (l *SpeakingLock) Acquire(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	l.holders.Add(1)
	l.acquisitions.Add(1)
	return nil
}

// Release must be called exactly once per successful Acquire.
func (l *SpeakingLock) Release() {
	l.holders.Add(-1)
	<-l.sem
}

func (l *SpeakingLock) Held() bool { return l.holders.Load() > 0 }

// Holders is the current number of holders; anything above one is a bug.
func (l *SpeakingLock) Holders() int { return int(l.holders.Load()) }

func (l *SpeakingLock) Acquisitions() int64 { return l.acquisitions.Load() }
