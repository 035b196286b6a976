package speech

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loqalabs/loqa-interpreter/internal/cache"
	"github.com/loqalabs/loqa-interpreter/internal/config"
	"github.com/loqalabs/loqa-interpreter/internal/gate"
	"github.com/loqalabs/loqa-interpreter/internal/playback"
	"github.com/loqalabs/loqa-interpreter/internal/tts"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fixture struct {
	gate    *gate.Gate
	lock    *gate.SpeakingLock
	cache   *cache.Cache
	synth   *tts.MockSynth
	player  *playback.MockPlayer
	speaker *Speaker
	settles []time.Duration
	mu      sync.Mutex
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c, err := cache.New(config.CacheConfig{Dir: t.TempDir(), MaxEntries: 50, MaxTextLength: 100}, newLogger())
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	f := &fixture{
		gate:   gate.New(),
		lock:   gate.NewSpeakingLock(),
		cache:  c,
		synth:  tts.NewMockSynth(16000, 1),
		player: playback.NewMockPlayer(0),
	}
	f.speaker = New(f.gate, f.lock, f.cache, f.synth, f.player, Options{Voice: "en", Settle: 500 * time.Millisecond, SynthTimeout: time.Second, PlaybackTimeout: time.Second}, newLogger())
	f.speaker.sleep = func(d time.Duration) {
		f.mu.Lock()
		f.settles = append(f.settles, d)
		f.mu.Unlock()
	}
	return f
}

func TestSpeakGatesMicrophoneAroundPlayback(t *testing.T) {
	f := newFixture(t)
	var trace []string
	f.gate.Observe(func(tr gate.Transition) {
		state := "closed"
		if tr.Open {
			state = "open"
		}
		if !f.lock.Held() {
			t.Errorf("gate %s(%s) while speaking lock not held", state, tr.Reason)
		}
		trace = append(trace, state+"("+tr.Reason+")")
	})

	res, err := f.speaker.Speak(context.Background(), "I am fine", "")
	if err != nil {
		t.Fatalf("speak: %v", err)
	}
	if res.CacheHit || !res.Cached {
		t.Fatalf("expected fresh synthesis admitted to cache, got %+v", res)
	}
	if got := strings.Join(trace, " "); got != "closed(speaking) open(settled)" {
		t.Fatalf("unexpected gate trace %q", got)
	}
	if !f.gate.IsOpen() || f.lock.Held() {
		t.Fatal("expected gate open and lock free after speaking")
	}
	if len(f.settles) != 1 || f.settles[0] != 500*time.Millisecond {
		t.Fatalf("expected one 500ms settle, got %v", f.settles)
	}
}

func TestSpeakSameTextTwiceUsesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.speaker.Speak(ctx, "Thank you", ""); err != nil {
		t.Fatalf("first speak: %v", err)
	}
	res, err := f.speaker.Speak(ctx, "Thank you", "")
	if err != nil {
		t.Fatalf("second speak: %v", err)
	}
	if !res.CacheHit {
		t.Fatal("expected second call to hit the cache")
	}
	if n := len(f.synth.Texts()); n != 1 {
		t.Fatalf("expected one synthesis, got %d", n)
	}
	if f.cache.Len() != 1 {
		t.Fatalf("expected one cache entry, got %d", f.cache.Len())
	}
	if played := f.player.Played(); len(played) != 2 || played[0] != played[1] {
		t.Fatalf("expected cached file replayed, got %v", played)
	}
}

func TestLongTextIsNotCached(t *testing.T) {
	f := newFixture(t)
	text := strings.Repeat("long ", 20)
	res, err := f.speaker.Speak(context.Background(), text, "")
	if err != nil {
		t.Fatalf("speak: %v", err)
	}
	if res.Cached || f.cache.Len() != 0 {
		t.Fatal("100-byte text must not be cached")
	}
	played := f.player.Played()
	if _, err := os.Stat(played[0]); !os.IsNotExist(err) {
		t.Fatalf("expected uncached audio deleted, stat err=%v", err)
	}
}

type failingSynth struct{}

func (failingSynth) Synthesize(ctx context.Context, req tts.SynthRequest) (<-chan tts.SynthChunk, <-chan error) {
	chunks := make(chan tts.SynthChunk)
	errs := make(chan error, 1)
	errs <- errors.New("engine offline")
	close(chunks)
	close(errs)
	return chunks, errs
}

func TestSynthesisFailureReleasesEverything(t *testing.T) {
	f := newFixture(t)
	f.speaker.synth = failingSynth{}
	_, err := f.speaker.Speak(context.Background(), "I am fine", "")
	if !errors.Is(err, ErrSynthesis) {
		t.Fatalf("expected ErrSynthesis, got %v", err)
	}
	if !f.gate.IsOpen() || f.lock.Held() {
		t.Fatal("expected gate reopened and lock released after failure")
	}
	if len(f.settles) != 1 {
		t.Fatal("settle must run on failure paths")
	}
}

type brokenPlayer struct{}

func (brokenPlayer) Play(context.Context, string) error { return errors.New("device busy") }

func TestPlaybackFailureDiscardsAudio(t *testing.T) {
	f := newFixture(t)
	f.speaker.player = brokenPlayer{}
	_, err := f.speaker.Speak(context.Background(), "I am fine", "")
	if !errors.Is(err, ErrPlayback) {
		t.Fatalf("expected ErrPlayback, got %v", err)
	}
	if f.cache.Len() != 0 {
		t.Fatal("unplayed audio must not be cached")
	}
	entries, _ := os.ReadDir(f.cache.Dir())
	if len(entries) != 0 {
		t.Fatalf("expected no leftover files, found %d", len(entries))
	}
	if !f.gate.IsOpen() {
		t.Fatal("expected gate reopened")
	}
}

func TestCancelledContextStillSettles(t *testing.T) {
	f := newFixture(t)
	f.speaker.player = playback.NewMockPlayer(1)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := f.speaker.Speak(ctx, "How can I help you today, my friend?", "")
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if len(f.settles) != 1 || f.settles[0] != 500*time.Millisecond {
		t.Fatalf("expected full settle despite cancellation, got %v", f.settles)
	}
	if !f.gate.IsOpen() {
		t.Fatal("expected gate reopened")
	}
}

type trackingPlayer struct {
	active, peak atomic.Int32
}

func (p *trackingPlayer) Play(context.Context, string) error {
	n := p.active.Add(1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	p.active.Add(-1)
	return nil
}

func TestConcurrentSpeakersNeverOverlap(t *testing.T) {
	f := newFixture(t)
	player := &trackingPlayer{}
	f.speaker.player = player
	var maxHolders atomic.Int32
	f.gate.Observe(func(gate.Transition) {
		if h := int32(f.lock.Holders()); h > maxHolders.Load() {
			maxHolders.Store(h)
		}
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			text := "Thank you"
			if i%2 == 1 {
				text = "I am fine"
			}
			if _, err := f.speaker.Speak(context.Background(), text, ""); err != nil {
				t.Errorf("speak: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if player.peak.Load() != 1 {
		t.Fatalf("expected one playback at a time, peak %d", player.peak.Load())
	}
	if maxHolders.Load() != 1 {
		t.Fatalf("expected at most one lock holder, saw %d", maxHolders.Load())
	}
	if f.lock.Acquisitions() != 8 {
		t.Fatalf("expected 8 acquisitions, got %d", f.lock.Acquisitions())
	}
	if n := len(f.synth.Texts()); n != 2 {
		t.Fatalf("expected two syntheses for two distinct phrases, got %d", n)
	}
}

func TestPrerender(t *testing.T) {
	f := newFixture(t)
	ok, err := f.speaker.Prerender(context.Background(), "Could you repeat that?", "")
	if err != nil || !ok {
		t.Fatalf("prerender: ok=%v err=%v", ok, err)
	}
	ok, _ = f.speaker.Prerender(context.Background(), "Could you repeat that?", "")
	if ok {
		t.Fatal("second prerender must not admit again")
	}
	if len(f.player.Played()) != 0 {
		t.Fatal("prerender must not play")
	}
	res, err := f.speaker.Speak(context.Background(), "Could you repeat that?", "")
	if err != nil || !res.CacheHit {
		t.Fatalf("expected cache hit after prerender, res=%+v err=%v", res, err)
	}
}
