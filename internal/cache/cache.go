// Package cache keeps rendered speech for short phrases so repeated
// translations skip synthesis.
package cache

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/loqalabs/loqa-interpreter/internal/config"
)

// Entry maps exact source text to rendered audio on disk.
type Entry struct {
	Text      string
	Path      string
	CreatedAt time.Time
}

// Cache is a fixed-capacity, insert-only phrase cache. Once full it stops
// admitting; nothing is ever evicted.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]Entry
	pending    map[string]struct{}
	maxEntries int
	maxTextLen int
	dir        string
	ownsDir    bool
	log        *slog.Logger
	clock      func() time.Time
}

func New(cfg config.CacheConfig, log *slog.Logger) (*Cache, error) {
	dir := cfg.Dir
	owns := false
	if dir == "" {
		tmp, err := os.MkdirTemp("", "loqa-tts-*")
		if err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
		dir = tmp
		owns = true
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Cache{
		entries:    make(map[string]Entry),
		pending:    make(map[string]struct{}),
		maxEntries: cfg.MaxEntries,
		maxTextLen: cfg.MaxTextLength,
		dir:        dir,
		ownsDir:    owns,
		log:        log.With(slog.String("component", "tts-cache")),
		clock:      time.Now,
	}, nil
}

func (c *Cache) Dir() string { return c.dir }

// Lookup is case-sensitive and exact.
func (c *Cache) Lookup(text string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[text]
	return e, ok
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Admissible reports whether text would be admitted right now.
func (c *Cache) Admissible(text string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.admissibleLocked(text)
}

// admissibleLocked bounds text length in characters, not bytes.
func (c *Cache) admissibleLocked(text string) bool {
	if utf8.RuneCountInString(text) >= c.maxTextLen {
		return false
	}
	if len(c.entries) >= c.maxEntries {
		return false
	}
	_, exists := c.entries[text]
	return !exists
}

// TempFile creates a file inside the cache directory and tracks it until it
// is either admitted or discarded.
func (c *Cache) TempFile(pattern string) (*os.File, error) {
	f, err := os.CreateTemp(c.dir, pattern)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.pending[f.Name()] = struct{}{}
	c.mu.Unlock()
	return f, nil
}

// Admit stores path under text when the bounds allow it. On false the caller
// still owns path and should Discard it.
func (c *Cache) Admit(text, path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.admissibleLocked(text) {
		return false
	}
	delete(c.pending, path)
	c.entries[text] = Entry{Text: text, Path: path, CreatedAt: c.clock()}
	return true
}

// Discard removes a file that was not admitted.
func (c *Cache) Discard(path string) {
	c.mu.Lock()
	delete(c.pending, path)
	c.mu.Unlock()
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.log.Warn("failed to remove uncached audio", slog.String("path", path), slog.String("error", err.Error()))
	}
}

// Purge deletes every cached and pending file. The cache is empty afterwards.
func (c *Cache) Purge() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	remove := func(path string) {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	for _, e := range c.entries {
		remove(e.Path)
	}
	for path := range c.pending {
		remove(path)
	}
	removed := len(c.entries) + len(c.pending)
	c.entries = make(map[string]Entry)
	c.pending = make(map[string]struct{})

	if c.ownsDir {
		if err := os.RemoveAll(c.dir); err != nil {
			errs = append(errs, err)
		}
	}
	c.log.Info("tts cache purged", slog.Int("files", removed))
	return errors.Join(errs...)
}
