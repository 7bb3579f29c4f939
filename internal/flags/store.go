package flags

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/campusgate/doorlock/internal/shared"
)

// loadTimeout bounds a shared load, which outlives any single caller's context.
const loadTimeout = 5 * time.Second

// RepositoryPort is the persistence surface the store needs.
type RepositoryPort interface {
	Get(ctx context.Context, name string) (Flag, error)
	Create(ctx context.Context, flag Flag) (Flag, error)
	SetEnabled(ctx context.Context, name string, enabled bool) error
}

// Broadcaster fans an invalidation out to other processes. An empty name means all flags.
type Broadcaster interface {
	PublishInvalidation(ctx context.Context, name string) error
}

// Store is the process-wide flag cache. It is created once in main, shared by
// reference, and needs no teardown: entries simply expire.
type Store struct {
	repo   RepositoryPort
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu          sync.RWMutex
	entries     map[string]cacheEntry
	handlers    map[string]Handlers
	generation  uint64
	loads       singleflight.Group
	broadcaster Broadcaster
}

// NewStore builds a Store. A non-positive ttl falls back to DefaultTTL.
func NewStore(repo RepositoryPort, ttl time.Duration, logger *slog.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		repo:     repo,
		ttl:      ttl,
		logger:   logger.With(slog.String("component", "flags")),
		now:      func() time.Time { return time.Now().UTC() },
		entries:  make(map[string]cacheEntry),
		handlers: make(map[string]Handlers),
	}
}

// SetBroadcaster attaches cross-process invalidation. Call before serving traffic.
func (s *Store) SetBroadcaster(b Broadcaster) {
	s.mu.Lock()
	s.broadcaster = b
	s.mu.Unlock()
}

// Evaluate registers handlers for name (the last registration wins) and
// returns the current value, creating the flag with defaultEnabled when it
// does not exist yet.
func (s *Store) Evaluate(ctx context.Context, name, description string, defaultEnabled bool, handlers *Handlers) (bool, error) {
	if handlers != nil {
		s.mu.Lock()
		s.handlers[name] = *handlers
		s.mu.Unlock()
	}
	if enabled, ok := s.cached(name); ok {
		return enabled, nil
	}

	gen := s.currentGeneration()
	flag, err := s.repo.Get(ctx, name)
	if errors.Is(err, shared.ErrFlagNotFound) {
		flag, err = s.repo.Create(ctx, Flag{Name: name, Description: description, IsEnabled: defaultEnabled})
		if err == nil {
			s.logger.Info("feature flag created", slog.String("flag", name), slog.Bool("enabled", flag.IsEnabled))
		}
	}
	if err != nil {
		return false, fmt.Errorf("flags: evaluate %q: %w: %w", name, shared.ErrStore, err)
	}
	s.store(name, flag.IsEnabled, gen)
	return flag.IsEnabled, nil
}

// IsEnabled returns the cached or persisted value. Flags that were never
// registered and store failures both read as false.
func (s *Store) IsEnabled(ctx context.Context, name string) bool {
	if enabled, ok := s.cached(name); ok {
		return enabled
	}
	gen := s.currentGeneration()
	ch := s.loads.DoChan(name, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		return s.repo.Get(loadCtx, name)
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return false
	case res = <-ch:
	}
	if res.Err != nil {
		if !errors.Is(res.Err, shared.ErrFlagNotFound) {
			s.logger.Error("feature flag lookup failed", slog.String("flag", name), slog.Any("error", res.Err))
		}
		return false
	}
	flag := res.Val.(Flag)
	s.store(name, flag.IsEnabled, gen)
	return flag.IsEnabled
}

// Invalidate drops the named entries, or every entry when called without names.
func (s *Store) Invalidate(names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	if len(names) == 0 {
		s.entries = make(map[string]cacheEntry)
		return
	}
	for _, name := range names {
		delete(s.entries, name)
	}
}

// NotifyChange runs the registered OnEnable/OnDisable callback for name.
// Callback errors and panics are logged and never returned.
func (s *Store) NotifyChange(ctx context.Context, name string, enabled bool) {
	s.mu.RLock()
	h, ok := s.handlers[name]
	s.mu.RUnlock()
	if !ok {
		return
	}
	fn := h.OnDisable
	if enabled {
		fn = h.OnEnable
	}
	if fn == nil {
		return
	}
	if err := runHandler(ctx, fn); err != nil {
		s.logger.Error("feature flag handler failed",
			slog.String("flag", name),
			slog.Bool("enabled", enabled),
			slog.Any("error", err),
		)
	}
}

// Toggle is the administrative write path: persist, invalidate locally,
// broadcast the invalidation, then notify handlers.
func (s *Store) Toggle(ctx context.Context, name string, enabled bool) error {
	if err := s.repo.SetEnabled(ctx, name, enabled); err != nil {
		if errors.Is(err, shared.ErrFlagNotFound) {
			return err
		}
		return fmt.Errorf("flags: toggle %q: %w: %w", name, shared.ErrStore, err)
	}
	s.Invalidate(name)

	s.mu.RLock()
	b := s.broadcaster
	s.mu.RUnlock()
	if b != nil {
		if err := b.PublishInvalidation(ctx, name); err != nil {
			s.logger.Warn("feature flag broadcast failed", slog.String("flag", name), slog.Any("error", err))
		}
	}

	s.NotifyChange(ctx, name, enabled)
	s.logger.Info("feature flag toggled", slog.String("flag", name), slog.Bool("enabled", enabled))
	return nil
}

func (s *Store) cached(name string) (bool, bool) {
	s.mu.RLock()
	entry, ok := s.entries[name]
	s.mu.RUnlock()
	if !ok || !s.now().Before(entry.expiresAt) {
		return false, false
	}
	return entry.enabled, true
}

func (s *Store) currentGeneration() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// store caches a value read at generation gen unless an invalidation happened since.
func (s *Store) store(name string, enabled bool, gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		return
	}
	s.entries[name] = cacheEntry{enabled: enabled, expiresAt: s.now().Add(s.ttl)}
}

func runHandler(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return fn(ctx)
}
