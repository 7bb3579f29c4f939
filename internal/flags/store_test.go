package flags

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/campusgate/doorlock/internal/shared"
)

type memoryRepo struct {
	mu    sync.Mutex
	flags map[string]Flag
	gets  int
	err   error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{flags: make(map[string]Flag)}
}

func (r *memoryRepo) Get(ctx context.Context, name string) (Flag, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gets++
	if r.err != nil {
		return Flag{}, r.err
	}
	f, ok := r.flags[name]
	if !ok {
		return Flag{}, shared.ErrFlagNotFound
	}
	return f, nil
}

func (r *memoryRepo) Create(ctx context.Context, flag Flag) (Flag, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.flags[flag.Name]; ok {
		return existing, nil
	}
	r.flags[flag.Name] = flag
	return flag, nil
}

func (r *memoryRepo) SetEnabled(ctx context.Context, name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.flags[name]
	if !ok {
		return shared.ErrFlagNotFound
	}
	f.IsEnabled = enabled
	r.flags[name] = f
	return nil
}

func (r *memoryRepo) getCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gets
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestStore(repo RepositoryPort) (*Store, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)}
	store := NewStore(repo, 0, quietLogger())
	store.now = clock.now
	return store, clock
}

func TestEvaluateCreatesWithDefault(t *testing.T) {
	repo := newMemoryRepo()
	store, _ := newTestStore(repo)
	ctx := context.Background()

	enabled, err := store.Evaluate(ctx, "doorlock:monitor", "device monitoring", true, nil)
	require.NoError(t, err)
	require.True(t, enabled)
	require.True(t, repo.flags["doorlock:monitor"].IsEnabled)
	require.True(t, store.IsEnabled(ctx, "doorlock:monitor"))
}

func TestEvaluateKeepsExistingValue(t *testing.T) {
	repo := newMemoryRepo()
	repo.flags["beta"] = Flag{Name: "beta", IsEnabled: false}
	store, _ := newTestStore(repo)

	enabled, err := store.Evaluate(context.Background(), "beta", "", true, nil)
	require.NoError(t, err)
	require.False(t, enabled)
}

func TestIsEnabledUnregisteredReadsFalse(t *testing.T) {
	repo := newMemoryRepo()
	store, _ := newTestStore(repo)
	ctx := context.Background()

	require.False(t, store.IsEnabled(ctx, "never"))
	_, ok := repo.flags["never"]
	require.False(t, ok)

	enabled, err := store.Evaluate(ctx, "never", "", true, nil)
	require.NoError(t, err)
	require.True(t, enabled)
}

func TestInvalidateThenWriteReadsFresh(t *testing.T) {
	repo := newMemoryRepo()
	store, _ := newTestStore(repo)
	ctx := context.Background()

	_, err := store.Evaluate(ctx, "f", "", true, nil)
	require.NoError(t, err)
	require.True(t, store.IsEnabled(ctx, "f"))

	store.Invalidate("f")
	require.NoError(t, repo.SetEnabled(ctx, "f", false))
	require.False(t, store.IsEnabled(ctx, "f"))
}

func TestCacheServesStaleUntilTTL(t *testing.T) {
	repo := newMemoryRepo()
	store, clock := newTestStore(repo)
	ctx := context.Background()

	_, err := store.Evaluate(ctx, "f", "", true, nil)
	require.NoError(t, err)
	require.NoError(t, repo.SetEnabled(ctx, "f", false))

	clock.t = clock.t.Add(4 * time.Second)
	require.True(t, store.IsEnabled(ctx, "f"))

	clock.t = clock.t.Add(DefaultTTL)
	require.False(t, store.IsEnabled(ctx, "f"))
}

func TestInvalidateAll(t *testing.T) {
	repo := newMemoryRepo()
	store, _ := newTestStore(repo)
	ctx := context.Background()

	_, _ = store.Evaluate(ctx, "a", "", true, nil)
	_, _ = store.Evaluate(ctx, "b", "", true, nil)
	before := repo.getCount()

	store.Invalidate()
	store.IsEnabled(ctx, "a")
	store.IsEnabled(ctx, "b")
	require.Equal(t, before+2, repo.getCount())
}

func TestStoreErrorReadsFalse(t *testing.T) {
	repo := newMemoryRepo()
	repo.err = errors.New("db down")
	store, _ := newTestStore(repo)

	require.False(t, store.IsEnabled(context.Background(), "f"))
	_, err := store.Evaluate(context.Background(), "f", "", true, nil)
	require.ErrorIs(t, err, shared.ErrStore)
}

type blockingRepo struct {
	*memoryRepo
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (r *blockingRepo) Get(ctx context.Context, name string) (Flag, error) {
	r.once.Do(func() { close(r.started) })
	select {
	case <-ctx.Done():
		return Flag{}, ctx.Err()
	case <-r.release:
	}
	return r.memoryRepo.Get(ctx, name)
}

func TestSharedLoadSurvivesFirstCallerCancel(t *testing.T) {
	repo := &blockingRepo{
		memoryRepo: newMemoryRepo(),
		started:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	repo.flags["gate"] = Flag{Name: "gate", IsEnabled: true}
	store, _ := newTestStore(repo)

	first, cancel := context.WithCancel(context.Background())
	firstDone := make(chan bool, 1)
	go func() { firstDone <- store.IsEnabled(first, "gate") }()
	<-repo.started

	secondDone := make(chan bool, 1)
	go func() { secondDone <- store.IsEnabled(context.Background(), "gate") }()
	time.Sleep(20 * time.Millisecond)

	cancel()
	require.False(t, <-firstDone)
	close(repo.release)
	require.True(t, <-secondDone)
	require.True(t, store.IsEnabled(context.Background(), "gate"))
}

func TestToggleRunsHandlersAndSwallowsFailures(t *testing.T) {
	repo := newMemoryRepo()
	store, _ := newTestStore(repo)
	ctx := context.Background()

	var enabledCalls, disabledCalls int
	_, err := store.Evaluate(ctx, "f", "", false, &Handlers{
		OnEnable: func(context.Context) error {
			enabledCalls++
			return errors.New("boom")
		},
		OnDisable: func(context.Context) error {
			disabledCalls++
			panic("worse")
		},
	})
	require.NoError(t, err)

	require.NoError(t, store.Toggle(ctx, "f", true))
	require.True(t, store.IsEnabled(ctx, "f"))
	require.NoError(t, store.Toggle(ctx, "f", false))
	require.False(t, store.IsEnabled(ctx, "f"))
	require.Equal(t, 1, enabledCalls)
	require.Equal(t, 1, disabledCalls)
}

func TestLastHandlerRegistrationWins(t *testing.T) {
	repo := newMemoryRepo()
	store, _ := newTestStore(repo)
	ctx := context.Background()

	var first, second int
	_, _ = store.Evaluate(ctx, "f", "", false, &Handlers{OnEnable: func(context.Context) error { first++; return nil }})
	_, _ = store.Evaluate(ctx, "f", "", false, &Handlers{OnEnable: func(context.Context) error { second++; return nil }})

	store.NotifyChange(ctx, "f", true)
	require.Equal(t, 0, first)
	require.Equal(t, 1, second)
}

func TestToggleUnknownFlag(t *testing.T) {
	store, _ := newTestStore(newMemoryRepo())
	require.ErrorIs(t, store.Toggle(context.Background(), "missing", true), shared.ErrFlagNotFound)
}

func TestRedisInvalidatorPropagates(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := newMemoryRepo()
	writer, _ := newTestStore(repo)
	reader, _ := newTestStore(repo)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	invalidator := NewRedisInvalidator(client, quietLogger())
	writer.SetBroadcaster(invalidator)
	require.NoError(t, invalidator.Listen(ctx, reader))

	_, err := reader.Evaluate(ctx, "f", "", true, nil)
	require.NoError(t, err)
	require.True(t, reader.IsEnabled(ctx, "f"))

	require.NoError(t, writer.Toggle(ctx, "f", false))
	require.Eventually(t, func() bool {
		return !reader.IsEnabled(ctx, "f")
	}, time.Second, 10*time.Millisecond)
}
