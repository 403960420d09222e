package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"ipwatch/internal/ipaddr"
	"ipwatch/internal/resolver"
	"ipwatch/internal/servers"
	"ipwatch/internal/state"
	"ipwatch/internal/types"
)

type answer struct {
	value string
	err   error
}

// scriptedResolver replays answers, repeating the last one
type scriptedResolver struct {
	mu       sync.Mutex
	answers  []answer
	calls    int
	attempts []int
	called   chan struct{}
}

func (r *scriptedResolver) ResolveExternal(_ context.Context, maxAttempts int) (*types.ResolvedAddress, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.attempts = append(r.attempts, maxAttempts)
	a := r.answers[min(r.calls, len(r.answers)-1)]
	r.calls++
	if r.called != nil {
		select {
		case r.called <- struct{}{}:
		default:
		}
	}
	if a.err != nil {
		return nil, a.err
	}
	return &types.ResolvedAddress{Value: a.value, Source: fmt.Sprintf("https://svc%d.example/", r.calls)}, nil
}

type memStore struct {
	mu      sync.Mutex
	pair    *types.SavedIPPair
	loadErr error
	saveErr error
	saves   int
}

func (s *memStore) Load(_ context.Context) (*types.SavedIPPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	if s.pair == nil {
		return nil, state.ErrNotFound
	}
	p := *s.pair
	return &p, nil
}

func (s *memStore) Save(_ context.Context, pair types.SavedIPPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.pair = &pair
	return nil
}

func (s *memStore) Close() error { return nil }

type recordingNotifier struct {
	mu      sync.Mutex
	changes []*types.IPChange
	err     error
}

func (n *recordingNotifier) NotifyIPChange(_ context.Context, change *types.IPChange) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, change)
	return n.err
}

type recordingHistory struct {
	changes []*types.IPChange
	err     error
}

func (h *recordingHistory) Record(_ context.Context, change *types.IPChange) error {
	h.changes = append(h.changes, change)
	return h.err
}

func newDriver(t *testing.T, cfg Config, res ExternalResolver, store *memStore, n Notifier, opts ...Option) *Driver {
	t.Helper()
	if cfg.Machine == "" {
		cfg.Machine = "Home NAS"
	}
	if cfg.TryCount == 0 {
		cfg.TryCount = 3
	}
	if cfg.AttemptsPerTry == 0 {
		cfg.AttemptsPerTry = 7
	}
	opts = append([]Option{WithLocalProbe(func() string { return "192.168.1.20" })}, opts...)
	return New(cfg, res, store, n, zaptest.NewLogger(t), opts...)
}

func TestRunOnceFirstRun(t *testing.T) {
	res := &scriptedResolver{answers: []answer{{value: "203.0.113.7"}}}
	store := &memStore{}
	n := &recordingNotifier{}
	hist := &recordingHistory{}
	d := newDriver(t, Config{}, res, store, n, WithHistory(hist))

	got, err := d.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Nil(t, got.Previous)
	assert.True(t, got.Changed)
	assert.True(t, got.Notified)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, types.SavedIPPair{External: "203.0.113.7", Local: "192.168.1.20"}, got.Current)
	assert.Equal(t, []int{7}, res.attempts)

	require.Len(t, n.changes, 1)
	change := n.changes[0]
	assert.Empty(t, change.OldExternal)
	assert.Equal(t, "203.0.113.7", change.NewExternal)
	assert.Equal(t, "192.168.1.20", change.NewLocal)
	assert.Equal(t, "Home NAS", change.Machine)
	assert.Equal(t, got.Source, change.Source)
	assert.False(t, change.Forced)
	assert.NotEmpty(t, change.ID)

	assert.Equal(t, []*types.IPChange{change}, hist.changes)
	assert.Equal(t, &got.Current, store.pair)
	assert.Equal(t, got.CycleID, d.Last().CycleID)
	assert.Equal(t, 1, d.Cycles())
}

func TestRunOnceUnchanged(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	res := &scriptedResolver{answers: []answer{{value: "203.0.113.7"}}}
	store := &memStore{pair: &types.SavedIPPair{External: "203.0.113.7", Local: "192.168.1.20"}}
	n := &recordingNotifier{}
	d := New(Config{Machine: "Home NAS", TryCount: 3, AttemptsPerTry: 7}, res, store, n, zap.New(core),
		WithLocalProbe(func() string { return "192.168.1.20" }))

	got, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, got.Changed)
	assert.False(t, got.Notified)
	assert.Empty(t, n.changes)
	assert.Zero(t, store.saves)
	assert.Equal(t, 1, logs.FilterMessage("Current IP = Old IP. No need to send email.").Len())
}

func TestRunOnceDetectsChanges(t *testing.T) {
	tests := []struct {
		name     string
		external string
		local    string
	}{
		{"external", "203.0.113.8", "192.168.1.20"},
		{"local", "203.0.113.7", "192.168.1.21"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := &scriptedResolver{answers: []answer{{value: tt.external}}}
			store := &memStore{pair: &types.SavedIPPair{External: "203.0.113.7", Local: "192.168.1.20"}}
			n := &recordingNotifier{}
			d := newDriver(t, Config{}, res, store, n, WithLocalProbe(func() string { return tt.local }))

			got, err := d.RunOnce(context.Background())
			require.NoError(t, err)
			assert.True(t, got.Changed)
			require.Len(t, n.changes, 1)
			assert.Equal(t, "203.0.113.7", n.changes[0].OldExternal)
			assert.Equal(t, "192.168.1.20", n.changes[0].OldLocal)
			assert.Equal(t, types.SavedIPPair{External: tt.external, Local: tt.local}, *store.pair)
		})
	}
}

func TestRunOnceForce(t *testing.T) {
	res := &scriptedResolver{answers: []answer{{value: "203.0.113.7"}}}
	store := &memStore{pair: &types.SavedIPPair{External: "203.0.113.7", Local: "192.168.1.20"}}
	n := &recordingNotifier{}
	d := newDriver(t, Config{Force: true}, res, store, n)

	got, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, got.Changed)
	assert.True(t, got.Forced)
	assert.True(t, got.Notified)
	require.Len(t, n.changes, 1)
	assert.True(t, n.changes[0].Forced)
	assert.Equal(t, 1, store.saves)
}

func TestRunOnceRejectsBadAddresses(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	res := &scriptedResolver{answers: []answer{
		{value: "1.2.3"},
		{value: "192.168.0.1"},
		{err: fmt.Errorf("%w after 7 attempts", resolver.ErrNoAddressResolved)},
		{value: "203.0.113.7"},
	}}
	store := &memStore{}
	n := &recordingNotifier{}
	d := New(Config{Machine: "Home NAS", TryCount: 5, AttemptsPerTry: 2, Blacklist: ipaddr.ParseBlacklist(ipaddr.DefaultBlacklist)},
		res, store, n, zap.New(core), WithLocalProbe(func() string { return resolver.Loopback }))

	got, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, got.Attempts)
	assert.Equal(t, "203.0.113.7", got.Current.External)
	assert.Equal(t, resolver.Loopback, got.Current.Local)

	assert.Equal(t, 1, logs.FilterMessage("Bad IP (malformed)").Len())
	assert.Equal(t, 1, logs.FilterMessage("Address rejected by blacklist").Len())
	assert.Equal(t, 1, logs.FilterMessage("Try failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("Good IP").Len())
}

func TestRunOnceExhausted(t *testing.T) {
	res := &scriptedResolver{answers: []answer{{value: "10.0.0.1"}}}
	store := &memStore{}
	n := &recordingNotifier{}
	d := newDriver(t, Config{TryCount: 3, Blacklist: ipaddr.ParseBlacklist("10.*.*.*")}, res, store, n)

	got, err := d.RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, resolver.ErrNoAddressResolved)
	assert.Equal(t, 3, res.calls)
	assert.Equal(t, 3, got.Attempts)
	assert.NotEmpty(t, got.Error)
	assert.Empty(t, n.changes)
	assert.Zero(t, store.saves)
	assert.Equal(t, got.Error, d.Last().Error)
}

func TestRunOnceAbortsOnEmptyCatalog(t *testing.T) {
	res := &scriptedResolver{answers: []answer{{err: fmt.Errorf("failed to pick service: %w", servers.ErrEmptyCatalog)}}}
	d := newDriver(t, Config{TryCount: 10}, res, &memStore{}, &recordingNotifier{})

	_, err := d.RunOnce(context.Background())
	assert.ErrorIs(t, err, servers.ErrEmptyCatalog)
	assert.Equal(t, 1, res.calls)
}

func TestRunOnceNotifyFailureKeepsPreviousPair(t *testing.T) {
	previous := &types.SavedIPPair{External: "198.51.100.1", Local: "192.168.1.20"}
	res := &scriptedResolver{answers: []answer{{value: "203.0.113.7"}}}
	store := &memStore{pair: previous}
	n := &recordingNotifier{err: errors.New("smtp: connection refused")}
	hist := &recordingHistory{}
	d := newDriver(t, Config{}, res, store, n, WithHistory(hist))

	got, err := d.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.False(t, got.Notified)
	assert.Zero(t, store.saves)
	assert.Equal(t, previous, store.pair)
	assert.Empty(t, hist.changes)
}

func TestRunOnceStoreErrors(t *testing.T) {
	t.Run("corrupt is first run", func(t *testing.T) {
		store := &memStore{loadErr: fmt.Errorf("%w: bad line", state.ErrCorrupt)}
		n := &recordingNotifier{}
		d := newDriver(t, Config{}, &scriptedResolver{answers: []answer{{value: "203.0.113.7"}}}, store, n)

		got, err := d.RunOnce(context.Background())
		require.NoError(t, err)
		assert.Nil(t, got.Previous)
		assert.True(t, got.Changed)
		assert.Len(t, n.changes, 1)
	})

	t.Run("unreachable store", func(t *testing.T) {
		res := &scriptedResolver{answers: []answer{{value: "203.0.113.7"}}}
		d := newDriver(t, Config{}, res, &memStore{loadErr: errors.New("dial tcp: refused")}, &recordingNotifier{})

		_, err := d.RunOnce(context.Background())
		require.Error(t, err)
		assert.Zero(t, res.calls)
	})

	t.Run("save failure", func(t *testing.T) {
		store := &memStore{saveErr: errors.New("read-only file system")}
		d := newDriver(t, Config{}, &scriptedResolver{answers: []answer{{value: "203.0.113.7"}}}, store, &recordingNotifier{})

		_, err := d.RunOnce(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "read-only file system")
	})

	t.Run("history failure is not fatal", func(t *testing.T) {
		store := &memStore{}
		hist := &recordingHistory{err: errors.New("database is locked")}
		d := newDriver(t, Config{}, &scriptedResolver{answers: []answer{{value: "203.0.113.7"}}}, store, &recordingNotifier{}, WithHistory(hist))

		_, err := d.RunOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, store.saves)
	})
}

func TestRunOnceDryRun(t *testing.T) {
	store := &memStore{}
	n := &recordingNotifier{}
	d := newDriver(t, Config{DryRun: true}, &scriptedResolver{answers: []answer{{value: "203.0.113.7"}}}, store, n)

	got, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, got.DryRun)
	assert.False(t, got.Notified)
	assert.Len(t, n.changes, 1)
	assert.Equal(t, 1, store.saves)
}

func TestRunRepeats(t *testing.T) {
	mock := clock.NewMock()
	res := &scriptedResolver{
		answers: []answer{{value: "203.0.113.7"}, {value: "203.0.113.8"}},
		called:  make(chan struct{}, 1),
	}
	store := &memStore{}
	n := &recordingNotifier{}
	d := newDriver(t, Config{}, res, store, n, WithClock(mock))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, time.Hour) }()

	waitCall := func() {
		t.Helper()
		select {
		case <-res.called:
		case <-time.After(5 * time.Second):
			t.Fatal("resolver was not called")
		}
	}

	waitCall()
	require.Eventually(t, func() bool { return d.Cycles() == 1 }, 5*time.Second, time.Millisecond)

	mock.Add(time.Hour)
	waitCall()
	require.Eventually(t, func() bool { return d.Cycles() == 2 }, 5*time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	require.Len(t, n.changes, 2)
	assert.Equal(t, "203.0.113.7", n.changes[1].OldExternal)
	assert.Equal(t, "203.0.113.8", n.changes[1].NewExternal)
	assert.Equal(t, "203.0.113.8", d.Last().Current.External)
}

func TestRunInvalidInterval(t *testing.T) {
	d := newDriver(t, Config{}, &scriptedResolver{answers: []answer{{value: "203.0.113.7"}}}, &memStore{}, &recordingNotifier{})
	assert.Error(t, d.Run(context.Background(), 0))
	assert.Nil(t, d.Last())
}

// listSource serves a replaceable service list
type listSource struct {
	mu   sync.Mutex
	list []string
}

func (s *listSource) Name() string { return "override" }

func (s *listSource) Servers(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list, nil
}

func (s *listSource) set(list ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.list = list
}

// pageFetcher answers each endpoint with a fixed page
type pageFetcher map[string]string

func (f pageFetcher) Fetch(_ context.Context, endpoint string) ([]byte, error) {
	page, ok := f[endpoint]
	if !ok {
		return nil, fmt.Errorf("unknown endpoint %s", endpoint)
	}
	return []byte(page), nil
}

func TestRunOnceReloadsExpiredServiceList(t *testing.T) {
	mock := clock.NewMock()
	src := &listSource{list: []string{"https://a.example/ip"}}
	cache, err := servers.NewCache(servers.CacheConfig{Dir: t.TempDir(), TTL: time.Hour}, zaptest.NewLogger(t),
		servers.WithClock(mock), servers.WithSources(src))
	require.NoError(t, err)

	live := servers.NewLiveCatalog(cache)
	res := resolver.New(live, pageFetcher{
		"https://a.example/ip": "Your IP is 203.0.113.7",
		"https://b.example/ip": "Your IP is 198.51.100.9",
	}, resolver.Config{}, zaptest.NewLogger(t))
	store := &memStore{}
	n := &recordingNotifier{}
	d := newDriver(t, Config{TryCount: 1, AttemptsPerTry: 1}, res, store, n, WithClock(mock), WithServiceList(live))

	got, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7", got.Current.External)

	src.set("https://b.example/ip")

	// cached list still valid
	mock.Add(30 * time.Minute)
	got, err = d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7", got.Current.External)
	assert.False(t, got.Changed)

	mock.Add(time.Hour)
	got, err = d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.9", got.Current.External)
	assert.True(t, got.Changed)
	assert.Equal(t, []string{"https://b.example/ip"}, live.Endpoints())

	require.Len(t, n.changes, 2)
	assert.Equal(t, "203.0.113.7", n.changes[1].OldExternal)
	assert.Equal(t, "198.51.100.9", n.changes[1].NewExternal)
}

type failingServiceList struct {
	calls int
	err   error
}

func (s *failingServiceList) Reload(_ context.Context) error {
	s.calls++
	return s.err
}

func TestRunOnceServiceListFailure(t *testing.T) {
	services := &failingServiceList{err: servers.ErrNoServiceList}
	res := &scriptedResolver{answers: []answer{{value: "203.0.113.7"}}}
	store := &memStore{}
	n := &recordingNotifier{}
	d := newDriver(t, Config{}, res, store, n, WithServiceList(services))

	got, err := d.RunOnce(context.Background())
	assert.ErrorIs(t, err, servers.ErrNoServiceList)
	assert.Equal(t, 1, services.calls)
	assert.Zero(t, res.calls)
	assert.Empty(t, n.changes)
	assert.Zero(t, store.saves)
	assert.NotEmpty(t, got.Error)
	assert.Equal(t, 1, d.Cycles())

	services.err = nil
	_, err = d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, services.calls)
	assert.Equal(t, 1, res.calls)
}
