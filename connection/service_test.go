package connection_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/subtask-dev/subtask/connection"
)

var errUpstreamRejected = errors.New("invalid_grant")

// fakeProvider counts calls and serves canned responses.
type fakeProvider struct {
	mu           sync.Mutex
	refreshCalls int
	exchangeErr  error
	refreshErr   error
	profileErr   error
	locationsErr error
	rotate       bool
	afterCall    func()
	now          func() time.Time
}

func (p *fakeProvider) Key() string { return "fake" }

func (p *fakeProvider) AuthorizationURL(state string) string {
	return "https://fake.example/authorize?state=" + state
}

func (p *fakeProvider) Exchange(_ context.Context, code string) (connection.Connection, error) {
	if p.exchangeErr != nil {
		return connection.Connection{}, p.exchangeErr
	}
	if p.afterCall != nil {
		p.afterCall()
	}
	return connection.Connection{
		AccessToken:   "access-" + code,
		AccessExpire:  p.now().Add(time.Hour),
		RefreshToken:  "refresh-" + code,
		RefreshExpire: p.now().Add(30 * 24 * time.Hour),
	}, nil
}

func (p *fakeProvider) Refresh(_ context.Context, c connection.Connection) (connection.Connection, error) {
	p.mu.Lock()
	p.refreshCalls++
	p.mu.Unlock()
	if p.refreshErr != nil {
		return connection.Connection{}, p.refreshErr
	}
	c.AccessToken = "refreshed-access"
	c.AccessExpire = p.now().Add(time.Hour)
	if p.rotate {
		c.RefreshToken = "rotated-refresh"
	}
	if p.afterCall != nil {
		p.afterCall()
	}
	return c, nil
}

func (p *fakeProvider) ProfileInfo(_ context.Context, c connection.Connection) (connection.ProfileInfo, error) {
	if p.profileErr != nil {
		return connection.ProfileInfo{}, p.profileErr
	}
	return connection.ProfileInfo{AccountName: "name for " + c.AccessToken, AccountImage: "https://img.example/a.png"}, nil
}

func (p *fakeProvider) Locations(_ context.Context, c connection.Connection) ([]connection.Location, error) {
	if p.locationsErr != nil {
		return nil, p.locationsErr
	}
	return []connection.Location{{ID: "1", Name: "repo via " + c.AccessToken}}, nil
}

func (p *fakeProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshCalls
}

type serviceFixture struct {
	svc      *connection.Service
	store    *connection.RepositoryStore
	provider *fakeProvider
	now      time.Time
	spans    *tracetest.SpanRecorder
	observed []error
}

// ctxStore fails writes once their context is done, like a network store.
type ctxStore struct {
	*connection.RepositoryStore
}

func (s ctxStore) Create(ctx context.Context, c *connection.Connection) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.RepositoryStore.Create(ctx, c)
}

func (s ctxStore) Update(ctx context.Context, c *connection.Connection) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.RepositoryStore.Update(ctx, c)
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	f := &serviceFixture{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	f.store, _ = newTestStore(t)
	f.provider = &fakeProvider{now: func() time.Time { return f.now }}
	f.spans = tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(f.spans))
	f.svc = connection.NewService(
		connection.NewRegistry(f.provider),
		ctxStore{f.store},
		connection.WithClock(func() time.Time { return f.now }),
		connection.WithTracerProvider(tp),
		connection.WithRefreshObserver(func(provider string, err error) {
			f.observed = append(f.observed, err)
		}),
	)
	return f
}

// stored creates a connection with the given expiries, relative to f.now.
func (f *serviceFixture) stored(t *testing.T, accessIn, refreshIn time.Duration) connection.Connection {
	t.Helper()
	c := &connection.Connection{
		ID:            "conn-1",
		AccountID:     "acct-1",
		Type:          "fake",
		AccessToken:   "original-access",
		AccessExpire:  f.now.Add(accessIn),
		RefreshToken:  "original-refresh",
		RefreshExpire: f.now.Add(refreshIn),
		AccountName:   "octocat",
		CreatedAt:     f.now.Add(-24 * time.Hour),
		UpdatedAt:     f.now.Add(-24 * time.Hour),
	}
	require.NoError(t, f.store.Create(t.Context(), c))
	return *c
}

func TestEnsureFreshNotExpiredMakesNoCall(t *testing.T) {
	f := newServiceFixture(t)
	c := f.stored(t, time.Minute, time.Hour)

	got, err := f.svc.EnsureFresh(t.Context(), c)
	require.NoError(t, err)
	assert.Equal(t, c, got)
	assert.Zero(t, f.provider.calls())
	assert.Empty(t, f.observed)
}

func TestEnsureFreshRefreshesOnceAndPersists(t *testing.T) {
	f := newServiceFixture(t)
	c := f.stored(t, -time.Minute, time.Hour)

	got, err := f.svc.EnsureFresh(t.Context(), c)
	require.NoError(t, err)
	assert.Equal(t, 1, f.provider.calls())
	assert.Equal(t, "refreshed-access", got.AccessToken)
	assert.Equal(t, "octocat", got.AccountName)
	assert.Equal(t, c.CreatedAt, got.CreatedAt)
	assert.Equal(t, f.now, got.UpdatedAt)

	persisted, err := f.store.Get(t.Context(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, "refreshed-access", persisted.AccessToken)
	assert.Equal(t, []error{nil}, f.observed)

	spans := f.spans.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "connection.refresh", spans[0].Name())
}

func TestEnsureFreshRefreshExpiredRequiresReauthorization(t *testing.T) {
	f := newServiceFixture(t)
	c := f.stored(t, -time.Minute, -time.Second)

	_, err := f.svc.EnsureFresh(t.Context(), c)
	require.ErrorIs(t, err, connection.ErrReauthorizationRequired)
	assert.Zero(t, f.provider.calls())
}

func TestEnsureFreshProviderRejects(t *testing.T) {
	f := newServiceFixture(t)
	f.provider.refreshErr = errUpstreamRejected
	c := f.stored(t, -time.Minute, time.Hour)

	_, err := f.svc.EnsureFresh(t.Context(), c)
	require.ErrorIs(t, err, connection.ErrReauthorizationRequired)
	require.ErrorIs(t, err, errUpstreamRejected)
	assert.Equal(t, 1, f.provider.calls())
	assert.Equal(t, []error{errUpstreamRejected}, f.observed)

	persisted, err := f.store.Get(t.Context(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, "original-access", persisted.AccessToken)
}

func TestEnsureFreshPersistsAfterCallerCancels(t *testing.T) {
	f := newServiceFixture(t)
	c := f.stored(t, -time.Minute, time.Hour)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	f.provider.rotate = true
	f.provider.afterCall = cancel

	got, err := f.svc.EnsureFresh(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, "rotated-refresh", got.RefreshToken)

	persisted, err := f.store.Get(t.Context(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, "rotated-refresh", persisted.RefreshToken)
	assert.Equal(t, "refreshed-access", persisted.AccessToken)
}

func TestExchangePersistsAfterCallerCancels(t *testing.T) {
	f := newServiceFixture(t)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	f.provider.afterCall = cancel

	c, err := f.svc.Exchange(ctx, "acct-1", "fake", "abc")
	require.NoError(t, err)

	persisted, err := f.store.Get(t.Context(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, "refresh-abc", persisted.RefreshToken)
}

func TestOpenUsesFreshToken(t *testing.T) {
	f := newServiceFixture(t)
	c := f.stored(t, -time.Minute, time.Hour)

	live, err := f.svc.Open(t.Context(), c)
	require.NoError(t, err)
	assert.Equal(t, "refreshed-access", live.Connection().AccessToken)

	locs, err := live.Locations(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "repo via refreshed-access", locs[0].Name)

	info, err := live.ProfileInfo(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "name for refreshed-access", info.AccountName)
	assert.Equal(t, 1, f.provider.calls())
}

func TestExchangePersistsConnection(t *testing.T) {
	f := newServiceFixture(t)

	c, err := f.svc.Exchange(t.Context(), "acct-1", "fake", "abc")
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, "acct-1", c.AccountID)
	assert.Equal(t, "fake", c.Type)
	assert.Equal(t, "name for access-abc", c.AccountName)
	assert.Equal(t, f.now, c.CreatedAt)

	conns, err := f.svc.List(t.Context(), "acct-1")
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.Equal(t, c.ID, conns[0].ID)
}

func TestExchangeFailuresPersistNothing(t *testing.T) {
	tests := []struct {
		name  string
		setup func(p *fakeProvider)
	}{
		{"exchange rejected", func(p *fakeProvider) { p.exchangeErr = errUpstreamRejected }},
		{"profile fetch failed", func(p *fakeProvider) { p.profileErr = errUpstreamRejected }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture(t)
			tt.setup(f.provider)

			_, err := f.svc.Exchange(t.Context(), "acct-1", "fake", "abc")
			require.ErrorIs(t, err, connection.ErrUpstream)
			require.ErrorIs(t, err, errUpstreamRejected)

			conns, err := f.svc.List(t.Context(), "acct-1")
			require.NoError(t, err)
			assert.Empty(t, conns)
		})
	}
}

func TestExchangeUnknownProvider(t *testing.T) {
	f := newServiceFixture(t)
	_, err := f.svc.Exchange(t.Context(), "acct-1", "gitlab", "abc")
	require.ErrorIs(t, err, connection.ErrUnknownProvider)

	_, err = f.svc.AuthorizationURL("gitlab", "state")
	require.ErrorIs(t, err, connection.ErrUnknownProvider)

	u, err := f.svc.AuthorizationURL("fake", "state")
	require.NoError(t, err)
	assert.Equal(t, "https://fake.example/authorize?state=state", u)
}

func TestOwnershipIsEnforced(t *testing.T) {
	f := newServiceFixture(t)
	c := f.stored(t, time.Hour, 0)

	_, err := f.svc.Get(t.Context(), "acct-2", c.ID)
	require.ErrorIs(t, err, connection.ErrNotFound)
	require.ErrorIs(t, f.svc.Delete(t.Context(), "acct-2", c.ID), connection.ErrNotFound)
	_, err = f.svc.Locations(t.Context(), "acct-2", c.ID)
	require.ErrorIs(t, err, connection.ErrNotFound)
	_, err = f.svc.SyncProfile(t.Context(), "acct-2", c.ID)
	require.ErrorIs(t, err, connection.ErrNotFound)

	got, err := f.svc.Get(t.Context(), "acct-1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)

	require.NoError(t, f.svc.Delete(t.Context(), "acct-1", c.ID))
	_, err = f.svc.Get(t.Context(), "acct-1", c.ID)
	require.ErrorIs(t, err, connection.ErrNotFound)
}

func TestSyncProfileRefreshesAndStores(t *testing.T) {
	f := newServiceFixture(t)
	c := f.stored(t, -time.Minute, time.Hour)

	updated, err := f.svc.SyncProfile(t.Context(), "acct-1", c.ID)
	require.NoError(t, err)
	assert.Equal(t, "name for refreshed-access", updated.AccountName)
	assert.Equal(t, 1, f.provider.calls())

	persisted, err := f.store.Get(t.Context(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, "name for refreshed-access", persisted.AccountName)
	assert.Equal(t, "refreshed-access", persisted.AccessToken)
}

func TestLocationsErrors(t *testing.T) {
	f := newServiceFixture(t)
	c := f.stored(t, time.Hour, 0)

	f.provider.locationsErr = connection.ErrLocationsUnsupported
	_, err := f.svc.Locations(t.Context(), "acct-1", c.ID)
	require.ErrorIs(t, err, connection.ErrLocationsUnsupported)
	assert.NotErrorIs(t, err, connection.ErrUpstream)

	f.provider.locationsErr = errUpstreamRejected
	_, err = f.svc.Locations(t.Context(), "acct-1", c.ID)
	require.ErrorIs(t, err, connection.ErrUpstream)
}

func TestLocationsReauthorization(t *testing.T) {
	f := newServiceFixture(t)
	c := f.stored(t, -time.Minute, -time.Minute)

	_, err := f.svc.Locations(t.Context(), "acct-1", c.ID)
	require.ErrorIs(t, err, connection.ErrReauthorizationRequired)
	assert.Zero(t, f.provider.calls())
}
