package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/subtask-dev/subtask/internal/uuid"
)

const tracerName = "github.com/subtask-dev/subtask/connection"

// RefreshObserver is notified after every refresh attempt. err is nil on
// success.
type RefreshObserver func(provider string, err error)

// Service owns the connection lifecycle. It is the only caller of
// Provider.Refresh.
type Service struct {
	registry  *Registry
	store     Store
	now       func() time.Time
	tracer    trace.Tracer
	logger    *slog.Logger
	onRefresh RefreshObserver
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithTracerProvider sets the provider used for spans around upstream calls.
// Defaults to the global otel provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) {
		s.tracer = tp.Tracer(tracerName)
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithRefreshObserver registers fn to be told about refresh outcomes.
func WithRefreshObserver(fn RefreshObserver) Option {
	return func(s *Service) {
		s.onRefresh = fn
	}
}

// NewService returns a Service dispatching to registry and persisting to
// store.
func NewService(registry *Registry, store Store, opts ...Option) *Service {
	s := &Service{
		registry: registry,
		store:    store,
		now:      time.Now,
		tracer:   otel.Tracer(tracerName),
		logger:   slog.New(slog.NewJSONHandler(os.Stderr, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry returns the provider registry.
func (s *Service) Registry() *Registry {
	return s.registry
}

// AuthorizationURL returns the consent URL of provider key.
func (s *Service) AuthorizationURL(key, state string) (string, error) {
	p, err := s.registry.Get(key)
	if err != nil {
		return "", err
	}
	return p.AuthorizationURL(state), nil
}

// EnsureFresh returns c with a usable access token. A refresh happens only
// when the access token has expired, and is persisted only if it succeeds.
func (s *Service) EnsureFresh(ctx context.Context, c Connection) (Connection, error) {
	now := s.now()
	if !c.AccessExpired(now) {
		return c, nil
	}
	if !c.Refreshable(now) {
		return Connection{}, fmt.Errorf("%w: %s connection %s refresh token expired", ErrReauthorizationRequired, c.Type, c.ID)
	}
	p, err := s.registry.Get(c.Type)
	if err != nil {
		return Connection{}, err
	}

	ctx, span := s.startSpan(ctx, "connection.refresh", c.Type)
	defer span.End()
	span.SetAttributes(attribute.String("connection.id", c.ID))

	refreshed, err := p.Refresh(ctx, c)
	if err != nil {
		s.observeRefresh(c.Type, err)
		endSpan(span, err)
		return Connection{}, fmt.Errorf("%w: %w", ErrReauthorizationRequired, err)
	}
	refreshed.ID = c.ID
	refreshed.AccountID = c.AccountID
	refreshed.Type = c.Type
	refreshed.AccountName = c.AccountName
	refreshed.AccountImage = c.AccountImage
	refreshed.CreatedAt = c.CreatedAt
	refreshed.Version = c.Version
	refreshed.UpdatedAt = now.UTC()

	// The provider may already have revoked the old refresh token, so the new
	// one is written even if the caller has gone away.
	persistCtx := context.WithoutCancel(ctx)
	if err := s.store.Update(persistCtx, &refreshed); err != nil {
		if errors.Is(err, ErrConflict) {
			// Another request refreshed first; its tokens are as good as ours.
			if stored, getErr := s.store.Get(persistCtx, c.ID); getErr == nil && !stored.AccessExpired(now) {
				s.observeRefresh(c.Type, nil)
				return *stored, nil
			}
		}
		endSpan(span, err)
		return Connection{}, fmt.Errorf("persisting refreshed connection: %w", err)
	}
	s.observeRefresh(c.Type, nil)
	s.logger.Info("connection refreshed", "connection_id", c.ID, "provider", c.Type)
	return refreshed, nil
}

// Open refreshes c if needed and binds it to its provider.
func (s *Service) Open(ctx context.Context, c Connection) (*Live, error) {
	p, err := s.registry.Get(c.Type)
	if err != nil {
		return nil, err
	}
	fresh, err := s.EnsureFresh(ctx, c)
	if err != nil {
		return nil, err
	}
	return &Live{conn: fresh, provider: p, svc: s}, nil
}

// Exchange completes an authorization for accountID: it trades code for
// tokens, fetches the profile and persists the new connection. Nothing is
// stored unless every step succeeds.
func (s *Service) Exchange(ctx context.Context, accountID, key, code string) (*Connection, error) {
	p, err := s.registry.Get(key)
	if err != nil {
		return nil, err
	}

	ctx, span := s.startSpan(ctx, "connection.exchange", key)
	defer span.End()

	c, err := p.Exchange(ctx, code)
	if err != nil {
		endSpan(span, err)
		return nil, upstream(err)
	}
	info, err := p.ProfileInfo(ctx, c)
	if err != nil {
		endSpan(span, err)
		return nil, upstream(err)
	}
	now := s.now().UTC()
	c.Apply(info)
	c.ID = uuid.New()
	c.AccountID = accountID
	c.Type = key
	c.CreatedAt = now
	c.UpdatedAt = now
	// The code is spent upstream; keep the tokens even if the caller left.
	if err := s.store.Create(context.WithoutCancel(ctx), &c); err != nil {
		endSpan(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.String("connection.id", c.ID))
	return &c, nil
}

// List returns the connections owned by accountID.
func (s *Service) List(ctx context.Context, accountID string) ([]*Connection, error) {
	return s.store.ListByAccount(ctx, accountID)
}

// Get returns connection id if it is owned by accountID.
func (s *Service) Get(ctx context.Context, accountID, id string) (*Connection, error) {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.AccountID != accountID {
		return nil, ErrNotFound
	}
	return c, nil
}

// Delete removes connection id if it is owned by accountID.
func (s *Service) Delete(ctx context.Context, accountID, id string) error {
	if _, err := s.Get(ctx, accountID, id); err != nil {
		return err
	}
	return s.store.Delete(ctx, id)
}

// SyncProfile re-fetches the profile of connection id and stores it.
func (s *Service) SyncProfile(ctx context.Context, accountID, id string) (*Connection, error) {
	c, err := s.Get(ctx, accountID, id)
	if err != nil {
		return nil, err
	}
	live, err := s.Open(ctx, *c)
	if err != nil {
		return nil, err
	}
	info, err := live.ProfileInfo(ctx)
	if err != nil {
		return nil, err
	}
	updated := live.Connection()
	updated.Apply(info)
	updated.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// Locations lists the targets connection id can act on.
func (s *Service) Locations(ctx context.Context, accountID, id string) ([]Location, error) {
	c, err := s.Get(ctx, accountID, id)
	if err != nil {
		return nil, err
	}
	live, err := s.Open(ctx, *c)
	if err != nil {
		return nil, err
	}
	return live.Locations(ctx)
}

func (s *Service) observeRefresh(provider string, err error) {
	if err != nil {
		s.logger.Warn("connection refresh failed", "provider", provider, "error", err)
	}
	if s.onRefresh != nil {
		s.onRefresh(provider, err)
	}
}

func (s *Service) startSpan(ctx context.Context, name, provider string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("connection.provider", provider)),
	)
}

func endSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func upstream(err error) error {
	if errors.Is(err, ErrUpstream) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUpstream, err)
}

// Live is a connection known to hold a usable access token, bound to its
// provider. It is only obtained through Service.Open.
type Live struct {
	conn     Connection
	provider Provider
	svc      *Service
}

// Connection returns a copy of the fresh connection.
func (l *Live) Connection() Connection {
	return l.conn
}

// ProfileInfo fetches the identity's display metadata.
func (l *Live) ProfileInfo(ctx context.Context) (ProfileInfo, error) {
	ctx, span := l.svc.startSpan(ctx, "connection.profile", l.conn.Type)
	defer span.End()
	info, err := l.provider.ProfileInfo(ctx, l.conn)
	if err != nil {
		endSpan(span, err)
		return ProfileInfo{}, upstream(err)
	}
	return info, nil
}

// Locations lists the identity's targets.
func (l *Live) Locations(ctx context.Context) ([]Location, error) {
	ctx, span := l.svc.startSpan(ctx, "connection.locations", l.conn.Type)
	defer span.End()
	locs, err := l.provider.Locations(ctx, l.conn)
	if errors.Is(err, ErrLocationsUnsupported) {
		return nil, err
	}
	if err != nil {
		endSpan(span, err)
		return nil, upstream(err)
	}
	return locs, nil
}
