package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"serene/backend/internal/domain"
	"serene/backend/internal/events"
	"serene/backend/internal/ledger"
	"serene/backend/internal/store"
)

// ErrUnauthorized is returned before any work when the caller is not a
// resolved, logged-in actor.
var ErrUnauthorized = errors.New("unauthorized")

type Service struct {
	repo      store.Repository
	ledger    *ledger.Ledger
	publisher events.Publisher
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

func New(repo store.Repository, ledger *ledger.Ledger, publisher events.Publisher, logger *zap.Logger) *Service {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:      repo,
		ledger:    ledger,
		publisher: publisher,
		logger:    logger,
		tracer:    otel.Tracer("serene/backend/service"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// start authorizes the actor and opens the operation span. Callers must
// pass the returned span to end.
func (s *Service) start(ctx context.Context, actor domain.Actor, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span, error) {
	if !actor.Authenticated() {
		return ctx, nil, ErrUnauthorized
	}
	ctx, span := s.tracer.Start(ctx, "service."+op)
	span.SetAttributes(append(attrs,
		attribute.String("actor.username", actor.Username),
		attribute.String("actor.role", actor.Role),
	)...)
	return ctx, span, nil
}

func (s *Service) end(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func invalid(format string, args ...any) error {
	return store.Errorf(store.ErrInvalidInput, format, args...)
}

func conflict(format string, args ...any) error {
	return store.Errorf(store.ErrConflict, format, args...)
}

// notFound replaces a bare store.ErrNotFound with msg and passes every other
// error through.
func notFound(err error, msg string) error {
	var typed *store.Error
	if errors.Is(err, store.ErrNotFound) && !errors.As(err, &typed) {
		return store.Errorf(store.ErrNotFound, "%s", msg)
	}
	return err
}

func trimmed(val *string) *string {
	if val == nil {
		return nil
	}
	v := strings.TrimSpace(*val)
	return &v
}

func negative(val *float64) bool {
	return val != nil && *val < 0
}
