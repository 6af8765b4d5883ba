// Package service composes the alert store and the query cache. It is the
// only entry point transport code uses.
package service

import (
	"context"
	"time"

	"pricealerts/internal/cache"
	"pricealerts/internal/database"
	"pricealerts/internal/events"
	"pricealerts/internal/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	DefaultPerPage = 10
	MaxPerPage     = 100
)

var tracer = otel.Tracer("pricealerts/internal/service")

// Store is the persistence the service needs.
type Store interface {
	Create(ctx context.Context, in database.NewAlert) (*models.Alert, error)
	Delete(ctx context.Context, id int64, ownerID string) (bool, error)
	GetByID(ctx context.Context, id int64, ownerID string) (*models.Alert, error)
	Query(ctx context.Context, p database.QueryParams) ([]*models.Alert, int, error)
}

// QueryCache holds rendered list results. Invalidate bumps the owner's
// generation; Put drops the page if the generation moved since it was read.
type QueryCache interface {
	Get(ctx context.Context, key cache.Key) (*models.AlertPage, bool, error)
	Generation(ctx context.Context, ownerID string) (uint64, error)
	Put(ctx context.Context, key cache.Key, generation uint64, page *models.AlertPage) error
	Invalidate(ctx context.Context, ownerID string) error
}

// FetchParams are the list query inputs. Zero values select the defaults.
type FetchParams struct {
	Status  string
	Page    int
	PerPage int
}

// AlertService enforces ownership and keeps the query cache coherent with
// the store.
type AlertService struct {
	store          Store
	cache          QueryCache
	events         events.Publisher
	log            *zap.Logger
	defaultPerPage int
	maxPerPage     int
	now            func() time.Time
}

// Option configures an AlertService.
type Option func(*AlertService)

// WithEvents sets the lifecycle event publisher.
func WithEvents(p events.Publisher) Option {
	return func(s *AlertService) {
		s.events = p
	}
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *AlertService) {
		s.log = log
	}
}

// WithPaging overrides the default and maximum page sizes. Non-positive
// values keep the current setting.
func WithPaging(defaultPerPage, maxPerPage int) Option {
	return func(s *AlertService) {
		if defaultPerPage > 0 {
			s.defaultPerPage = defaultPerPage
		}
		if maxPerPage > 0 {
			s.maxPerPage = maxPerPage
		}
	}
}

// New creates an AlertService. A nil cache disables caching.
func New(store Store, queryCache QueryCache, opts ...Option) *AlertService {
	if queryCache == nil {
		queryCache = cache.Nop{}
	}
	s := &AlertService{
		store:          store,
		cache:          queryCache,
		events:         events.Nop{},
		log:            zap.NewNop(),
		defaultPerPage: DefaultPerPage,
		maxPerPage:     MaxPerPage,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.defaultPerPage > s.maxPerPage {
		s.defaultPerPage = s.maxPerPage
	}
	return s
}

// CreateAlert persists a new alert for principal and drops the principal's
// cached lists once the write is committed.
func (s *AlertService) CreateAlert(ctx context.Context, principal string, targetPrice float64) (*models.Alert, error) {
	ctx, span := tracer.Start(ctx, "AlertService.CreateAlert")
	defer span.End()

	if principal == "" {
		return nil, models.NewValidationError("principal is required")
	}

	alert, err := s.store.Create(ctx, database.NewAlert{OwnerID: principal, TargetPrice: targetPrice})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int64("alert.id", alert.ID))

	s.afterWrite(ctx, principal, events.AlertEvent{
		Type:        events.TypeAlertCreated,
		AlertID:     alert.ID,
		OwnerID:     principal,
		TargetPrice: alert.TargetPrice,
		Status:      alert.Status,
	})
	return alert, nil
}

// DeleteAlert removes principal's alert id. Absent and foreign alerts both
// yield models.ErrNotFound.
func (s *AlertService) DeleteAlert(ctx context.Context, principal string, id int64) error {
	ctx, span := tracer.Start(ctx, "AlertService.DeleteAlert")
	defer span.End()
	span.SetAttributes(attribute.Int64("alert.id", id))

	deleted, err := s.store.Delete(ctx, id, principal)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete failed")
		return err
	}
	if !deleted {
		return models.ErrNotFound
	}

	s.afterWrite(ctx, principal, events.AlertEvent{
		Type:    events.TypeAlertDeleted,
		AlertID: id,
		OwnerID: principal,
	})
	return nil
}

// GetAlert returns principal's alert id. It bypasses the query cache.
func (s *AlertService) GetAlert(ctx context.Context, principal string, id int64) (*models.Alert, error) {
	ctx, span := tracer.Start(ctx, "AlertService.GetAlert")
	defer span.End()
	span.SetAttributes(attribute.Int64("alert.id", id))

	return s.store.GetByID(ctx, id, principal)
}

// FetchAlerts returns one page of principal's alerts, served from the query
// cache when a fresh entry exists.
func (s *AlertService) FetchAlerts(ctx context.Context, principal string, p FetchParams) (*models.AlertPage, error) {
	ctx, span := tracer.Start(ctx, "AlertService.FetchAlerts")
	defer span.End()

	p = s.normalize(p)
	key := cache.Key{OwnerID: principal, Status: p.Status, Page: p.Page, PerPage: p.PerPage}
	span.SetAttributes(
		attribute.Int("page", p.Page),
		attribute.Int("per_page", p.PerPage),
		attribute.String("status_filter", p.Status),
	)

	page, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		s.log.Warn("Cache lookup failed, falling back to store",
			zap.String("trace_id", span.SpanContext().TraceID().String()),
			zap.Error(err),
		)
	} else if ok {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return page, nil
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))

	// Read the generation before the store so a write committed during the
	// query makes the resulting page uncacheable.
	gen, genErr := s.cache.Generation(ctx, principal)
	if genErr != nil {
		s.log.Warn("Cache generation lookup failed, page will not be cached",
			zap.String("trace_id", span.SpanContext().TraceID().String()),
			zap.Error(genErr),
		)
	}

	alerts, total, err := s.store.Query(ctx, database.QueryParams{
		OwnerID: principal,
		Status:  p.Status,
		Page:    p.Page,
		PerPage: p.PerPage,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		return nil, err
	}

	page = models.NewAlertPage(alerts, total, p.Page, p.PerPage)
	if genErr != nil {
		return page, nil
	}
	if err := s.cache.Put(ctx, key, gen, page); err != nil {
		s.log.Warn("Failed to store page in cache",
			zap.String("trace_id", span.SpanContext().TraceID().String()),
			zap.Error(err),
		)
	}
	return page, nil
}

func (s *AlertService) normalize(p FetchParams) FetchParams {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PerPage < 1 {
		p.PerPage = s.defaultPerPage
	}
	if p.PerPage > s.maxPerPage {
		p.PerPage = s.maxPerPage
	}
	return p
}

// afterWrite runs once a write is committed. It must not observe the
// request's cancellation: the write is durable either way.
func (s *AlertService) afterWrite(ctx context.Context, principal string, event events.AlertEvent) {
	ctx = context.WithoutCancel(ctx)
	traceID := zap.String("trace_id", spanTraceID(ctx))

	if err := s.cache.Invalidate(ctx, principal); err != nil {
		s.log.Error("Failed to invalidate cached alert lists",
			traceID,
			zap.String("owner_id", principal),
			zap.Error(err),
		)
	}

	event.Timestamp = s.now().UTC()
	if err := s.events.Publish(ctx, event); err != nil {
		s.log.Warn("Failed to publish alert event",
			traceID,
			zap.String("event_type", event.Type),
			zap.Int64("alert_id", event.AlertID),
			zap.Error(err),
		)
	}
}

func spanTraceID(ctx context.Context) string {
	return trace.SpanFromContext(ctx).SpanContext().TraceID().String()
}
