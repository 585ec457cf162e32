package kitchen

import (
	"context"
	"time"

	"github.com/kds/backend/internal/domain/kitchen"
	"github.com/kds/backend/internal/infrastructure/telemetry"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// OrderSource fetches raw orders from the point-of-sale system
type OrderSource interface {
	FetchOrders(ctx context.Context) ([]kitchen.Order, error)
	FetchLineItems(ctx context.Context, orderID string) ([]kitchen.LineItem, error)
}

// CompletionReader exposes an atomic view of the completion state
type CompletionReader interface {
	Snapshot() kitchen.CompletionSet
}

// SyncConfig controls which orders are shown and how they are rendered
type SyncConfig struct {
	// WindowSize is how many of the newest orders are considered
	WindowSize int
	// Location decides the calendar day and renders creation times
	Location *time.Location
	// TimeLayout formats createdTimeHumanReadable
	TimeLayout string
	// EnrichConcurrency bounds parallel line item fetches; 1 is sequential
	EnrichConcurrency int
}

// DefaultSyncConfig returns the configuration used when none is supplied
func DefaultSyncConfig() SyncConfig {
	loc, err := kitchen.LoadLocation(kitchen.DefaultTimezone)
	if err != nil {
		loc = time.Local
	}
	return SyncConfig{
		WindowSize:        10,
		Location:          loc,
		TimeLayout:        kitchen.DefaultTimeLayout,
		EnrichConcurrency: 1,
	}
}

func (c SyncConfig) normalized() SyncConfig {
	def := DefaultSyncConfig()
	if c.WindowSize <= 0 {
		c.WindowSize = def.WindowSize
	}
	if c.Location == nil {
		c.Location = def.Location
	}
	if c.TimeLayout == "" {
		c.TimeLayout = def.TimeLayout
	}
	if c.EnrichConcurrency <= 0 {
		c.EnrichConcurrency = def.EnrichConcurrency
	}
	return c
}

// SyncService builds the display list of today's newest orders
type SyncService struct {
	source      OrderSource
	completions CompletionReader
	config      SyncConfig
	now         func() time.Time
	logger      *zap.Logger
	metrics     *telemetry.Metrics
}

// SyncOption configures a SyncService
type SyncOption func(*SyncService)

// WithSyncLogger sets the logger
func WithSyncLogger(logger *zap.Logger) SyncOption {
	return func(s *SyncService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) SyncOption {
	return func(s *SyncService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithSyncMetrics records sync durations into m
func WithSyncMetrics(m *telemetry.Metrics) SyncOption {
	return func(s *SyncService) {
		s.metrics = m
	}
}

// NewSyncService creates a sync service
func NewSyncService(source OrderSource, completions CompletionReader, config SyncConfig, opts ...SyncOption) *SyncService {
	s := &SyncService{
		source:      source,
		completions: completions,
		config:      config.normalized(),
		now:         time.Now,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("sync")
	return s
}

// Config returns the effective configuration
func (s *SyncService) Config() SyncConfig {
	return s.config
}

// SyncOrders returns today's newest orders, newest first, with normalized
// names and completion flags merged in. Upstream failures degrade to fewer
// orders or empty line items; the only error returned is ctx's.
func (s *SyncService) SyncOrders(ctx context.Context) ([]kitchen.EnrichedOrder, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "kitchen", "sync_orders",
		telemetry.WithAttribute(telemetry.SpanAttrWindowSize, s.config.WindowSize),
	)
	defer span.End()
	start := time.Now()

	orders, err := s.source.FetchOrders(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			telemetry.RecordError(span, ctxErr)
			return nil, ctxErr
		}
		s.logger.Warn("Failed to fetch orders, returning empty list", zap.Error(err))
		telemetry.AddEvent(span, "fetch_orders_failed", "error", err.Error())
		s.metrics.ObserveSync(time.Since(start), 0)
		return []kitchen.EnrichedOrder{}, nil
	}

	orders = s.selectOrders(orders)

	if err := s.attachLineItems(ctx, orders); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	completions := s.completions.Snapshot()
	enriched := make([]kitchen.EnrichedOrder, 0, len(orders))
	for _, o := range orders {
		enriched = append(enriched, o.Enrich(completions, s.config.Location, s.config.TimeLayout))
	}

	telemetry.SetAttributes(span, telemetry.SpanAttrOrdersCount, len(enriched))
	s.metrics.ObserveSync(time.Since(start), len(enriched))
	s.logger.Debug("Orders synchronized", zap.Int("orders", len(enriched)))
	return enriched, nil
}

// selectOrders sorts newest first, keeps the window and drops orders not
// created today. The input slice is reordered in place.
func (s *SyncService) selectOrders(orders []kitchen.Order) []kitchen.Order {
	kitchen.SortNewestFirst(orders)
	if len(orders) > s.config.WindowSize {
		orders = orders[:s.config.WindowSize]
	}

	now := s.now()
	today := make([]kitchen.Order, 0, len(orders))
	for _, o := range orders {
		if o.IsSameDay(now, s.config.Location) {
			today = append(today, o)
		}
	}
	return today
}

// attachLineItems fetches line items for every order with bounded fan-out.
// Results are written by index so order is preserved. A failed fetch leaves
// the order with no line items.
func (s *SyncService) attachLineItems(ctx context.Context, orders []kitchen.Order) error {
	var g errgroup.Group
	g.SetLimit(s.config.EnrichConcurrency)

	for i := range orders {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			items, err := s.source.FetchLineItems(ctx, orders[i].ID)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Warn("Failed to fetch line items, showing order without them",
						zap.String("order_id", orders[i].ID),
						zap.Error(err),
					)
				}
				items = make([]kitchen.LineItem, 0)
			}
			orders[i].LineItems = items
			return nil
		})
	}
	_ = g.Wait()

	return ctx.Err()
}
