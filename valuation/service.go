package valuation

import (
	"context"
	"time"

	"campusswap/catalog"

	"go.uber.org/zap"
)

// MarketSource supplies the comparable-sales and supply signals.
type MarketSource interface {
	ComparableSales(ctx context.Context, category string, since time.Time) ([]catalog.Sale, error)
	CountActive(ctx context.Context, category string) (int, error)
}

// ItemStore is the slice of the catalog the re-valuation path needs.
type ItemStore interface {
	MarketSource
	GetByID(ctx context.Context, id string) (catalog.Item, error)
	Revalue(ctx context.Context, id string, points int64) error
}

// Service gathers market signals and stores re-valuations.
type Service struct {
	items  ItemStore
	engine *CachedEngine
	window time.Duration
	now    func() time.Time
	logger *zap.Logger
}

func NewService(items ItemStore, engine *CachedEngine, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		items:  items,
		engine: engine,
		window: 90 * 24 * time.Hour,
		now:    time.Now,
		logger: logger,
	}
}

// WithClock overrides the clock used for the comparable-sales window.
func (s *Service) WithClock(fn func() time.Time) *Service {
	if fn != nil {
		s.now = fn
	}
	return s
}

// Signals reads the market activity for a category.
func (s *Service) Signals(ctx context.Context, category string) (MarketSignals, error) {
	sales, err := s.items.ComparableSales(ctx, category, s.now().Add(-s.window))
	if err != nil {
		return MarketSignals{}, err
	}
	active, err := s.items.CountActive(ctx, category)
	if err != nil {
		return MarketSignals{}, err
	}
	return MarketSignals{RecentSales: len(sales), ActiveListings: active}, nil
}

// Estimate values arbitrary attributes against live market signals.
func (s *Service) Estimate(ctx context.Context, attrs Attributes) (Result, error) {
	signals, err := s.Signals(ctx, attrs.Category)
	if err != nil {
		// market data is advisory; value without it
		s.logger.Warn("valuation: market signals unavailable", zap.String("category", attrs.Category), zap.Error(err))
		signals = MarketSignals{}
	}
	return s.engine.Valuate(ctx, attrs, signals)
}

// Revalue recomputes an item's points and persists them.
func (s *Service) Revalue(ctx context.Context, itemID string) (Result, error) {
	item, err := s.items.GetByID(ctx, itemID)
	if err != nil {
		return Result{}, err
	}
	res, err := s.Estimate(ctx, Attributes{
		Category:  item.Category,
		Condition: item.Condition,
		AgeMonths: float64(item.AgeMonths),
	})
	if err != nil {
		return Result{}, err
	}
	if err := s.items.Revalue(ctx, itemID, res.Points); err != nil {
		return Result{}, err
	}
	s.logger.Info("item revalued",
		zap.String("item_id", itemID),
		zap.Int64("previous_points", item.Points),
		zap.Int64("points", res.Points),
		zap.Float64("confidence", res.Confidence),
	)
	return res, nil
}
