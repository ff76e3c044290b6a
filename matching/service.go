package matching

import (
	"context"

	"campusswap/catalog"
)

// Snapshotter lists the active catalog.
type Snapshotter interface {
	ListActive(ctx context.Context, limit int) ([]catalog.Item, error)
}

// Service matches preferences against the current catalog snapshot.
type Service struct {
	items        Snapshotter
	engine       *Engine
	snapshotSize int
}

func NewService(items Snapshotter, engine *Engine) *Service {
	return &Service{items: items, engine: engine, snapshotSize: 2000}
}

func (s *Service) Match(ctx context.Context, prefs Preferences) ([]Result, error) {
	candidates, err := s.items.ListActive(ctx, s.snapshotSize)
	if err != nil {
		return nil, err
	}
	return s.engine.Match(ctx, candidates, prefs)
}
