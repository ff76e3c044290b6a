package dispute

import (
	"context"

	"campusswap/auth"
)

// Reader is the read side of the dispute log.
type Reader interface {
	Get(ctx context.Context, id string) (Record, error)
	List(ctx context.Context, f ListFilter) ([]Record, error)
}

// Service serves dispute reads. Writes go through the swap service so they
// commit with the swap.
type Service struct {
	repo Reader
}

func NewService(repo Reader) *Service {
	return &Service{repo: repo}
}

// List returns disputes visible to the actor: resolvers see all, everyone
// else only disputes on their own swaps.
func (s *Service) List(ctx context.Context, actor auth.Actor, f ListFilter) ([]Record, error) {
	if !actor.IsResolver() {
		f.UserID = actor.ID
	}
	return s.repo.List(ctx, f)
}

func (s *Service) Get(ctx context.Context, actor auth.Actor, id string) (Record, error) {
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if !actor.IsResolver() && !rec.Parties.Has(actor.ID) {
		return Record{}, ErrForbidden
	}
	return rec, nil
}
