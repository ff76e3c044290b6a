package swap

import (
	"context"
	"fmt"
	"time"

	"campusswap/auth"
	"campusswap/dispute"
	"campusswap/ledger"
	"campusswap/notify"

	"github.com/jackc/pgx/v5"
)

// OpenDispute moves a DELIVERED swap (inside the dispute window) or a
// dispute-eligible scheduled swap to DISPUTED. A second active dispute is
// a conflict.
func (s *Service) OpenDispute(ctx context.Context, id string, actor auth.Actor, version int64, req dispute.OpenRequest) (Swap, error) {
	return s.mutate(ctx, id, actor, version, participant, func(next *Swap, now time.Time) (effect, error) {
		rec, err := s.resolver.Open(next.Dispute, next.ID, next.Parties(), actor, req)
		if err != nil {
			return nil, err
		}
		if err := next.openDispute(rec, s.policy.DisputeWindow, now); err != nil {
			return nil, err
		}
		return func(ctx context.Context, tx pgx.Tx) ([]notify.Message, error) {
			if err := s.disputes.SaveTx(ctx, tx, rec); err != nil {
				return nil, err
			}
			msg, err := notify.NewMessage(notify.TopicDisputeOpened, rec.SwapID, notify.DisputeOpened{
				SwapID:    rec.SwapID,
				DisputeID: rec.ID,
				OpenedBy:  rec.OpenedBy,
				Reason:    rec.Reason.String(),
				At:        rec.OpenedAt,
			})
			if err != nil {
				return nil, err
			}
			return []notify.Message{msg}, nil
		}, nil
	})
}

// InvestigateDispute assigns the acting resolver.
func (s *Service) InvestigateDispute(ctx context.Context, id string, actor auth.Actor, version int64) (Swap, error) {
	return s.mutate(ctx, id, actor, version, resolver, func(next *Swap, now time.Time) (effect, error) {
		rec, err := next.activeDispute()
		if err != nil {
			return nil, err
		}
		rec, err = s.resolver.Investigate(rec, actor)
		if err != nil {
			return nil, err
		}
		if err := next.updateDispute(EventDisputeInvestigating, actor.ID, rec, now); err != nil {
			return nil, err
		}
		return s.saveDispute(rec), nil
	})
}

func (s *Service) AddDisputeEvidence(ctx context.Context, id string, actor auth.Actor, version int64, in dispute.EvidenceInput) (Swap, error) {
	return s.mutate(ctx, id, actor, version, participantOrResolver, func(next *Swap, now time.Time) (effect, error) {
		rec, err := next.activeDispute()
		if err != nil {
			return nil, err
		}
		rec, err = s.resolver.AddEvidence(rec, actor, in)
		if err != nil {
			return nil, err
		}
		if err := next.updateDispute(EventDisputeEvidence, actor.ID, rec, now); err != nil {
			return nil, err
		}
		return s.saveDispute(rec), nil
	})
}

// ResolveDispute applies the resolver's decision in one transaction:
// COMPLETE_SWAP settles the original difference and swaps the items,
// CANCEL_SWAP releases them, and a positive compensation moves points from
// the other participant to the beneficiary.
func (s *Service) ResolveDispute(ctx context.Context, id string, actor auth.Actor, version int64, req dispute.ResolveRequest) (Swap, error) {
	return s.mutate(ctx, id, actor, version, resolver, func(next *Swap, now time.Time) (effect, error) {
		rec, err := next.activeDispute()
		if err != nil {
			return nil, err
		}
		rec, err = s.resolver.Resolve(rec, actor, req)
		if err != nil {
			return nil, err
		}
		to := StateCancelled
		outcome := s.releaseItems(*next)
		if rec.Resolution.Decision == dispute.DecisionCompleteSwap {
			to = StateCompleted
			outcome = s.complete(*next, now)
		}
		if err := next.settleDispute(EventDisputeResolved, actor.ID, rec, to, now); err != nil {
			return nil, err
		}
		return chain(s.saveDispute(rec), outcome, s.compensate(*next, *rec.Resolution, now)), nil
	})
}

// WithdrawDispute closes the opener's dispute and completes the swap with
// its original settlement. Only a dispute over delivered items can be
// withdrawn; one opened over a missed window waits for a resolver.
func (s *Service) WithdrawDispute(ctx context.Context, id string, actor auth.Actor, version int64) (Swap, error) {
	return s.mutate(ctx, id, actor, version, participant, func(next *Swap, now time.Time) (effect, error) {
		rec, err := next.activeDispute()
		if err != nil {
			return nil, err
		}
		rec, err = s.resolver.Withdraw(rec, actor)
		if err != nil {
			return nil, err
		}
		if err := next.withdrawDispute(actor.ID, rec, now); err != nil {
			return nil, err
		}
		return chain(s.saveDispute(rec), s.complete(*next, now)), nil
	})
}

// CloseDispute archives a resolved dispute. The swap is already terminal;
// only its dispute record and timeline change.
func (s *Service) CloseDispute(ctx context.Context, id string, actor auth.Actor, version int64) (Swap, error) {
	return s.mutate(ctx, id, actor, version, resolverOrSystem, func(next *Swap, now time.Time) (effect, error) {
		rec, err := next.activeDispute()
		if err != nil {
			return nil, err
		}
		rec, err = s.resolver.Close(rec, actor)
		if err != nil {
			return nil, err
		}
		if err := next.updateDispute(EventDisputeClosed, actor.ID, rec, now); err != nil {
			return nil, err
		}
		return s.saveDispute(rec), nil
	})
}

func (s *Service) saveDispute(rec dispute.Record) effect {
	return func(ctx context.Context, tx pgx.Tx) ([]notify.Message, error) {
		return nil, s.disputes.SaveTx(ctx, tx, rec)
	}
}

func (s *Service) compensate(sw Swap, res dispute.Resolution, now time.Time) effect {
	if res.Compensation <= 0 {
		return nil
	}
	return func(ctx context.Context, tx pgx.Tx) ([]notify.Message, error) {
		entries, err := s.ledger.SettleTx(ctx, tx, ledger.Settlement{
			SwapID:  sw.ID,
			PayerID: sw.Counterpart(res.BeneficiaryID),
			PayeeID: res.BeneficiaryID,
			Amount:  res.Compensation,
			Kind:    ledger.KindCompensation,
		})
		if err != nil {
			return nil, fmt.Errorf("swap: compensation: %w", err)
		}
		msg, err := settlementCompleted(sw.ID, now, entries[:])
		if err != nil {
			return nil, err
		}
		return []notify.Message{msg}, nil
	}
}
