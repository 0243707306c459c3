package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"gallera-exchange/internal/events"
	"gallera-exchange/internal/model"
)

// Freeze outcomes, as reported to OnOutcome.
const (
	OutcomeFrozen       = "frozen"
	OutcomeDuplicate    = "duplicate"
	OutcomeInsufficient = "insufficient_funds"
	OutcomeError        = "error"
)

// MessageReader is the part of *kafka.Reader the processor uses. Offsets are
// committed explicitly, only once a message is fully handled.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Store interface {
	FreezeForBet(ctx context.Context, betID, userID string, amount decimal.Decimal) (bool, error)
}

// Processor consumes bet_matched and freezes the stake of both legs.
// Replays are harmless: the store freezes each bet at most once.
type Processor struct {
	Log    *zap.Logger
	Reader MessageReader
	Store  Store

	RetryBackoff time.Duration // first wait after a failed attempt, doubled up to MaxBackoff
	MaxBackoff   time.Duration

	OnOutcome func(outcome string) // metrics hook
}

// Run fetches, handles and commits messages until ctx is done. A message is
// committed only after every leg is frozen, already frozen, or sent to review;
// store failures are retried with backoff, so a cancelled run leaves the
// message to be redelivered.
func (p *Processor) Run(ctx context.Context) error {
	for {
		m, err := p.Reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.Log.Warn("kafka fetch failed", zap.Error(err))
			time.Sleep(500 * time.Millisecond)
			continue
		}

		var ev events.BetMatched
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			p.Log.Warn("invalid message, skipping", zap.Int64("offset", m.Offset), zap.Error(err))
			p.outcome(OutcomeError)
		} else if err := p.handleWithRetry(ctx, ev); err != nil {
			return err
		}

		if err := p.Reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.Log.Warn("kafka commit failed", zap.Int64("offset", m.Offset), zap.Error(err))
		}
	}
}

func (p *Processor) handleWithRetry(ctx context.Context, ev events.BetMatched) error {
	backoff, ceiling := p.RetryBackoff, p.MaxBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	if ceiling < backoff {
		ceiling = 30 * time.Second
	}
	for attempt := 1; ; attempt++ {
		err := p.Handle(ctx, ev)
		if err == nil {
			return nil
		}
		p.Log.Warn("freeze attempt failed, retrying",
			zap.String("offer_id", ev.OfferID), zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff), zap.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > ceiling {
			backoff = ceiling
		}
	}
}

// Handle freezes every leg of one match. Both legs are always attempted.
// Insufficient funds is final: the leg is logged for manual review and does
// not fail the match. Any other store error is returned so the match can be
// retried; legs already frozen are skipped as duplicates on the next pass.
func (p *Processor) Handle(ctx context.Context, ev events.BetMatched) error {
	var errs []error
	for _, leg := range ev.Legs {
		log := p.Log.With(
			zap.String("offer_id", ev.OfferID), zap.String("bet_id", leg.BetID),
			zap.String("user_id", leg.UserID), zap.String("amount", leg.Amount.String()))

		frozen, err := p.Store.FreezeForBet(ctx, leg.BetID, leg.UserID, leg.Amount)
		switch {
		case errors.Is(err, model.ErrInsufficientFunds):
			log.Error("freeze would exceed balance, bet needs review")
			p.outcome(OutcomeInsufficient)
		case err != nil:
			log.Warn("freeze failed", zap.Error(err))
			p.outcome(OutcomeError)
			errs = append(errs, err)
		case !frozen:
			log.Debug("already frozen")
			p.outcome(OutcomeDuplicate)
		default:
			log.Info("stake frozen")
			p.outcome(OutcomeFrozen)
		}
	}
	return errors.Join(errs...)
}

func (p *Processor) outcome(o string) {
	if p.OnOutcome != nil {
		p.OnOutcome(o)
	}
}
