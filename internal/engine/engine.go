package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"gallera-exchange/internal/events"
	"gallera-exchange/internal/metrics"
	"gallera-exchange/internal/model"
)

// Broadcaster delivers messages to fight rooms and user rooms.
type Broadcaster interface {
	ToFight(fightID, msgType string, data any)
	ToUser(userID, msgType string, data any)
}

// FightSource reports the live status of a fight.
type FightSource interface {
	FightStatus(ctx context.Context, fightID string) (model.FightStatus, error)
}

// Settler writes the bet pair for a claimed offer in one transaction.
type Settler interface {
	SettleMatch(ctx context.Context, offer model.Offer, acceptorID string) (*model.MatchedPair, error)
}

// EventSink receives committed matches and settlement alerts.
type EventSink interface {
	PublishBetMatched(ctx context.Context, e events.BetMatched) error
	PublishSettlementFailed(ctx context.Context, e events.SettlementFailed) error
}

// Actor is the authenticated user behind a request.
type Actor struct {
	UserID string
	Role   model.Role
}

type Options struct {
	MaxTTL         time.Duration
	DefaultTTL     time.Duration
	SettleTimeout  time.Duration
	PublishTimeout time.Duration
}

// Engine matches PAGO offers with DOY acceptances. The ledger is the only
// shared state; all coordination goes through its atomic removals.
type Engine struct {
	ledger  *Ledger
	fights  FightSource
	settler Settler
	sink    EventSink
	out     Broadcaster
	m       *metrics.Metrics
	log     *zap.Logger
	opts    Options

	inflight sync.WaitGroup
}

func New(opts Options, fights FightSource, settler Settler, sink EventSink, out Broadcaster, m *metrics.Metrics, log *zap.Logger) *Engine {
	if opts.DefaultTTL <= 0 || opts.DefaultTTL > opts.MaxTTL {
		opts.DefaultTTL = opts.MaxTTL
	}
	if opts.SettleTimeout <= 0 {
		opts.SettleTimeout = 10 * time.Second
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 5 * time.Second
	}
	if sink == nil {
		sink = events.Noop{}
	}
	if m == nil {
		m = metrics.New(nil)
	}
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{
		fights:  fights,
		settler: settler,
		sink:    sink,
		out:     out,
		m:       m,
		log:     log,
		opts:    opts,
	}
	e.ledger = NewLedger(opts.MaxTTL, e.onExpire)
	return e
}

// ── Queries ──────────────────────────────────────────

func (e *Engine) PendingOffers() int { return e.ledger.Len() }

// Snapshot lists the open offers of a fight that userID could accept.
func (e *Engine) Snapshot(fightID, userID string) []model.Offer {
	return e.ledger.Snapshot(fightID, userID)
}

// ── Create ───────────────────────────────────────────

func (e *Engine) CreateOffer(ctx context.Context, a Actor, req OfferRequest) (model.Offer, error) {
	if !model.CanPlaceBets(a.Role) {
		return model.Offer{}, model.ErrRoleForbidden
	}
	if err := e.requireBetting(ctx, req.FightID); err != nil {
		return model.Offer{}, err
	}

	ratio := model.DefaultRatio
	if req.Ratio != nil {
		ratio = *req.Ratio
	}
	if err := model.ValidateOfferTerms(req.Amount, req.Side, ratio); err != nil {
		return model.Offer{}, err
	}

	ttl := time.Duration(req.TimeoutMs) * time.Millisecond
	if ttl <= 0 {
		ttl = e.opts.DefaultTTL
	}
	o := e.ledger.Add(model.Offer{
		ID:      uuid.NewString(),
		UserID:  a.UserID,
		FightID: req.FightID,
		Side:    req.Side,
		Amount:  req.Amount,
		Ratio:   ratio,
	}, ttl)

	// CloseBetting may have swept the fight between the first check and Add.
	if err := e.requireBetting(ctx, req.FightID); err != nil {
		_, _ = e.ledger.Claim(o.ID)
		return model.Offer{}, err
	}

	// Announced before the timer is armed, so offer_expired never precedes
	// new_offer. Only a fight sweep can remove an unannounced offer.
	opened := e.ledger.Open(o.ID, func(o model.Offer) {
		e.out.ToUser(o.UserID, MsgOfferCreated, o)
		e.out.ToFight(o.FightID, MsgNewOffer, o)
	})
	if !opened {
		return model.Offer{}, model.ErrBettingClosed
	}

	e.m.OffersCreated.Inc()
	e.syncPending()
	e.log.Debug("offer created",
		zap.String("offer_id", o.ID), zap.String("fight_id", o.FightID),
		zap.String("user_id", o.UserID), zap.Time("expires_at", o.ExpiresAt))
	return o, nil
}

// ── Accept ───────────────────────────────────────────

// AcceptOffer claims the offer for the actor and settles it. A claimed offer
// is never put back: if settlement fails the offer is gone and both parties
// are told so.
func (e *Engine) AcceptOffer(ctx context.Context, a Actor, offerID string) (*model.MatchedPair, error) {
	if !model.CanPlaceBets(a.Role) {
		e.m.AcceptAttempts.WithLabelValues("rejected").Inc()
		return nil, model.ErrRoleForbidden
	}
	o, ok := e.ledger.Peek(offerID)
	if !ok {
		e.m.AcceptAttempts.WithLabelValues("not_found").Inc()
		return nil, model.ErrOfferNotFound
	}
	if o.UserID == a.UserID {
		e.m.AcceptAttempts.WithLabelValues("rejected").Inc()
		return nil, model.ErrSelfMatchForbidden
	}
	if err := e.requireBetting(ctx, o.FightID); err != nil {
		e.m.AcceptAttempts.WithLabelValues("rejected").Inc()
		return nil, err
	}

	o, err := e.ledger.Claim(offerID)
	if err != nil {
		e.m.AcceptAttempts.WithLabelValues("not_found").Inc()
		e.log.Debug("accept lost race", zap.String("offer_id", offerID), zap.String("user_id", a.UserID))
		return nil, err
	}
	e.syncPending()

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.SettleTimeout)
	defer cancel()
	pair, err := e.settler.SettleMatch(sctx, o, a.UserID)
	if errors.Is(err, model.ErrBettingClosed) {
		e.m.AcceptAttempts.WithLabelValues("betting_closed").Inc()
		e.removed(o, ReasonBettingClosed)
		return nil, model.ErrBettingClosed
	}
	if err != nil {
		e.settlementFailed(o, a.UserID, err)
		return nil, model.SettlementFailed(err)
	}

	e.m.AcceptAttempts.WithLabelValues("matched").Inc()
	e.m.OffersRemoved.WithLabelValues(string(ReasonAccepted)).Inc()
	e.log.Info("bet matched",
		zap.String("offer_id", o.ID), zap.String("fight_id", o.FightID),
		zap.String("offer_bet_id", pair.OfferBet.ID), zap.String("accept_bet_id", pair.AcceptBet.ID))

	n := NewMatchNotice(pair)
	e.out.ToUser(o.UserID, MsgOfferAccepted, n)
	e.out.ToFight(o.FightID, MsgBetMatched, n)

	ev := events.NewBetMatched(pair)
	e.publish(func(ctx context.Context) {
		if err := e.sink.PublishBetMatched(ctx, ev); err != nil {
			e.log.Warn("bet_matched not published", zap.String("offer_id", ev.OfferID), zap.Error(err))
		}
	})
	return pair, nil
}

func (e *Engine) settlementFailed(o model.Offer, acceptorID string, cause error) {
	e.m.AcceptAttempts.WithLabelValues("settlement_failed").Inc()
	e.m.SettlementFailure.Inc()
	e.m.OffersRemoved.WithLabelValues(string(ReasonSettlement)).Inc()
	e.log.Error("settlement failed, offer consumed",
		zap.String("offer_id", o.ID), zap.String("fight_id", o.FightID),
		zap.String("proposer_id", o.UserID), zap.String("acceptor_id", acceptorID),
		zap.String("amount", o.Amount.String()), zap.Error(cause))

	e.out.ToUser(o.UserID, MsgBetError, ErrorNotice{
		Code:    model.CodeSettlementFailed,
		Message: model.ErrSettlementFailed.Message,
		BetID:   o.ID,
	})
	e.out.ToFight(o.FightID, MsgOfferCancelled, OfferNotice{BetID: o.ID, FightID: o.FightID, Reason: ReasonSettlement})

	alert := events.NewSettlementFailed(o, acceptorID, cause)
	e.publish(func(ctx context.Context) {
		if err := e.sink.PublishSettlementFailed(ctx, alert); err != nil {
			e.log.Error("settlement alert not published", zap.String("offer_id", alert.OfferID), zap.Error(err))
		}
	})
}

// ── Cancel / Cleanup ─────────────────────────────────

// CancelOffer withdraws the actor's own offer. Cancelling somebody else's
// offer is reported as model.ErrForbidden.
func (e *Engine) CancelOffer(a Actor, offerID string) error {
	o, err := e.ledger.Cancel(offerID, a.UserID)
	if errors.Is(err, model.ErrNotOwner) {
		return model.ErrForbidden
	}
	if err != nil {
		return err
	}
	e.removed(o, ReasonCancelled)
	return nil
}

// Disconnect drops every offer of a user whose connection went away.
func (e *Engine) Disconnect(userID string) {
	for _, o := range e.ledger.CancelAllFor(userID) {
		e.removed(o, ReasonDisconnected)
	}
}

// CloseBetting drops every offer of a fight that left the betting state.
func (e *Engine) CloseBetting(fightID string) int {
	gone := e.ledger.CancelFight(fightID)
	for _, o := range gone {
		e.removed(o, ReasonBettingClosed)
	}
	if len(gone) > 0 {
		e.log.Info("betting closed, offers cancelled", zap.String("fight_id", fightID), zap.Int("count", len(gone)))
	}
	return len(gone)
}

func (e *Engine) removed(o model.Offer, reason Reason) {
	e.m.OffersRemoved.WithLabelValues(string(reason)).Inc()
	e.syncPending()
	n := OfferNotice{BetID: o.ID, FightID: o.FightID, Reason: reason}
	e.out.ToUser(o.UserID, MsgBetCancelled, n)
	e.out.ToFight(o.FightID, MsgOfferCancelled, n)
}

func (e *Engine) onExpire(o model.Offer) {
	e.m.OffersRemoved.WithLabelValues(string(ReasonExpired)).Inc()
	e.syncPending()
	e.log.Debug("offer expired", zap.String("offer_id", o.ID), zap.String("fight_id", o.FightID))
	n := OfferNotice{BetID: o.ID, FightID: o.FightID, Reason: ReasonExpired}
	e.out.ToUser(o.UserID, MsgBetTimeout, n)
	e.out.ToFight(o.FightID, MsgOfferExpired, n)
}

// ── Helpers ──────────────────────────────────────────

func (e *Engine) requireBetting(ctx context.Context, fightID string) error {
	if fightID == "" {
		return model.InvalidRequest("fightId is required")
	}
	st, err := e.fights.FightStatus(ctx, fightID)
	if errors.Is(err, model.ErrNotFound) {
		return model.InvalidRequest("fight not found")
	}
	if err != nil {
		e.log.Warn("fight status lookup failed", zap.String("fight_id", fightID), zap.Error(err))
		return &model.BetError{Code: model.CodeBettingClosed, Message: "fight status unavailable", Err: err}
	}
	if st != model.FightBetting {
		return model.ErrBettingClosed
	}
	return nil
}

// publish runs fn off the caller's goroutine with its own deadline, so a slow
// broker never holds up the connection that triggered the event.
func (e *Engine) publish(fn func(ctx context.Context)) {
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.opts.PublishTimeout)
		defer cancel()
		fn(ctx)
	}()
}

// Flush waits for in-flight event publishes.
func (e *Engine) Flush() { e.inflight.Wait() }

func (e *Engine) syncPending() { e.m.PendingOffers.Set(float64(e.ledger.Len())) }
