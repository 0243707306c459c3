package engine

import (
	"sort"
	"sync"
	"time"

	"gallera-exchange/internal/model"
)

// Reason tells clients why an offer left the ledger.
type Reason string

const (
	ReasonAccepted      Reason = "accepted"
	ReasonCancelled     Reason = "cancelled"
	ReasonExpired       Reason = "expired"
	ReasonDisconnected  Reason = "user_disconnected"
	ReasonBettingClosed Reason = "betting_closed"
	ReasonSettlement    Reason = "settlement_failed"
)

type entry struct {
	offer model.Offer
	timer *time.Timer // nil until Open
}

// Ledger is the in-memory table of open PAGO offers. Every removal path takes
// the entry out of the map under mu and stops its timer, so an offer id that
// has left the ledger can never be claimed again.
type Ledger struct {
	mu       sync.Mutex
	offers   map[string]*entry
	maxTTL   time.Duration
	onExpire func(model.Offer)
	now      func() time.Time
}

// NewLedger returns an empty ledger. onExpire runs on the timer goroutine,
// outside the lock, for offers that timed out while still open.
func NewLedger(maxTTL time.Duration, onExpire func(model.Offer)) *Ledger {
	if onExpire == nil {
		onExpire = func(model.Offer) {}
	}
	return &Ledger{
		offers:   make(map[string]*entry),
		maxTTL:   maxTTL,
		onExpire: onExpire,
		now:      time.Now,
	}
}

// ── Queries ──────────────────────────────────────────

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.offers)
}

// Peek returns the offer without removing it.
func (l *Ledger) Peek(id string) (model.Offer, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.offers[id]
	if !ok {
		return model.Offer{}, false
	}
	return e.offer, true
}

// Snapshot lists the opened offers of a fight, oldest first, leaving out
// those proposed by excludeUser.
func (l *Ledger) Snapshot(fightID, excludeUser string) []model.Offer {
	l.mu.Lock()
	out := make([]model.Offer, 0)
	for _, e := range l.offers {
		if e.timer != nil && e.offer.FightID == fightID && e.offer.UserID != excludeUser {
			out = append(out, e.offer)
		}
	}
	l.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// ── Mutations ────────────────────────────────────────

// Add stores the offer without arming its expiry. A ttl that is not positive
// or exceeds the ceiling is clamped to the ceiling. The stored offer, with
// CreatedAt and ExpiresAt filled in, is returned. Added offers stay out of
// Snapshot until Open.
func (l *Ledger) Add(o model.Offer, ttl time.Duration) model.Offer {
	if ttl <= 0 || ttl > l.maxTTL {
		ttl = l.maxTTL
	}
	now := l.now().UTC()
	o.CreatedAt = now
	o.ExpiresAt = now.Add(ttl)

	l.mu.Lock()
	l.offers[o.ID] = &entry{offer: o}
	l.mu.Unlock()
	return o
}

// Open lists an added offer and starts its expiry timer for the time left
// until ExpiresAt. announce runs under the ledger lock first, so no removal
// notice for the offer can be sent ahead of it; it must not call back into
// the ledger. Open reports false, without announcing, if the offer is gone
// or already open.
func (l *Ledger) Open(id string, announce func(model.Offer)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.offers[id]
	if !ok || e.timer != nil {
		return false
	}
	if announce != nil {
		announce(e.offer)
	}
	left := e.offer.ExpiresAt.Sub(l.now())
	if left < 0 {
		left = 0
	}
	e.timer = time.AfterFunc(left, func() { l.expire(id, e) })
	return true
}

// Claim atomically takes the offer out of the ledger. Exactly one caller per
// id can succeed; everyone else gets model.ErrOfferNotFound.
func (l *Ledger) Claim(id string) (model.Offer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.offers[id]
	if !ok {
		return model.Offer{}, model.ErrOfferNotFound
	}
	l.removeLocked(id, e)
	return e.offer, nil
}

// Cancel removes the offer if userID proposed it.
func (l *Ledger) Cancel(id, userID string) (model.Offer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.offers[id]
	if !ok {
		return model.Offer{}, model.ErrOfferNotFound
	}
	if e.offer.UserID != userID {
		return model.Offer{}, model.ErrNotOwner
	}
	l.removeLocked(id, e)
	return e.offer, nil
}

// CancelAllFor removes every offer proposed by userID. Offers that were never
// opened are dropped silently and left out of the result.
func (l *Ledger) CancelAllFor(userID string) []model.Offer {
	return l.removeWhere(func(o model.Offer) bool { return o.UserID == userID })
}

// CancelFight removes every offer on fightID.
func (l *Ledger) CancelFight(fightID string) []model.Offer {
	return l.removeWhere(func(o model.Offer) bool { return o.FightID == fightID })
}

func (l *Ledger) removeWhere(match func(model.Offer) bool) []model.Offer {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.Offer
	for id, e := range l.offers {
		if !match(e.offer) {
			continue
		}
		l.removeLocked(id, e)
		if e.timer != nil {
			out = append(out, e.offer)
		}
	}
	return out
}

// expire is the timer callback. The entry pointer must still be the one in
// the map; anything else means the offer was already removed.
func (l *Ledger) expire(id string, e *entry) {
	l.mu.Lock()
	cur, ok := l.offers[id]
	if !ok || cur != e {
		l.mu.Unlock()
		return
	}
	delete(l.offers, id)
	l.mu.Unlock()

	l.onExpire(e.offer)
}

func (l *Ledger) removeLocked(id string, e *entry) {
	delete(l.offers, id)
	if e.timer != nil {
		e.timer.Stop()
	}
}
