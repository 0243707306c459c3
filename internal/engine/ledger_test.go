package engine

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gallera-exchange/internal/model"
)

func newOffer(id, user, fight string) model.Offer {
	return model.Offer{
		ID:      id,
		UserID:  user,
		FightID: fight,
		Side:    model.SideRed,
		Amount:  decimal.NewFromInt(50),
		Ratio:   decimal.NewFromInt(2),
	}
}

func create(l *Ledger, o model.Offer, ttl time.Duration) model.Offer {
	o = l.Add(o, ttl)
	l.Open(o.ID, nil)
	return o
}

func TestClaimSingleWinner(t *testing.T) {
	l := NewLedger(time.Minute, nil)
	create(l, newOffer("o1", "u1", "f1"), time.Minute)

	const n = 64
	var wins, misses atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := l.Claim("o1")
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, model.ErrOfferNotFound):
				misses.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(n-1), misses.Load())
	assert.Equal(t, 0, l.Len())
}

func TestNoResurrection(t *testing.T) {
	removals := map[string]func(l *Ledger){
		"claimed":   func(l *Ledger) { _, _ = l.Claim("o1") },
		"cancelled": func(l *Ledger) { _, _ = l.Cancel("o1", "u1") },
		"user gone": func(l *Ledger) { l.CancelAllFor("u1") },
		"fight off": func(l *Ledger) { l.CancelFight("f1") },
	}
	for name, remove := range removals {
		t.Run(name, func(t *testing.T) {
			l := NewLedger(time.Minute, nil)
			create(l, newOffer("o1", "u1", "f1"), time.Minute)
			remove(l)

			_, err := l.Claim("o1")
			assert.ErrorIs(t, err, model.ErrOfferNotFound)
			_, ok := l.Peek("o1")
			assert.False(t, ok)
		})
	}
}

func TestExpiryCeiling(t *testing.T) {
	l := NewLedger(3*time.Minute, nil)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }

	o := create(l, newOffer("o1", "u1", "f1"), time.Hour)
	assert.Equal(t, base.Add(3*time.Minute), o.ExpiresAt)

	o = create(l, newOffer("o2", "u1", "f1"), 0)
	assert.Equal(t, base.Add(3*time.Minute), o.ExpiresAt)

	o = create(l, newOffer("o3", "u1", "f1"), 30*time.Second)
	assert.Equal(t, base.Add(30*time.Second), o.ExpiresAt)
}

func TestExpireNotifiesOnce(t *testing.T) {
	var expired atomic.Int32
	l := NewLedger(time.Minute, func(o model.Offer) {
		assert.Equal(t, "o1", o.ID)
		expired.Add(1)
	})
	create(l, newOffer("o1", "u1", "f1"), 10*time.Millisecond)

	assert.Eventually(t, func() bool { return expired.Load() == 1 }, time.Second, 5*time.Millisecond)
	_, err := l.Claim("o1")
	assert.ErrorIs(t, err, model.ErrOfferNotFound)
}

func TestExpireAfterClaimIsNoop(t *testing.T) {
	var expired atomic.Int32
	l := NewLedger(time.Minute, func(model.Offer) { expired.Add(1) })
	create(l, newOffer("o1", "u1", "f1"), 20*time.Millisecond)

	_, err := l.Claim("o1")
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), expired.Load())
}

func TestStaleTimerIgnoresNewEntry(t *testing.T) {
	var expired atomic.Int32
	l := NewLedger(time.Minute, func(model.Offer) { expired.Add(1) })
	create(l, newOffer("o1", "u1", "f1"), time.Minute)

	l.mu.Lock()
	stale := l.offers["o1"]
	l.mu.Unlock()
	_, err := l.Claim("o1")
	require.NoError(t, err)

	create(l, newOffer("o1", "u1", "f1"), time.Minute)
	l.expire("o1", stale)

	assert.Equal(t, int32(0), expired.Load())
	assert.Equal(t, 1, l.Len())
}

func TestCancelOwnership(t *testing.T) {
	l := NewLedger(time.Minute, nil)
	create(l, newOffer("o1", "u1", "f1"), time.Minute)

	_, err := l.Cancel("o1", "u2")
	assert.ErrorIs(t, err, model.ErrNotOwner)
	assert.Equal(t, 1, l.Len())

	o, err := l.Cancel("o1", "u1")
	require.NoError(t, err)
	assert.Equal(t, "o1", o.ID)

	_, err = l.Cancel("o1", "u1")
	assert.ErrorIs(t, err, model.ErrOfferNotFound)
}

func TestCancelAllForAndFight(t *testing.T) {
	l := NewLedger(time.Minute, nil)
	create(l, newOffer("a1", "u1", "f1"), time.Minute)
	create(l, newOffer("a2", "u1", "f2"), time.Minute)
	create(l, newOffer("b1", "u2", "f1"), time.Minute)
	create(l, newOffer("b2", "u2", "f2"), time.Minute)

	gone := l.CancelAllFor("u1")
	assert.Len(t, gone, 2)
	for _, o := range gone {
		assert.Equal(t, "u1", o.UserID)
	}

	gone = l.CancelFight("f2")
	require.Len(t, gone, 1)
	assert.Equal(t, "b2", gone[0].ID)

	assert.Equal(t, 1, l.Len())
	_, ok := l.Peek("b1")
	assert.True(t, ok)
}

func TestSnapshotExcludesRequesterAndOrders(t *testing.T) {
	l := NewLedger(time.Minute, nil)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	l.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	for i := 3; i >= 1; i-- {
		create(l, newOffer(fmt.Sprintf("o%d", i), "u2", "f1"), time.Minute)
	}
	create(l, newOffer("mine", "u1", "f1"), time.Minute)
	create(l, newOffer("other", "u2", "f2"), time.Minute)

	snap := l.Snapshot("f1", "u1")
	require.Len(t, snap, 3)
	assert.Equal(t, []string{"o3", "o2", "o1"}, []string{snap[0].ID, snap[1].ID, snap[2].ID})
	assert.Empty(t, l.Snapshot("f9", ""))
}

func TestAddedOfferIsUnlistedUntilOpen(t *testing.T) {
	var expired atomic.Int32
	l := NewLedger(time.Minute, func(model.Offer) { expired.Add(1) })
	l.Add(newOffer("o1", "u1", "f1"), time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), expired.Load(), "expiry must not run before Open")
	assert.Empty(t, l.Snapshot("f1", ""))

	var announced []string
	require.True(t, l.Open("o1", func(o model.Offer) { announced = append(announced, o.ID) }))
	assert.False(t, l.Open("o1", func(o model.Offer) { announced = append(announced, o.ID) }))
	assert.Equal(t, []string{"o1"}, announced)
	assert.Eventually(t, func() bool { return expired.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestOpenAfterRemovalIsNoop(t *testing.T) {
	var expired atomic.Int32
	l := NewLedger(time.Minute, func(model.Offer) { expired.Add(1) })
	l.Add(newOffer("o1", "u1", "f1"), time.Millisecond)
	_, err := l.Claim("o1")
	require.NoError(t, err)

	assert.False(t, l.Open("o1", func(model.Offer) { t.Error("removed offer announced") }))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), expired.Load())
}
