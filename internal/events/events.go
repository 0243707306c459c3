package events

import (
	"time"

	"github.com/shopspring/decimal"

	"gallera-exchange/internal/model"
)

// Leg is one side of a matched pair, as the wallet freezer needs it.
type Leg struct {
	BetID  string          `json:"betId"`
	UserID string          `json:"userId"`
	Side   model.Side      `json:"side"`
	Amount decimal.Decimal `json:"amount"`
}

// BetMatched is published to the bet_matched topic after a settlement commits.
type BetMatched struct {
	OfferID string          `json:"offerId"`
	FightID string          `json:"fightId"`
	Amount  decimal.Decimal `json:"amount"`
	Ratio   decimal.Decimal `json:"ratio"`
	Legs    [2]Leg          `json:"legs"`
	Ts      time.Time       `json:"ts"`
}

func NewBetMatched(p *model.MatchedPair) BetMatched {
	leg := func(b model.Bet) Leg {
		return Leg{BetID: b.ID, UserID: b.UserID, Side: b.Side, Amount: b.Amount}
	}
	return BetMatched{
		OfferID: p.Offer.ID,
		FightID: p.Offer.FightID,
		Amount:  p.Offer.Amount,
		Ratio:   p.Offer.Ratio,
		Legs:    [2]Leg{leg(p.OfferBet), leg(p.AcceptBet)},
		Ts:      p.MatchedAt,
	}
}

// SettlementFailed goes to the alert topic when a claimed offer could not be
// written. Records for the pair may need manual reconciliation.
type SettlementFailed struct {
	OfferID    string          `json:"offerId"`
	FightID    string          `json:"fightId"`
	ProposerID string          `json:"proposerId"`
	AcceptorID string          `json:"acceptorId"`
	Amount     decimal.Decimal `json:"amount"`
	Error      string          `json:"error"`
	Ts         time.Time       `json:"ts"`
}

func NewSettlementFailed(o model.Offer, acceptorID string, cause error) SettlementFailed {
	return SettlementFailed{
		OfferID:    o.ID,
		FightID:    o.FightID,
		ProposerID: o.UserID,
		AcceptorID: acceptorID,
		Amount:     o.Amount,
		Error:      cause.Error(),
		Ts:         time.Now().UTC(),
	}
}
