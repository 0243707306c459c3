package engine

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"gallera-exchange/internal/model"
)

// Outbound message kinds.
const (
	MsgOfferCreated     = "offer_created"
	MsgNewOffer         = "new_offer"
	MsgOfferAccepted    = "offer_accepted"
	MsgAcceptConfirmed  = "accept_confirmed"
	MsgBetMatched       = "bet_matched"
	MsgOfferExpired     = "offer_expired"
	MsgBetTimeout       = "bet_timeout"
	MsgOfferCancelled   = "offer_cancelled"
	MsgBetCancelled     = "bet_cancelled"
	MsgBetError         = "bet_error"
	MsgFightPendingBets = "fight_pending_bets"
)

// OfferRequest is the payload of create_pago_bet. A nil Ratio means the
// default ratio; a non-positive TimeoutMs means the default lifetime.
type OfferRequest struct {
	FightID   string           `json:"fightId"`
	Amount    decimal.Decimal  `json:"amount"`
	Side      model.Side       `json:"side"`
	Ratio     *decimal.Decimal `json:"ratio,omitempty"`
	TimeoutMs int64            `json:"timeoutMs,omitempty"`
}

// OfferNotice tells clients an offer left the ledger without a match.
type OfferNotice struct {
	BetID   string `json:"betId"`
	FightID string `json:"fightId"`
	Reason  Reason `json:"reason"`
}

// MatchNotice is sent to both parties and the fight room after settlement.
type MatchNotice struct {
	OfferID      string          `json:"offerId"`
	FightID      string          `json:"fightId"`
	OfferBetID   string          `json:"offerBetId"`
	AcceptBetID  string          `json:"acceptBetId"`
	ProposerID   string          `json:"proposerId"`
	AcceptorID   string          `json:"acceptorId"`
	Side         model.Side      `json:"side"`
	Amount       decimal.Decimal `json:"amount"`
	AcceptAmount decimal.Decimal `json:"acceptAmount"`
	Ratio        decimal.Decimal `json:"ratio"`
	PotentialWin decimal.Decimal `json:"potentialWin"`
	MatchedAt    time.Time       `json:"matchedAt"`
}

func NewMatchNotice(p *model.MatchedPair) MatchNotice {
	return MatchNotice{
		OfferID:      p.Offer.ID,
		FightID:      p.Offer.FightID,
		OfferBetID:   p.OfferBet.ID,
		AcceptBetID:  p.AcceptBet.ID,
		ProposerID:   p.OfferBet.UserID,
		AcceptorID:   p.AcceptBet.UserID,
		Side:         p.Offer.Side,
		Amount:       p.Offer.Amount,
		AcceptAmount: p.AcceptBet.Amount,
		Ratio:        p.Offer.Ratio,
		PotentialWin: p.OfferBet.PotentialWin,
		MatchedAt:    p.MatchedAt,
	}
}

// ErrorNotice is the body of bet_error.
type ErrorNotice struct {
	Code    model.Code `json:"code"`
	Message string     `json:"message"`
	BetID   string     `json:"betId,omitempty"`
}

// NewErrorNotice maps err onto the stable reply code. Errors outside the
// betting taxonomy are reported as InvalidRequest without their text.
func NewErrorNotice(err error, betID string) ErrorNotice {
	var be *model.BetError
	if errors.As(err, &be) {
		return ErrorNotice{Code: be.Code, Message: be.Message, BetID: betID}
	}
	return ErrorNotice{Code: model.CodeInvalidRequest, Message: "request failed", BetID: betID}
}
