package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ── Enums ────────────────────────────────────────────

type Role string

const (
	RoleUser     Role = "user"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

// CanPlaceBets reports whether a role may create or accept offers.
func CanPlaceBets(r Role) bool {
	return r == RoleUser
}

type FightStatus string

const (
	FightScheduled FightStatus = "scheduled"
	FightBetting   FightStatus = "betting"
	FightLive      FightStatus = "live"
	FightFinished  FightStatus = "finished"
	FightCancelled FightStatus = "cancelled"
)

func (s FightStatus) Valid() bool {
	switch s {
	case FightScheduled, FightBetting, FightLive, FightFinished, FightCancelled:
		return true
	}
	return false
}

type Side string

const (
	SideRed  Side = "red"
	SideBlue Side = "blue"
)

func (s Side) Valid() bool { return s == SideRed || s == SideBlue }

func (s Side) Opposite() Side {
	if s == SideRed {
		return SideBlue
	}
	return SideRed
}

type BetStatus string

const (
	BetPending   BetStatus = "pending"
	BetActive    BetStatus = "active"
	BetCompleted BetStatus = "completed"
	BetCancelled BetStatus = "cancelled"
)

type BetType string

const (
	BetTypeOffer      BetType = "offer"
	BetTypeAcceptance BetType = "acceptance"
)

// ── Domain Objects ───────────────────────────────────

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

type Wallet struct {
	UserID       string          `json:"user_id"`
	Balance      decimal.Decimal `json:"balance"`
	FrozenAmount decimal.Decimal `json:"frozen_amount"`
}

func (w Wallet) Available() decimal.Decimal { return w.Balance.Sub(w.FrozenAmount) }

type Fight struct {
	ID        string      `json:"id"`
	Title     string      `json:"title"`
	RedName   string      `json:"red_name"`
	BlueName  string      `json:"blue_name"`
	Status    FightStatus `json:"status"`
	Result    *Side       `json:"result,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

func (f Fight) BettingOpen() bool { return f.Status == FightBetting }

// BetTerms is stored in bets.terms.
type BetTerms struct {
	Ratio     decimal.Decimal `json:"ratio"`
	Initiator string          `json:"initiator"`
	OfferID   string          `json:"offer_id"`
}

type Bet struct {
	ID           string          `json:"id"`
	FightID      string          `json:"fight_id"`
	UserID       string          `json:"user_id"`
	Side         Side            `json:"side"`
	Amount       decimal.Decimal `json:"amount"`
	PotentialWin decimal.Decimal `json:"potential_win"`
	Status       BetStatus       `json:"status"`
	Result       *string         `json:"result,omitempty"`
	BetType      BetType         `json:"bet_type"`
	MatchedWith  *string         `json:"matched_with,omitempty"`
	Terms        BetTerms        `json:"terms"`
	CreatedAt    time.Time       `json:"created_at"`
}

type EventLog struct {
	ID          int64     `json:"id"`
	FightID     *string   `json:"fight_id,omitempty"`
	Type        string    `json:"type"`
	PayloadJSON any       `json:"payload"`
	CreatedAt   time.Time `json:"created_at"`
}

// ── Offers ───────────────────────────────────────────

// Offer is a PAGO proposal waiting in the ledger for an acceptance.
type Offer struct {
	ID        string          `json:"betId"`
	UserID    string          `json:"userId"`
	FightID   string          `json:"fightId"`
	Side      Side            `json:"side"`
	Amount    decimal.Decimal `json:"amount"`
	Ratio     decimal.Decimal `json:"ratio"`
	CreatedAt time.Time       `json:"createdAt"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// AcceptorStake is what the DOY side puts up against the proposer's Amount,
// so that the pot of both stakes pays Amount × Ratio.
func (o Offer) AcceptorStake() decimal.Decimal {
	return acceptorStake(o.Amount, o.Ratio)
}

// PotentialWin is the pot of the match: both stakes, paid to the winning leg.
func (o Offer) PotentialWin() decimal.Decimal {
	return o.Amount.Add(o.AcceptorStake())
}

func acceptorStake(amount, ratio decimal.Decimal) decimal.Decimal {
	return amount.Mul(ratio.Sub(decimal.NewFromInt(1))).Round(2)
}

// MatchedPair is the result of a committed settlement.
type MatchedPair struct {
	Offer     Offer     `json:"offer"`
	OfferBet  Bet       `json:"offer_bet"`
	AcceptBet Bet       `json:"accept_bet"`
	MatchedAt time.Time `json:"matched_at"`
}

// ── Validation ───────────────────────────────────────

var (
	DefaultRatio = decimal.NewFromInt(2)
	MaxRatio     = decimal.NewFromInt(10)
	MaxAmount    = decimal.NewFromInt(1_000_000)
)

// ValidateOfferTerms checks the amount, side and ratio of a PAGO proposal.
func ValidateOfferTerms(amount decimal.Decimal, side Side, ratio decimal.Decimal) error {
	if !side.Valid() {
		return InvalidRequest("side must be red or blue")
	}
	if !amount.IsPositive() {
		return InvalidRequest("amount must be positive")
	}
	if amount.GreaterThan(MaxAmount) {
		return InvalidRequest("amount exceeds maximum")
	}
	if !amount.Equal(amount.Round(2)) {
		return InvalidRequest("amount must have at most 2 decimal places")
	}
	if ratio.LessThanOrEqual(decimal.NewFromInt(1)) || ratio.GreaterThan(MaxRatio) {
		return InvalidRequest("ratio must be greater than 1 and at most 10")
	}
	if !acceptorStake(amount, ratio).IsPositive() {
		return InvalidRequest("amount too small for this ratio")
	}
	return nil
}
