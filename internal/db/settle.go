package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gallera-exchange/internal/model"
)

// SettleMatch writes the mirrored bet pair for a claimed offer in one
// transaction. The acceptor stakes offer.AcceptorStake(); both legs carry the
// pot as their potential win. The fight row is share-locked and must still be in betting,
// otherwise model.ErrBettingClosed is returned and nothing is written.
func (s *Store) SettleMatch(ctx context.Context, offer model.Offer, acceptorID string) (*model.MatchedPair, error) {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var status model.FightStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM fights WHERE id=$1 FOR SHARE`, offer.FightID).Scan(&status)
	if err == sql.ErrNoRows {
		return nil, model.ErrBettingClosed
	}
	if err != nil {
		return nil, fmt.Errorf("lock fight: %w", err)
	}
	if status != model.FightBetting {
		return nil, model.ErrBettingClosed
	}

	now := time.Now().UTC()
	win := offer.PotentialWin()
	terms := model.BetTerms{Ratio: offer.Ratio, Initiator: offer.UserID, OfferID: offer.ID}

	offerBet := model.Bet{
		ID:           uuid.NewString(),
		FightID:      offer.FightID,
		UserID:       offer.UserID,
		Side:         offer.Side,
		Amount:       offer.Amount,
		PotentialWin: win,
		Status:       model.BetActive,
		BetType:      model.BetTypeOffer,
		Terms:        terms,
		CreatedAt:    now,
	}
	acceptBet := model.Bet{
		ID:           uuid.NewString(),
		FightID:      offer.FightID,
		UserID:       acceptorID,
		Side:         offer.Side.Opposite(),
		Amount:       offer.AcceptorStake(),
		PotentialWin: win,
		Status:       model.BetActive,
		BetType:      model.BetTypeAcceptance,
		MatchedWith:  &offerBet.ID,
		Terms:        terms,
		CreatedAt:    now,
	}

	if err := insertBet(ctx, tx, &offerBet); err != nil {
		return nil, fmt.Errorf("insert offer bet: %w", err)
	}
	if err := insertBet(ctx, tx, &acceptBet); err != nil {
		return nil, fmt.Errorf("insert accept bet: %w", err)
	}
	if err := linkBet(ctx, tx, offerBet.ID, acceptBet.ID); err != nil {
		return nil, fmt.Errorf("link bets: %w", err)
	}
	offerBet.MatchedWith = &acceptBet.ID

	if err := AppendEvent(ctx, tx, &offer.FightID, "BetMatched", map[string]any{
		"offer_id":      offer.ID,
		"offer_bet_id":  offerBet.ID,
		"accept_bet_id": acceptBet.ID,
		"proposer_id":   offer.UserID,
		"acceptor_id":   acceptorID,
		"amount":        offer.Amount,
		"accept_amount": acceptBet.Amount,
		"ratio":         offer.Ratio,
	}); err != nil {
		return nil, fmt.Errorf("event log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &model.MatchedPair{Offer: offer, OfferBet: offerBet, AcceptBet: acceptBet, MatchedAt: now}, nil
}

// FreezeForBet moves amount into the user's frozen balance for betID. It is
// idempotent per bet: a second call returns (false, nil). A freeze that would
// push frozen_amount above balance fails with model.ErrInsufficientFunds.
func (s *Store) FreezeForBet(ctx context.Context, betID, userID string, amount decimal.Decimal) (bool, error) {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO wallet_freezes (bet_id, user_id, amount) VALUES ($1,$2,$3) ON CONFLICT (bet_id) DO NOTHING`,
		betID, userID, amount)
	if err != nil {
		return false, fmt.Errorf("record freeze: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return false, err
	} else if n == 0 {
		return false, nil
	}

	res, err = tx.ExecContext(ctx,
		`UPDATE wallets SET frozen_amount = frozen_amount + $1 WHERE user_id=$2`, amount, userID)
	if isCheckViolation(err) {
		return false, model.ErrInsufficientFunds
	}
	if err != nil {
		return false, fmt.Errorf("freeze wallet: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return false, err
	} else if n == 0 {
		return false, model.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}
