package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gallera-exchange/internal/model"
)

type captureWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error { return nil }

func testPair() *model.MatchedPair {
	offerBet := model.Bet{ID: "b1", UserID: "u1", Side: model.SideRed, Amount: decimal.NewFromInt(50)}
	acceptBet := model.Bet{ID: "b2", UserID: "u2", Side: model.SideBlue, Amount: decimal.NewFromInt(50)}
	return &model.MatchedPair{
		Offer: model.Offer{
			ID: "o1", FightID: "f1", UserID: "u1", Side: model.SideRed,
			Amount: decimal.NewFromInt(50), Ratio: decimal.NewFromInt(2),
		},
		OfferBet:  offerBet,
		AcceptBet: acceptBet,
		MatchedAt: time.Now(),
	}
}

func TestPublishBetMatched(t *testing.T) {
	matched := &captureWriter{}
	p := &Publisher{Matched: matched, Alerts: &captureWriter{}, Log: zap.NewNop()}

	require.NoError(t, p.PublishBetMatched(context.Background(), NewBetMatched(testPair())))
	require.Len(t, matched.msgs, 1)
	assert.Equal(t, "f1", string(matched.msgs[0].Key))

	var got BetMatched
	require.NoError(t, json.Unmarshal(matched.msgs[0].Value, &got))
	assert.Equal(t, "o1", got.OfferID)
	assert.Equal(t, "b1", got.Legs[0].BetID)
	assert.Equal(t, "u2", got.Legs[1].UserID)
	assert.Equal(t, model.SideBlue, got.Legs[1].Side)
	assert.True(t, got.Legs[1].Amount.Equal(decimal.NewFromInt(50)))
}

func TestPublishErrorCallsOnError(t *testing.T) {
	var topics []string
	p := &Publisher{
		Matched: &captureWriter{},
		Alerts:  &captureWriter{err: errors.New("broker down")},
		Log:     zap.NewNop(),
		OnError: func(topic string) { topics = append(topics, topic) },
	}

	ev := NewSettlementFailed(testPair().Offer, "u2", errors.New("tx aborted"))
	err := p.PublishSettlementFailed(context.Background(), ev)
	assert.Error(t, err)
	assert.Equal(t, []string{"settlement_alerts"}, topics)
	assert.Equal(t, "tx aborted", ev.Error)
}
