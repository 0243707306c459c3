package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCanPlaceBets(t *testing.T) {
	assert.True(t, CanPlaceBets(RoleUser))
	assert.False(t, CanPlaceBets(RoleOperator))
	assert.False(t, CanPlaceBets(RoleAdmin))
	assert.False(t, CanPlaceBets(Role("")))
}

func TestSideOpposite(t *testing.T) {
	assert.Equal(t, SideBlue, SideRed.Opposite())
	assert.Equal(t, SideRed, SideBlue.Opposite())
	assert.False(t, Side("green").Valid())
}

func TestValidateOfferTerms(t *testing.T) {
	d := decimal.RequireFromString
	tests := []struct {
		name   string
		amount string
		side   Side
		ratio  string
		ok     bool
	}{
		{"valid", "50", SideRed, "2", true},
		{"cents", "12.50", SideBlue, "1.5", true},
		{"zero amount", "0", SideRed, "2", false},
		{"negative amount", "-5", SideRed, "2", false},
		{"sub-cent", "1.005", SideRed, "2", false},
		{"too large", "1000000.01", SideRed, "2", false},
		{"bad side", "50", Side("green"), "2", false},
		{"ratio one", "50", SideRed, "1", false},
		{"ratio too high", "50", SideRed, "10.5", false},
		{"acceptor stake rounds to zero", "0.01", SideRed, "1.2", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateOfferTerms(d(tc.amount), tc.side, d(tc.ratio))
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestBetErrorMatchesByCode(t *testing.T) {
	wrapped := fmt.Errorf("accept: %w", SettlementFailed(errors.New("db down")))
	assert.ErrorIs(t, wrapped, ErrSettlementFailed)
	assert.NotErrorIs(t, wrapped, ErrOfferNotFound)
	assert.Equal(t, CodeSettlementFailed, CodeOf(wrapped))
	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
}

func TestOfferStakesCoverPayout(t *testing.T) {
	d := decimal.RequireFromString
	tests := []struct {
		amount, ratio, acceptor, pot string
	}{
		{"50", "2", "50", "100"},
		{"50", "3", "100", "150"},
		{"40", "1.5", "20", "60"},
		{"10.01", "1.25", "2.5", "12.51"},
	}
	for _, tc := range tests {
		o := Offer{Amount: d(tc.amount), Ratio: d(tc.ratio)}
		assert.True(t, o.AcceptorStake().Equal(d(tc.acceptor)), "acceptor stake for %s@%s: %s", tc.amount, tc.ratio, o.AcceptorStake())
		assert.True(t, o.PotentialWin().Equal(d(tc.pot)), "pot for %s@%s: %s", tc.amount, tc.ratio, o.PotentialWin())
		assert.True(t, o.Amount.Add(o.AcceptorStake()).Equal(o.PotentialWin()))
	}
}
