package ws

import (
	"encoding/json"
	"time"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// Inbound message kinds.
const (
	MsgJoinFight = "join_fight_betting"
	MsgCreate    = "create_pago_bet"
	MsgAccept    = "accept_pago_bet"
	MsgCancel    = "cancel_bet"
	MsgHeartbeat = "betting_heartbeat"
)

// Inbound wraps every client message.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Outbound wraps every server message.
type Outbound struct {
	Type    string `json:"type"`
	FightID string `json:"fightId,omitempty"`
	Data    any    `json:"data"`
}

type fightRef struct {
	FightID string `json:"fightId"`
}

type betRef struct {
	BetID string `json:"betId"`
}

type pendingBets struct {
	FightID string `json:"fightId"`
	Offers  any    `json:"offers"`
}

func encode(msgType, fightID string, data any) ([]byte, error) {
	return json.Marshal(Outbound{Type: msgType, FightID: fightID, Data: data})
}
