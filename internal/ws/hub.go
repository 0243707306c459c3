package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"gallera-exchange/internal/auth"
	"gallera-exchange/internal/engine"
	"gallera-exchange/internal/metrics"
	"gallera-exchange/internal/model"
)

// Betting is the matching engine as the hub drives it.
type Betting interface {
	CreateOffer(ctx context.Context, a engine.Actor, req engine.OfferRequest) (model.Offer, error)
	AcceptOffer(ctx context.Context, a engine.Actor, offerID string) (*model.MatchedPair, error)
	CancelOffer(a engine.Actor, offerID string) error
	Disconnect(userID string)
	Snapshot(fightID, userID string) []model.Offer
}

// TokenParser verifies handshake tokens.
type TokenParser interface {
	Parse(token string) (auth.Session, error)
}

type Options struct {
	MaxConnections int
	IdleTimeout    time.Duration
	AllowedOrigins []string
}

// Hub owns the connection registry and the fight/user rooms, and feeds
// inbound messages to the matching engine.
type Hub struct {
	reg      *Registry
	rooms    *Rooms
	tokens   TokenParser
	bet      Betting
	upgrader websocket.Upgrader
	idle     time.Duration
	m        *metrics.Metrics
	log      *zap.Logger
}

func NewHub(opts Options, tokens TokenParser, m *metrics.Metrics, log *zap.Logger) *Hub {
	if m == nil {
		m = metrics.New(nil)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		reg:    NewRegistry(opts.MaxConnections),
		rooms:  NewRooms(),
		tokens: tokens,
		idle:   opts.IdleTimeout,
		m:      m,
		log:    log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(opts.AllowedOrigins),
		},
	}
}

// SetBetting attaches the engine. The engine itself broadcasts through the
// hub, so the two are wired after construction.
func (h *Hub) SetBetting(b Betting) { h.bet = b }

func (h *Hub) Connections() int { return h.reg.Len() }

// ── Broadcast ────────────────────────────────────────

func (h *Hub) ToFight(fightID, msgType string, data any) {
	h.publish(FightRoom(fightID), fightID, msgType, data)
}

func (h *Hub) ToUser(userID, msgType string, data any) {
	h.publish(UserRoom(userID), "", msgType, data)
}

func (h *Hub) publish(room, fightID, msgType string, data any) {
	b, err := encode(msgType, fightID, data)
	if err != nil {
		h.log.Error("encode failed", zap.String("type", msgType), zap.Error(err))
		return
	}
	h.rooms.Broadcast(room, b)
}

// ── Handshake ────────────────────────────────────────

// HandleWS authenticates the token before upgrading; a bad token never
// reaches the registry or any room.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	sess, err := h.tokens.Parse(auth.TokenFromRequest(r))
	if err != nil {
		h.m.ConnRejected.WithLabelValues("unauthorized").Inc()
		h.log.Debug("handshake rejected", zap.String("remote", r.RemoteAddr), zap.Error(err))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Error(err))
		return
	}

	c := &conn{
		id:     uuid.NewString(),
		sess:   sess,
		ws:     wsConn,
		send:   make(chan []byte, sendBuffer),
		closed: make(chan struct{}),
		hub:    h,
	}
	if err := h.reg.Admit(c); err != nil {
		h.m.ConnRejected.WithLabelValues("capacity").Inc()
		h.log.Warn("connection refused", zap.String("user_id", sess.UserID), zap.Error(err))
		_ = wsConn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, string(model.CodeCapacityExceeded)),
			time.Now().Add(writeWait))
		_ = wsConn.Close()
		return
	}
	h.m.Connections.Set(float64(h.reg.Len()))
	h.rooms.Join(UserRoom(sess.UserID), c)
	h.log.Debug("connected", zap.String("conn_id", c.id), zap.String("user_id", sess.UserID))

	go c.writePump()
	if sess.FightID != "" {
		c.joinFight(sess.FightID)
	}
	go c.readPump()
}

// disconnect runs once per connection, synchronously in the closing path, so
// the user's offers are gone before the socket is.
func (h *Hub) disconnect(c *conn, reason string) {
	h.reg.Remove(c.id)
	h.rooms.LeaveAll(c)
	if h.bet != nil {
		h.bet.Disconnect(c.sess.UserID)
	}
	h.m.Connections.Set(float64(h.reg.Len()))
	h.log.Debug("disconnected", zap.String("conn_id", c.id), zap.String("user_id", c.sess.UserID), zap.String("reason", reason))
}

// RunSweeper closes connections idle for longer than the idle timeout.
func (h *Hub) RunSweeper(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			h.sweep()
		}
	}
}

func (h *Hub) sweep() {
	idle := h.reg.Sweep(h.idle)
	for _, p := range idle {
		p.Close("idle")
	}
	if len(idle) > 0 {
		h.log.Info("idle connections closed", zap.Int("count", len(idle)))
	}
}

// ── Connection ───────────────────────────────────────

type conn struct {
	id        string
	sess      auth.Session
	ws        *websocket.Conn
	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	hub       *Hub
}

func (c *conn) ID() string     { return c.id }
func (c *conn) UserID() string { return c.sess.UserID }

func (c *conn) Send(msg []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		// slow client, drop
		return false
	}
}

func (c *conn) Close(reason string) {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.hub.disconnect(c, reason)
		_ = c.ws.Close()
	})
}

func (c *conn) actor() engine.Actor {
	return engine.Actor{UserID: c.sess.UserID, Role: c.sess.Role}
}

func (c *conn) reply(msgType, fightID string, data any) {
	b, err := encode(msgType, fightID, data)
	if err != nil {
		c.hub.log.Error("encode failed", zap.String("type", msgType), zap.Error(err))
		return
	}
	c.Send(b)
}

func (c *conn) replyErr(err error, betID string) {
	c.reply(engine.MsgBetError, "", engine.NewErrorNotice(err, betID))
}

func (c *conn) readPump() {
	defer c.Close("read closed")

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.hub.reg.Touch(c.id)
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("unexpected close", zap.String("conn_id", c.id), zap.Error(err))
			}
			return
		}
		c.hub.reg.Touch(c.id)
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		var in Inbound
		if err := json.Unmarshal(msg, &in); err != nil {
			c.replyErr(model.InvalidRequest("invalid message format"), "")
			continue
		}
		c.dispatch(in)
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close("write closed")
	}()
	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closed:
			return
		}
	}
}

// ── Dispatch ─────────────────────────────────────────

func (c *conn) dispatch(in Inbound) {
	ctx := context.Background()
	switch in.Type {
	case MsgHeartbeat:
		// touch only

	case MsgJoinFight:
		var req fightRef
		if err := json.Unmarshal(in.Data, &req); err != nil || req.FightID == "" {
			c.replyErr(model.InvalidRequest("fightId is required"), "")
			return
		}
		c.joinFight(req.FightID)

	case MsgCreate:
		var req engine.OfferRequest
		if err := json.Unmarshal(in.Data, &req); err != nil {
			c.replyErr(model.InvalidRequest("invalid offer"), "")
			return
		}
		// offer_created reaches the user room from the engine.
		if _, err := c.hub.bet.CreateOffer(ctx, c.actor(), req); err != nil {
			c.hub.log.Debug("offer rejected", zap.String("user_id", c.sess.UserID), zap.Error(err))
			c.replyErr(err, "")
		}

	case MsgAccept:
		var req betRef
		if err := json.Unmarshal(in.Data, &req); err != nil || req.BetID == "" {
			c.replyErr(model.InvalidRequest("betId is required"), "")
			return
		}
		pair, err := c.hub.bet.AcceptOffer(ctx, c.actor(), req.BetID)
		if err != nil {
			c.replyErr(err, req.BetID)
			return
		}
		c.reply(engine.MsgAcceptConfirmed, pair.Offer.FightID, engine.NewMatchNotice(pair))

	case MsgCancel:
		var req betRef
		if err := json.Unmarshal(in.Data, &req); err != nil || req.BetID == "" {
			c.replyErr(model.InvalidRequest("betId is required"), "")
			return
		}
		if err := c.hub.bet.CancelOffer(c.actor(), req.BetID); err != nil {
			c.replyErr(err, req.BetID)
		}

	default:
		c.replyErr(model.InvalidRequest("unknown message type "+in.Type), "")
	}
}

func (c *conn) joinFight(fightID string) {
	c.hub.rooms.Join(FightRoom(fightID), c)
	offers := c.hub.bet.Snapshot(fightID, c.sess.UserID)
	c.reply(engine.MsgFightPendingBets, fightID, pendingBets{FightID: fightID, Offers: offers})
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		if len(allowed) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}
