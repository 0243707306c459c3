package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"gallera-exchange/internal/auth"
	"gallera-exchange/internal/model"
)

// Store is the slice of the Postgres store the REST API needs.
type Store interface {
	CreateUser(ctx context.Context, email, hash string, role model.Role) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	CreateWallet(ctx context.Context, userID string) error
	GetWallet(ctx context.Context, userID string) (*model.Wallet, error)
	DepositWallet(ctx context.Context, userID string, amount decimal.Decimal) (*model.Wallet, error)
	CreateFight(ctx context.Context, title, redName, blueName string) (*model.Fight, error)
	GetFight(ctx context.Context, id string) (*model.Fight, error)
	ListFights(ctx context.Context) ([]model.Fight, error)
	UpdateFightStatus(ctx context.Context, id string, status model.FightStatus, result *model.Side) (*model.Fight, error)
	GetBet(ctx context.Context, id string) (*model.Bet, error)
	ListUserBets(ctx context.Context, userID string, limit int) ([]model.Bet, error)
	ListEvents(ctx context.Context, fightID *string, limit int) ([]model.EventLog, error)
}

// Betting is the read side of the matching engine plus the fight close hook.
type Betting interface {
	Snapshot(fightID, userID string) []model.Offer
	CloseBetting(fightID string) int
	PendingOffers() int
}

type StatusCache interface {
	Set(ctx context.Context, fightID string, status model.FightStatus)
}

// Hub serves the websocket endpoint.
type Hub interface {
	HandleWS(w http.ResponseWriter, r *http.Request)
	Connections() int
}

type Server struct {
	store   Store
	betting Betting
	cache   StatusCache
	hub     Hub
	tokens  *auth.Issuer
	log     *zap.Logger
}

func NewServer(store Store, betting Betting, cache StatusCache, hub Hub, tokens *auth.Issuer, log *zap.Logger) *Server {
	return &Server{store: store, betting: betting, cache: cache, hub: hub, tokens: tokens, log: log}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	// Health
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json200(w, map[string]string{"status": "ok"})
	})

	// Auth (public)
	r.Post("/api/register", s.register)
	r.Post("/api/login", s.login)

	// WebSocket (authenticates its own handshake)
	r.Get("/ws", s.hub.HandleWS)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Use(s.authMiddleware)

		r.Get("/api/wallet", s.getWallet)

		// Fights
		r.Get("/api/fights", s.listFights)
		r.Get("/api/fights/{id}", s.getFight)
		r.Get("/api/fights/{id}/offers", s.listOffers)
		r.Post("/api/fights/{id}/token", s.fightToken)

		// Bets
		r.Get("/api/bets", s.listBets)
		r.Get("/api/bets/{id}", s.getBet)

		// Admin
		r.Group(func(r chi.Router) {
			r.Use(s.adminOnly)
			r.Post("/api/admin/fights", s.createFight)
			r.Post("/api/admin/fights/{id}/status", s.setFightStatus)
			r.Post("/api/admin/deposit", s.adminDeposit)
			r.Get("/api/admin/users", s.listUsers)
			r.Get("/api/admin/events", s.listEvents)
			r.Get("/api/admin/stats", s.stats)
		})
	})

	return r
}

// ── Auth ─────────────────────────────────────────────

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	if req.Email == "" || len(req.Password) < 6 {
		jsonErr(w, 400, "email and password (min 6 chars) required")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		jsonErr(w, 500, "hash failed")
		return
	}
	user, err := s.store.CreateUser(r.Context(), req.Email, string(hash), model.RoleUser)
	if errors.Is(err, model.ErrDuplicate) {
		jsonErr(w, 409, "email already registered")
		return
	}
	if err != nil {
		s.internal(w, r, "create user", err)
		return
	}
	if err := s.store.CreateWallet(r.Context(), user.ID); err != nil {
		s.internal(w, r, "create wallet", err)
		return
	}
	s.respondWithToken(w, user, "")
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	user, err := s.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil || user == nil {
		jsonErr(w, 401, "invalid credentials")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		jsonErr(w, 401, "invalid credentials")
		return
	}
	s.respondWithToken(w, user, "")
}

func (s *Server) respondWithToken(w http.ResponseWriter, user *model.User, fightID string) {
	token, err := s.tokens.MakeToken(user.ID, user.Role, fightID)
	if err != nil {
		jsonErr(w, 500, "token failed")
		return
	}
	json200(w, map[string]any{"user": user, "token": token})
}

// fightToken mints a betting token bound to one fight. A websocket opened
// with it joins that fight room straight away.
func (s *Server) fightToken(w http.ResponseWriter, r *http.Request) {
	sess := session(r)
	fightID := chi.URLParam(r, "id")
	if _, err := s.store.GetFight(r.Context(), fightID); err != nil {
		s.notFoundOr500(w, r, "fight", err)
		return
	}
	token, err := s.tokens.MakeToken(sess.UserID, sess.Role, fightID)
	if err != nil {
		jsonErr(w, 500, "token failed")
		return
	}
	json200(w, map[string]string{"token": token, "fight_id": fightID})
}

// ── Middleware ────────────────────────────────────────

type ctxKey string

const ctxSession ctxKey = "session"

func session(r *http.Request) auth.Session {
	sess, _ := r.Context().Value(ctxSession).(auth.Session)
	return sess
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := auth.ExtractBearer(r.Header.Get("Authorization"))
		if tok == "" {
			jsonErr(w, 401, "missing token")
			return
		}
		sess, err := s.tokens.Parse(tok)
		if err != nil {
			jsonErr(w, 401, "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), ctxSession, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if session(r).Role != model.RoleAdmin {
			jsonErr(w, 403, "admin only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(204)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ── Wallet ───────────────────────────────────────────

func (s *Server) getWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := s.store.GetWallet(r.Context(), session(r).UserID)
	if err != nil || wallet == nil {
		jsonErr(w, 404, "wallet not found")
		return
	}
	json200(w, map[string]any{
		"user_id":       wallet.UserID,
		"balance":       wallet.Balance,
		"frozen_amount": wallet.FrozenAmount,
		"available":     wallet.Available(),
	})
}

// ── Fights ───────────────────────────────────────────

func (s *Server) listFights(w http.ResponseWriter, r *http.Request) {
	fights, err := s.store.ListFights(r.Context())
	if err != nil {
		s.internal(w, r, "list fights", err)
		return
	}
	if fights == nil {
		fights = []model.Fight{}
	}
	json200(w, fights)
}

func (s *Server) getFight(w http.ResponseWriter, r *http.Request) {
	f, err := s.store.GetFight(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.notFoundOr500(w, r, "fight", err)
		return
	}
	json200(w, f)
}

func (s *Server) listOffers(w http.ResponseWriter, r *http.Request) {
	json200(w, s.betting.Snapshot(chi.URLParam(r, "id"), session(r).UserID))
}

// ── Bets ─────────────────────────────────────────────

func (s *Server) listBets(w http.ResponseWriter, r *http.Request) {
	bets, err := s.store.ListUserBets(r.Context(), session(r).UserID, queryLimit(r, 50, 200))
	if err != nil {
		s.internal(w, r, "list bets", err)
		return
	}
	if bets == nil {
		bets = []model.Bet{}
	}
	json200(w, bets)
}

// getBet returns a bet together with its matched counterpart. Either side of
// the match may read it.
func (s *Server) getBet(w http.ResponseWriter, r *http.Request) {
	b, err := s.store.GetBet(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.notFoundOr500(w, r, "bet", err)
		return
	}
	var other *model.Bet
	if b.MatchedWith != nil {
		if other, err = s.store.GetBet(r.Context(), *b.MatchedWith); err != nil {
			other = nil
		}
	}

	sess := session(r)
	visible := b.UserID == sess.UserID || sess.Role == model.RoleAdmin ||
		(other != nil && other.UserID == sess.UserID)
	if !visible {
		jsonErr(w, 404, "bet not found")
		return
	}
	json200(w, map[string]any{"bet": b, "matched": other})
}

// ── Admin ────────────────────────────────────────────

func (s *Server) createFight(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title    string `json:"title"`
		RedName  string `json:"red_name"`
		BlueName string `json:"blue_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	if req.Title == "" || req.RedName == "" || req.BlueName == "" {
		jsonErr(w, 400, "title, red_name and blue_name required")
		return
	}
	f, err := s.store.CreateFight(r.Context(), req.Title, req.RedName, req.BlueName)
	if err != nil {
		s.internal(w, r, "create fight", err)
		return
	}
	s.cache.Set(r.Context(), f.ID, f.Status)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(201)
	json.NewEncoder(w).Encode(f)
}

// setFightStatus moves a fight through its lifecycle. Leaving betting
// cancels every open offer on the fight.
func (s *Server) setFightStatus(w http.ResponseWriter, r *http.Request) {
	fightID := chi.URLParam(r, "id")
	var req struct {
		Status model.FightStatus `json:"status"`
		Result *model.Side       `json:"result"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	if !req.Status.Valid() {
		jsonErr(w, 400, "unknown status")
		return
	}
	if req.Result != nil && !req.Result.Valid() {
		jsonErr(w, 400, "result must be red or blue")
		return
	}

	f, err := s.store.UpdateFightStatus(r.Context(), fightID, req.Status, req.Result)
	if err != nil {
		s.notFoundOr500(w, r, "fight", err)
		return
	}
	s.cache.Set(r.Context(), f.ID, f.Status)

	cancelled := 0
	if f.Status != model.FightBetting {
		cancelled = s.betting.CloseBetting(f.ID)
	}
	s.log.Info("fight status changed",
		zap.String("fight_id", f.ID), zap.String("status", string(f.Status)),
		zap.String("admin_id", session(r).UserID), zap.Int("offers_cancelled", cancelled))
	json200(w, map[string]any{"fight": f, "offers_cancelled": cancelled})
}

func (s *Server) adminDeposit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string          `json:"user_id"`
		Amount decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, 400, "invalid json")
		return
	}
	if req.UserID == "" || !req.Amount.IsPositive() {
		jsonErr(w, 400, "user_id and amount > 0 required")
		return
	}
	wallet, err := s.store.DepositWallet(r.Context(), req.UserID, req.Amount)
	if err != nil {
		s.notFoundOr500(w, r, "wallet", err)
		return
	}
	json200(w, wallet)
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		s.internal(w, r, "list users", err)
		return
	}
	if users == nil {
		users = []model.User{}
	}
	json200(w, users)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	var fp *string
	if fightID := r.URL.Query().Get("fight_id"); fightID != "" {
		fp = &fightID
	}
	events, err := s.store.ListEvents(r.Context(), fp, queryLimit(r, 100, 500))
	if err != nil {
		s.internal(w, r, "list events", err)
		return
	}
	if events == nil {
		events = []model.EventLog{}
	}
	json200(w, events)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	json200(w, map[string]int{
		"connections":    s.hub.Connections(),
		"pending_offers": s.betting.PendingOffers(),
	})
}

// ── Helpers ──────────────────────────────────────────

func json200(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) internal(w http.ResponseWriter, r *http.Request, op string, err error) {
	s.log.Error(op+" failed", zap.String("path", r.URL.Path), zap.Error(err))
	jsonErr(w, 500, "internal error")
}

func (s *Server) notFoundOr500(w http.ResponseWriter, r *http.Request, what string, err error) {
	if errors.Is(err, model.ErrNotFound) {
		jsonErr(w, 404, what+" not found")
		return
	}
	s.internal(w, r, "load "+what, err)
}

func queryLimit(r *http.Request, def, max int) int {
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 && n <= max {
		return n
	}
	return def
}
