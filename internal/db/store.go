package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"gallera-exchange/internal/model"
)

type Store struct{ DB *sql.DB }

// Open connects with driver "postgres" (lib/pq) or "pgx" (pgx stdlib).
func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case "postgres", "pgx":
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{DB: db}, nil
}

func (s *Store) Migrate(dir string) error {
	driver, err := postgres.WithInstance(s.DB, &postgres.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.DB.PingContext(ctx) }

func (s *Store) Close() error { return s.DB.Close() }

func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.DB.BeginTx(ctx, nil)
}

// ── Users ────────────────────────────────────────────

func (s *Store) CreateUser(ctx context.Context, email, hash string, role model.Role) (*model.User, error) {
	u := &model.User{}
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO users (email, password_hash, role) VALUES ($1,$2,$3)
		 RETURNING id, email, password_hash, role, created_at`, email, hash, role,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if isUniqueViolation(err) {
		return nil, model.ErrDuplicate
	}
	return u, err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	u := &model.User{}
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, email, password_hash, role, created_at FROM users WHERE email=$1`, email,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, email, role, created_at FROM users ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Role, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// ── Wallets ──────────────────────────────────────────

func (s *Store) CreateWallet(ctx context.Context, userID string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO wallets (user_id) VALUES ($1)`, userID)
	return err
}

func (s *Store) GetWallet(ctx context.Context, userID string) (*model.Wallet, error) {
	w := &model.Wallet{}
	err := s.DB.QueryRowContext(ctx,
		`SELECT user_id, balance, frozen_amount FROM wallets WHERE user_id=$1`, userID,
	).Scan(&w.UserID, &w.Balance, &w.FrozenAmount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return w, err
}

func (s *Store) DepositWallet(ctx context.Context, userID string, amount decimal.Decimal) (*model.Wallet, error) {
	w := &model.Wallet{}
	err := s.DB.QueryRowContext(ctx,
		`UPDATE wallets SET balance = balance + $1 WHERE user_id=$2
		 RETURNING user_id, balance, frozen_amount`, amount, userID,
	).Scan(&w.UserID, &w.Balance, &w.FrozenAmount)
	if err == sql.ErrNoRows {
		return nil, model.ErrNotFound
	}
	return w, err
}

// ── Fights ───────────────────────────────────────────

const fightCols = `id, title, red_name, blue_name, status, result, created_at`

func scanFight(row interface{ Scan(...any) error }) (*model.Fight, error) {
	f := &model.Fight{}
	if err := row.Scan(&f.ID, &f.Title, &f.RedName, &f.BlueName, &f.Status, &f.Result, &f.CreatedAt); err != nil {
		return nil, err
	}
	return f, nil
}

func (s *Store) CreateFight(ctx context.Context, title, redName, blueName string) (*model.Fight, error) {
	return scanFight(s.DB.QueryRowContext(ctx,
		`INSERT INTO fights (title, red_name, blue_name) VALUES ($1,$2,$3) RETURNING `+fightCols,
		title, redName, blueName))
}

func (s *Store) GetFight(ctx context.Context, id string) (*model.Fight, error) {
	f, err := scanFight(s.DB.QueryRowContext(ctx, `SELECT `+fightCols+` FROM fights WHERE id=$1`, id))
	if err == sql.ErrNoRows {
		return nil, model.ErrNotFound
	}
	return f, err
}

func (s *Store) ListFights(ctx context.Context) ([]model.Fight, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+fightCols+` FROM fights ORDER BY created_at DESC LIMIT 200`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Fight
	for rows.Next() {
		f, err := scanFight(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// UpdateFightStatus sets the status (and optionally the result) of a fight
// and records the change in the event log.
func (s *Store) UpdateFightStatus(ctx context.Context, id string, status model.FightStatus, result *model.Side) (*model.Fight, error) {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	f, err := scanFight(tx.QueryRowContext(ctx,
		`UPDATE fights SET status=$1, result=COALESCE($2, result) WHERE id=$3 RETURNING `+fightCols,
		status, result, id))
	if err == sql.ErrNoRows {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := AppendEvent(ctx, tx, &id, "FightStatusChanged", map[string]any{
		"status": status, "result": result,
	}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return f, nil
}

// ── Bets ─────────────────────────────────────────────

const betCols = `id, fight_id, user_id, side, amount, potential_win, status, result, bet_type, matched_with, terms, created_at`

func scanBet(row interface{ Scan(...any) error }) (*model.Bet, error) {
	b := &model.Bet{}
	var terms []byte
	if err := row.Scan(&b.ID, &b.FightID, &b.UserID, &b.Side, &b.Amount, &b.PotentialWin,
		&b.Status, &b.Result, &b.BetType, &b.MatchedWith, &terms, &b.CreatedAt); err != nil {
		return nil, err
	}
	if len(terms) > 0 {
		if err := json.Unmarshal(terms, &b.Terms); err != nil {
			return nil, fmt.Errorf("bet %s terms: %w", b.ID, err)
		}
	}
	return b, nil
}

func (s *Store) GetBet(ctx context.Context, id string) (*model.Bet, error) {
	b, err := scanBet(s.DB.QueryRowContext(ctx, `SELECT `+betCols+` FROM bets WHERE id=$1`, id))
	if err == sql.ErrNoRows {
		return nil, model.ErrNotFound
	}
	return b, err
}

func (s *Store) ListUserBets(ctx context.Context, userID string, limit int) ([]model.Bet, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+betCols+` FROM bets WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

func insertBet(ctx context.Context, tx *sql.Tx, b *model.Bet) error {
	terms, err := json.Marshal(b.Terms)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO bets (id,fight_id,user_id,side,amount,potential_win,status,bet_type,matched_with,terms,created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		b.ID, b.FightID, b.UserID, b.Side, b.Amount, b.PotentialWin, b.Status, b.BetType, b.MatchedWith, terms, b.CreatedAt,
	)
	return err
}

func linkBet(ctx context.Context, tx *sql.Tx, betID, matchedWith string) error {
	res, err := tx.ExecContext(ctx, `UPDATE bets SET matched_with=$1 WHERE id=$2`, matchedWith, betID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n != 1 {
		return fmt.Errorf("link bet %s: %d rows updated", betID, n)
	}
	return nil
}

// ── Event Log ────────────────────────────────────────

func AppendEvent(ctx context.Context, tx *sql.Tx, fightID *string, evType string, payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO event_log (fight_id, type, payload_json) VALUES ($1,$2,$3)`,
		fightID, evType, b,
	)
	return err
}

func (s *Store) ListEvents(ctx context.Context, fightID *string, limit int) ([]model.EventLog, error) {
	q := `SELECT id, fight_id, type, payload_json, created_at FROM event_log`
	args := []any{limit}
	if fightID != nil {
		q += ` WHERE fight_id=$2`
		args = append(args, *fightID)
	}
	q += ` ORDER BY created_at DESC LIMIT $1`
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.EventLog
	for rows.Next() {
		var e model.EventLog
		var raw []byte
		if err := rows.Scan(&e.ID, &e.FightID, &e.Type, &raw, &e.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(raw, &e.PayloadJSON)
		out = append(out, e)
	}
	return out, rows.Err()
}
