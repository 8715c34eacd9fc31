package round

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Dialect selects placeholder style and locking clauses.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS round_results (
		game_id    TEXT NOT NULL,
		round_id   TEXT NOT NULL,
		outcome    TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (game_id, round_id)
	)`,
	`CREATE TABLE IF NOT EXISTS wagers (
		id             TEXT NOT NULL,
		game_id        TEXT NOT NULL,
		round_id       TEXT NOT NULL,
		participant_id TEXT NOT NULL,
		name           TEXT NOT NULL DEFAULT '',
		amounts        TEXT NOT NULL,
		total          BIGINT NOT NULL,
		charged        BIGINT NOT NULL,
		discount_rate  DOUBLE PRECISION NOT NULL DEFAULT 0,
		settled        BOOLEAN NOT NULL DEFAULT FALSE,
		created_at     TIMESTAMP NOT NULL,
		settled_at     TIMESTAMP,
		outcome        TEXT,
		payout         BIGINT NOT NULL DEFAULT 0,
		cashback       BIGINT NOT NULL DEFAULT 0,
		modifier       TEXT,
		PRIMARY KEY (game_id, round_id, participant_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_wagers_round ON wagers (game_id, round_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_wagers_open ON wagers (game_id, participant_id, settled)`,
}

const wagerColumns = `id, game_id, round_id, participant_id, name, amounts, total, charged,
	discount_rate, settled, created_at, settled_at, outcome, payout, cashback, modifier`

// SQLStore implements Store on database/sql for SQLite and Postgres.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	log     *slog.Logger
}

func NewSQLStore(ctx context.Context, db *sql.DB, dialect Dialect, log *slog.Logger) (*SQLStore, error) {
	if log == nil {
		log = slog.Default()
	}
	switch dialect {
	case DialectSQLite, DialectPostgres:
	default:
		return nil, fmt.Errorf("round.NewSQLStore: unsupported dialect %q", dialect)
	}
	s := &SQLStore{db: db, dialect: dialect, log: log}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("round.NewSQLStore: migrate: %w", s.classify(err))
		}
	}
	return s, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

// rebind turns ? placeholders into $n for Postgres.
func (s *SQLStore) rebind(q string) string {
	if s.dialect != DialectPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// classify maps backend throttling and contention onto ErrRateLimited.
func (s *SQLStore) classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 53xxx insufficient resources, 57P03 cannot connect now, 40001/40P01 contention.
		if strings.HasPrefix(pgErr.Code, "53") || pgErr.Code == "57P03" || pgErr.Code == "40001" || pgErr.Code == "40P01" {
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
		return err
	}
	var sqErr *sqlite.Error
	if errors.As(err, &sqErr) {
		switch sqErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
	}
	return err
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLStore) Result(ctx context.Context, gameID, roundID string) (*Result, error) {
	r, err := s.getResult(ctx, s.db, gameID, roundID)
	if err != nil {
		return nil, fmt.Errorf("round.SQLStore.Result: %w", err)
	}
	return r, nil
}

func (s *SQLStore) getResult(ctx context.Context, q queryer, gameID, roundID string) (*Result, error) {
	var (
		raw     string
		created time.Time
	)
	err := q.QueryRowContext(ctx,
		s.rebind(`SELECT outcome, created_at FROM round_results WHERE game_id = ? AND round_id = ?`),
		gameID, roundID,
	).Scan(&raw, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, s.classify(err)
	}
	r := &Result{GameID: gameID, RoundID: roundID, CreatedAt: created.UTC()}
	if err := json.Unmarshal([]byte(raw), &r.Outcome); err != nil {
		return nil, fmt.Errorf("decode outcome %s: %w", roundID, err)
	}
	return r, nil
}

func (s *SQLStore) Wager(ctx context.Context, gameID, roundID, participantID string) (*Wager, error) {
	w, err := s.getWager(ctx, s.db, gameID, roundID, participantID, false)
	if err != nil {
		return nil, fmt.Errorf("round.SQLStore.Wager: %w", err)
	}
	return w, nil
}

func (s *SQLStore) getWager(ctx context.Context, q queryer, gameID, roundID, participantID string, lock bool) (*Wager, error) {
	query := `SELECT ` + wagerColumns + ` FROM wagers WHERE game_id = ? AND round_id = ? AND participant_id = ?`
	if lock && s.dialect == DialectPostgres {
		query += ` FOR UPDATE`
	}
	w, err := scanWager(q.QueryRowContext(ctx, s.rebind(query), gameID, roundID, participantID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, s.classify(err)
	}
	return w, nil
}

func (s *SQLStore) Wagers(ctx context.Context, gameID, roundID string, limit int) ([]*Wager, error) {
	query := `SELECT ` + wagerColumns + ` FROM wagers WHERE game_id = ? AND round_id = ? ORDER BY created_at ASC, id ASC`
	args := []any{gameID, roundID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	out, err := s.listWagers(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("round.SQLStore.Wagers: %w", err)
	}
	return out, nil
}

func (s *SQLStore) Unsettled(ctx context.Context, gameID, participantID string, limit int) ([]*Wager, error) {
	query := `SELECT ` + wagerColumns + ` FROM wagers WHERE game_id = ? AND participant_id = ? AND settled = ? ORDER BY created_at ASC, id ASC`
	args := []any{gameID, participantID, false}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	out, err := s.listWagers(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("round.SQLStore.Unsettled: %w", err)
	}
	return out, nil
}

func (s *SQLStore) listWagers(ctx context.Context, query string, args ...any) ([]*Wager, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, s.classify(err)
	}
	defer rows.Close()
	var out []*Wager
	for rows.Next() {
		w, err := scanWager(rows)
		if err != nil {
			return nil, s.classify(err)
		}
		out = append(out, w)
	}
	return out, s.classify(rows.Err())
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWager(row rowScanner) (*Wager, error) {
	var (
		w         Wager
		amounts   string
		settledAt sql.NullTime
		outcome   sql.NullString
		modifier  sql.NullString
	)
	err := row.Scan(&w.ID, &w.GameID, &w.RoundID, &w.ParticipantID, &w.Name, &amounts, &w.Total, &w.Charged,
		&w.DiscountRate, &w.Settled, &w.CreatedAt, &settledAt, &outcome, &w.Payout, &w.Cashback, &modifier)
	if err != nil {
		return nil, err
	}
	w.CreatedAt = w.CreatedAt.UTC()
	if err := json.Unmarshal([]byte(amounts), &w.Amounts); err != nil {
		return nil, fmt.Errorf("decode amounts %s: %w", w.ID, err)
	}
	if settledAt.Valid {
		t := settledAt.Time.UTC()
		w.SettledAt = &t
	}
	if outcome.Valid && outcome.String != "" {
		w.Outcome = &Outcome{}
		if err := json.Unmarshal([]byte(outcome.String), w.Outcome); err != nil {
			return nil, fmt.Errorf("decode wager outcome %s: %w", w.ID, err)
		}
	}
	if modifier.Valid && modifier.String != "" {
		w.Modifier = &Modifier{}
		if err := json.Unmarshal([]byte(modifier.String), w.Modifier); err != nil {
			return nil, fmt.Errorf("decode modifier %s: %w", w.ID, err)
		}
	}
	return &w, nil
}

func (s *SQLStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("round.SQLStore.InTx: begin: %w", s.classify(err))
	}
	if err := fn(&sqlTx{s: s, tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("round.SQLStore.InTx: commit: %w", s.classify(err))
	}
	return nil
}

type sqlTx struct {
	s  *SQLStore
	tx *sql.Tx
}

func (t *sqlTx) Result(ctx context.Context, gameID, roundID string) (*Result, error) {
	r, err := t.s.getResult(ctx, t.tx, gameID, roundID)
	if err != nil {
		return nil, fmt.Errorf("round.Tx.Result: %w", err)
	}
	return r, nil
}

func (t *sqlTx) CreateResult(ctx context.Context, r *Result) (*Result, error) {
	raw, err := json.Marshal(r.Outcome)
	if err != nil {
		return nil, fmt.Errorf("round.Tx.CreateResult: encode: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, t.s.rebind(
		`INSERT INTO round_results (game_id, round_id, outcome, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (game_id, round_id) DO NOTHING`),
		r.GameID, r.RoundID, string(raw), r.CreatedAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("round.Tx.CreateResult: %w", t.s.classify(err))
	}
	stored, err := t.s.getResult(ctx, t.tx, r.GameID, r.RoundID)
	if err != nil {
		return nil, fmt.Errorf("round.Tx.CreateResult: reread: %w", err)
	}
	if stored == nil {
		return nil, fmt.Errorf("round.Tx.CreateResult: %s missing after insert", r.RoundID)
	}
	return stored, nil
}

func (t *sqlTx) Wager(ctx context.Context, gameID, roundID, participantID string) (*Wager, error) {
	w, err := t.s.getWager(ctx, t.tx, gameID, roundID, participantID, true)
	if err != nil {
		return nil, fmt.Errorf("round.Tx.Wager: %w", err)
	}
	return w, nil
}

func (t *sqlTx) CreateWager(ctx context.Context, w *Wager) error {
	amounts, err := json.Marshal(w.Amounts)
	if err != nil {
		return fmt.Errorf("round.Tx.CreateWager: encode amounts: %w", err)
	}
	res, err := t.tx.ExecContext(ctx, t.s.rebind(
		`INSERT INTO wagers (id, game_id, round_id, participant_id, name, amounts, total, charged, discount_rate, settled, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (game_id, round_id, participant_id) DO NOTHING`),
		w.ID, w.GameID, w.RoundID, w.ParticipantID, w.Name, string(amounts), w.Total, w.Charged,
		w.DiscountRate, false, w.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("round.Tx.CreateWager: %w", t.s.classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("round.Tx.CreateWager: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("round.Tx.CreateWager: %s %s: %w", w.RoundID, w.ParticipantID, ErrAlreadyWagered)
	}
	return nil
}

func (t *sqlTx) SettleWager(ctx context.Context, w *Wager) error {
	var outcome, modifier sql.NullString
	if w.Outcome != nil {
		raw, err := json.Marshal(w.Outcome)
		if err != nil {
			return fmt.Errorf("round.Tx.SettleWager: encode outcome: %w", err)
		}
		outcome = sql.NullString{String: string(raw), Valid: true}
	}
	if w.Modifier != nil {
		raw, err := json.Marshal(w.Modifier)
		if err != nil {
			return fmt.Errorf("round.Tx.SettleWager: encode modifier: %w", err)
		}
		modifier = sql.NullString{String: string(raw), Valid: true}
	}
	var settledAt sql.NullTime
	if w.SettledAt != nil {
		settledAt = sql.NullTime{Time: w.SettledAt.UTC(), Valid: true}
	}
	res, err := t.tx.ExecContext(ctx, t.s.rebind(
		`UPDATE wagers SET settled = ?, settled_at = ?, outcome = ?, payout = ?, cashback = ?, modifier = ?
		 WHERE game_id = ? AND round_id = ? AND participant_id = ? AND settled = ?`),
		true, settledAt, outcome, w.Payout, w.Cashback, modifier,
		w.GameID, w.RoundID, w.ParticipantID, false,
	)
	if err != nil {
		return fmt.Errorf("round.Tx.SettleWager: %w", t.s.classify(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("round.Tx.SettleWager: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("round.Tx.SettleWager: %s %s: %w", w.RoundID, w.ParticipantID, ErrAlreadySettled)
	}
	return nil
}
