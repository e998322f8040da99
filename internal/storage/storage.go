// Package storage provides SQLite-backed persistence for accounts, content
// claims, signals, rejections, daily counters, and reference prices.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/feedhawk/signalscout/internal/models"
	_ "modernc.org/sqlite"
)

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db *sql.DB
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/signalscout/data.db.
func New(dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "signalscout", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	s := &Storage{db: db}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id       TEXT PRIMARY KEY,
			handle   TEXT NOT NULL UNIQUE,
			cursor   TEXT NOT NULL DEFAULT '',
			enabled  INTEGER NOT NULL DEFAULT 1,
			added_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS content_claims (
			content_id TEXT PRIMARY KEY,
			claimed_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS signals (
			id           TEXT PRIMARY KEY,
			account_id   TEXT NOT NULL,
			content_id   TEXT NOT NULL UNIQUE,
			symbol       TEXT NOT NULL,
			direction    TEXT NOT NULL,
			entry_low    REAL NOT NULL,
			entry_high   REAL NOT NULL,
			stop_loss    REAL NOT NULL,
			targets      TEXT NOT NULL DEFAULT '[]',
			risk_reward  REAL NOT NULL,
			confidence   REAL NOT NULL,
			status       TEXT NOT NULL,
			created_at   INTEGER NOT NULL,
			delivered_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS rejections (
			content_id TEXT PRIMARY KEY,
			account_id TEXT,
			reason     TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS daily_counts (
			day     TEXT NOT NULL,
			cap_key TEXT NOT NULL,
			count   INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (day, cap_key)
		)`,
		`CREATE TABLE IF NOT EXISTS reference_prices (
			symbol     TEXT PRIMARY KEY,
			price      REAL NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_created_at ON signals(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_status ON signals(status)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// ─── Accounts ────────────────────────────────────────────────────────────────

func (s *Storage) AddAccount(a *models.Account) error {
	if err := a.Validate(); err != nil {
		return fmt.Errorf("invalid account: %w", err)
	}
	_, err := s.db.Exec(`
		INSERT INTO accounts (id, handle, cursor, enabled, added_at)
		VALUES (?,?,?,?,?)`,
		a.ID, a.Handle, a.Cursor, boolToInt(a.Enabled), a.AddedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

func (s *Storage) RemoveAccount(id string) error {
	res, err := s.db.Exec(`DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrAccountNotFound
	}
	return nil
}

func (s *Storage) UpdateAccountCursor(id, cursor string) error {
	res, err := s.db.Exec(`UPDATE accounts SET cursor = ? WHERE id = ?`, cursor, id)
	if err != nil {
		return fmt.Errorf("failed to update cursor: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrAccountNotFound
	}
	return nil
}

func (s *Storage) SetAccountEnabled(id string, enabled bool) error {
	res, err := s.db.Exec(`UPDATE accounts SET enabled = ? WHERE id = ?`, boolToInt(enabled), id)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrAccountNotFound
	}
	return nil
}

// ListAccounts returns all accounts ordered by added_at then id, the stable
// order the scheduler rotates over.
func (s *Storage) ListAccounts() ([]models.Account, error) {
	rows, err := s.db.Query(`
		SELECT id, handle, cursor, enabled, added_at
		FROM accounts ORDER BY added_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		var a models.Account
		var enabled int
		var addedAtNano int64
		if err := rows.Scan(&a.ID, &a.Handle, &a.Cursor, &enabled, &addedAtNano); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		a.Enabled = enabled != 0
		a.AddedAt = time.Unix(0, addedAtNano)
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// ─── Content claims ──────────────────────────────────────────────────────────

// ClaimContent atomically claims a content ID for processing. It reports
// false when the ID was already claimed by an earlier (or concurrent)
// submission; exactly one caller ever observes true per ID.
func (s *Storage) ClaimContent(contentID string, at time.Time) (bool, error) {
	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO content_claims (content_id, claimed_at)
		VALUES (?,?)`, contentID, at.UnixNano())
	if err != nil {
		return false, fmt.Errorf("failed to claim content: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to claim content: %w", err)
	}
	return n == 1, nil
}

// IsKnown reports whether a content ID already has a claim recorded.
func (s *Storage) IsKnown(contentID string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM content_claims WHERE content_id = ?`, contentID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check content claim: %w", err)
	}
	return true, nil
}

// ─── Signals ─────────────────────────────────────────────────────────────────

// AcceptSignal inserts a signal and increments the daily counter for capKey
// in one transaction. It returns models.ErrDailyCapExceeded, with no side
// effects, if the counter for the signal's UTC day is already at maxDaily.
func (s *Storage) AcceptSignal(sig *models.Signal, capKey string, maxDaily int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	day := sig.CreatedAt.UTC().Format("2006-01-02")

	var count int
	err = tx.QueryRow(`SELECT count FROM daily_counts WHERE day = ? AND cap_key = ?`, day, capKey).Scan(&count)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to read daily count: %w", err)
	}
	if count >= maxDaily {
		return models.ErrDailyCapExceeded
	}

	targetsJSON, err := json.Marshal(sig.Targets)
	if err != nil {
		return fmt.Errorf("failed to marshal targets: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO signals
			(id, account_id, content_id, symbol, direction, entry_low, entry_high,
			 stop_loss, targets, risk_reward, confidence, status, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		sig.ID, sig.AccountID, sig.ContentID, sig.Symbol, string(sig.Direction),
		sig.EntryLow, sig.EntryHigh, sig.StopLoss, string(targetsJSON),
		sig.RiskReward, sig.Confidence, string(sig.Status), sig.CreatedAt.UnixNano(),
	); err != nil {
		return fmt.Errorf("failed to insert signal: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT INTO daily_counts (day, cap_key, count) VALUES (?,?,1)
		ON CONFLICT(day, cap_key) DO UPDATE SET count = count + 1`,
		day, capKey,
	); err != nil {
		return fmt.Errorf("failed to increment daily count: %w", err)
	}

	return tx.Commit()
}

// DailyCount returns the accepted-signal count for capKey on the given day.
func (s *Storage) DailyCount(day time.Time, capKey string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT count FROM daily_counts WHERE day = ? AND cap_key = ?`,
		day.UTC().Format("2006-01-02"), capKey).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read daily count: %w", err)
	}
	return count, nil
}

// MarkDelivered transitions a signal from pending to delivered.
func (s *Storage) MarkDelivered(signalID string, at time.Time) error {
	res, err := s.db.Exec(`
		UPDATE signals SET status = ?, delivered_at = ?
		WHERE id = ? AND status = ?`,
		string(models.StatusDelivered), at.UnixNano(), signalID, string(models.StatusPending),
	)
	if err != nil {
		return fmt.Errorf("failed to mark delivered: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.New("signal not found or not pending")
	}
	return nil
}

// ExpireSignals marks pending signals created before cutoff as expired and
// returns how many were expired.
func (s *Storage) ExpireSignals(cutoff time.Time) (int, error) {
	res, err := s.db.Exec(`
		UPDATE signals SET status = ?
		WHERE status = ? AND created_at < ?`,
		string(models.StatusExpired), string(models.StatusPending), cutoff.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to expire signals: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// RecentSignals returns up to limit signals, newest first.
func (s *Storage) RecentSignals(limit int) ([]models.Signal, error) {
	rows, err := s.db.Query(`
		SELECT id, account_id, content_id, symbol, direction, entry_low, entry_high,
		       stop_loss, targets, risk_reward, confidence, status, created_at
		FROM signals ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query signals: %w", err)
	}
	defer rows.Close()

	var signals []models.Signal
	for rows.Next() {
		var sig models.Signal
		var direction, targetsJSON, status string
		var createdAtNano int64
		if err := rows.Scan(
			&sig.ID, &sig.AccountID, &sig.ContentID, &sig.Symbol, &direction,
			&sig.EntryLow, &sig.EntryHigh, &sig.StopLoss, &targetsJSON,
			&sig.RiskReward, &sig.Confidence, &status, &createdAtNano,
		); err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		if err := json.Unmarshal([]byte(targetsJSON), &sig.Targets); err != nil {
			return nil, fmt.Errorf("failed to unmarshal targets: %w", err)
		}
		sig.Direction = models.Direction(direction)
		sig.Status = models.SignalStatus(status)
		sig.CreatedAt = time.Unix(0, createdAtNano)
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}

// ─── Rejections ──────────────────────────────────────────────────────────────

// AddRejection records a write-once rejection. A second rejection for the
// same content ID is ignored, never overwritten.
func (s *Storage) AddRejection(r *models.Rejection) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO rejections (content_id, account_id, reason, created_at)
		VALUES (?,?,?,?)`,
		r.ContentID, r.AccountID, string(r.Reason), r.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert rejection: %w", err)
	}
	return nil
}

// GetRejection returns the recorded rejection for a content ID, with
// ok=false when none exists.
func (s *Storage) GetRejection(contentID string) (*models.Rejection, bool, error) {
	row := s.db.QueryRow(`
		SELECT content_id, account_id, reason, created_at
		FROM rejections WHERE content_id = ?`, contentID)

	var r models.Rejection
	var reason string
	var createdAtNano int64
	err := row.Scan(&r.ContentID, &r.AccountID, &reason, &createdAtNano)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get rejection: %w", err)
	}
	r.Reason = models.RejectReason(reason)
	r.CreatedAt = time.Unix(0, createdAtNano)
	return &r, true, nil
}

// Stats summarizes accepted and rejected totals for reporting.
type Stats struct {
	SignalsTotal       int
	SignalsPending     int
	SignalsDelivered   int
	RejectionsByReason map[models.RejectReason]int
}

func (s *Storage) GetStats() (*Stats, error) {
	st := &Stats{RejectionsByReason: make(map[models.RejectReason]int)}

	row := s.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status = 'delivered' THEN 1 ELSE 0 END), 0)
		FROM signals`)
	if err := row.Scan(&st.SignalsTotal, &st.SignalsPending, &st.SignalsDelivered); err != nil {
		return nil, fmt.Errorf("failed to count signals: %w", err)
	}

	rows, err := s.db.Query(`SELECT reason, COUNT(*) FROM rejections GROUP BY reason`)
	if err != nil {
		return nil, fmt.Errorf("failed to count rejections: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var reason string
		var n int
		if err := rows.Scan(&reason, &n); err != nil {
			return nil, fmt.Errorf("failed to scan rejection count: %w", err)
		}
		st.RejectionsByReason[models.RejectReason(reason)] = n
	}
	return st, rows.Err()
}

// ─── Reference prices ────────────────────────────────────────────────────────

// GetReferencePrice returns the last known market price for a symbol, with
// ok=false when no reference exists.
func (s *Storage) GetReferencePrice(symbol string) (price float64, ok bool, err error) {
	err = s.db.QueryRow(`SELECT price FROM reference_prices WHERE symbol = ?`, symbol).Scan(&price)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get reference price: %w", err)
	}
	return price, true, nil
}

func (s *Storage) SetReferencePrice(symbol string, price float64, at time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO reference_prices (symbol, price, updated_at) VALUES (?,?,?)
		ON CONFLICT(symbol) DO UPDATE SET price = excluded.price, updated_at = excluded.updated_at`,
		symbol, price, at.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to set reference price: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
