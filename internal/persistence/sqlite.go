package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tathienbao/signal-executor/internal/position"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db       *sql.DB
	codec    position.Codec
	costRate decimal.Decimal
}

// NewSQLiteRepository creates a new SQLite repository. costRate is applied
// to journaled P&L.
func NewSQLiteRepository(path string, codec position.Codec, costRate decimal.Decimal) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	repo := &SQLiteRepository{db: db, codec: codec, costRate: costRate}

	// Run migrations
	if err := repo.Migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return repo, nil
}

// Migrate runs database migrations.
func (r *SQLiteRepository) Migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id TEXT PRIMARY KEY,
			slot INTEGER NOT NULL,
			combo TEXT NOT NULL,
			contract TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			entry_time DATETIME NOT NULL,
			exit_time DATETIME NOT NULL,
			entry_spread TEXT NOT NULL,
			exit_spread TEXT NOT NULL,
			gross_pl TEXT NOT NULL,
			cost TEXT NOT NULL,
			net_pl TEXT NOT NULL,
			mfe TEXT NOT NULL DEFAULT '0',
			mae TEXT NOT NULL DEFAULT '0',
			entry_order_id INTEGER,
			exit_order_id INTEGER,
			record TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_combo ON trades(combo)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_exit_time ON trades(exit_time)`,

		`CREATE TABLE IF NOT EXISTS audit_findings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sweep_id TEXT NOT NULL,
			slot INTEGER NOT NULL,
			combo TEXT NOT NULL,
			state TEXT NOT NULL,
			reference_time DATETIME,
			age_seconds INTEGER NOT NULL,
			resolution TEXT NOT NULL,
			detail TEXT,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_created_at ON audit_findings(created_at)`,

		`CREATE TABLE IF NOT EXISTS executor_state (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, migration := range migrations {
		if _, err := r.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// SaveClosedTrade journals an exited record.
func (r *SQLiteRepository) SaveClosedTrade(ctx context.Context, slot int, rec *position.Record) error {
	net, ok := rec.NetPnL(r.costRate)
	if !ok {
		return fmt.Errorf("slot %d: record has no entry or exit spread", slot)
	}
	gross, _ := rec.NetPnL(decimal.Zero)

	raw, err := r.codec.Encode(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	query := `INSERT INTO trades
		(id, slot, combo, contract, quantity, entry_time, exit_time, entry_spread, exit_spread, gross_pl, cost, net_pl, mfe, mae, entry_order_id, exit_order_id, record)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		uuid.NewString(),
		slot,
		rec.Combo,
		rec.Contract.String(),
		rec.Quantity,
		rec.EntryTime.UTC(),
		rec.ExitTime.UTC(),
		rec.EntrySpread.Decimal.String(),
		exitSpread(rec).String(),
		gross.String(),
		gross.Sub(net).String(),
		net.String(),
		rec.Excursion.MFE.String(),
		rec.Excursion.MAE.String(),
		lastID(rec.EntryOrderIDs),
		lastID(rec.ExitOrderIDs),
		raw,
	)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}

	return nil
}

func exitSpread(rec *position.Record) decimal.Decimal {
	if rec.ExitSpread.Valid {
		return rec.ExitSpread.Decimal
	}
	return rec.LastSpread.Decimal
}

func lastID(ids []int64) sql.NullInt64 {
	if len(ids) == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: ids[len(ids)-1], Valid: true}
}

// GetTrades returns trades exited in a time range.
func (r *SQLiteRepository) GetTrades(ctx context.Context, from, to time.Time) ([]Trade, error) {
	query := `SELECT id, slot, combo, contract, quantity, entry_time, exit_time, entry_spread, exit_spread, gross_pl, cost, net_pl, mfe, mae, entry_order_id, exit_order_id, record
		FROM trades WHERE exit_time BETWEEN ? AND ? ORDER BY exit_time DESC`

	rows, err := r.db.QueryContext(ctx, query, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return r.scanTrades(rows)
}

// GetTradesByCombo returns the latest trades of a combo.
func (r *SQLiteRepository) GetTradesByCombo(ctx context.Context, combo string, limit int) ([]Trade, error) {
	query := `SELECT id, slot, combo, contract, quantity, entry_time, exit_time, entry_spread, exit_spread, gross_pl, cost, net_pl, mfe, mae, entry_order_id, exit_order_id, record
		FROM trades WHERE combo = ? ORDER BY exit_time DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, combo, limit)
	if err != nil {
		return nil, fmt.Errorf("query trades by combo: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return r.scanTrades(rows)
}

func (r *SQLiteRepository) scanTrades(rows *sql.Rows) ([]Trade, error) {
	var trades []Trade
	for rows.Next() {
		var t Trade
		var entrySpread, exitSpread, grossPL, cost, netPL, mfe, mae string
		var entryOrder, exitOrder sql.NullInt64

		if err := rows.Scan(&t.ID, &t.Slot, &t.Combo, &t.Contract, &t.Quantity, &t.EntryTime, &t.ExitTime,
			&entrySpread, &exitSpread, &grossPL, &cost, &netPL, &mfe, &mae, &entryOrder, &exitOrder, &t.Record); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		t.EntrySpread, _ = decimal.NewFromString(entrySpread)
		t.ExitSpread, _ = decimal.NewFromString(exitSpread)
		t.GrossPL, _ = decimal.NewFromString(grossPL)
		t.Cost, _ = decimal.NewFromString(cost)
		t.NetPL, _ = decimal.NewFromString(netPL)
		t.MFE, _ = decimal.NewFromString(mfe)
		t.MAE, _ = decimal.NewFromString(mae)
		t.EntryOrderID = entryOrder.Int64
		t.ExitOrderID = exitOrder.Int64

		trades = append(trades, t)
	}

	return trades, rows.Err()
}

// SaveAuditFinding saves one audit finding.
func (r *SQLiteRepository) SaveAuditFinding(ctx context.Context, f AuditFinding) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now()
	}
	var ref sql.NullTime
	if !f.ReferenceTime.IsZero() {
		ref = sql.NullTime{Time: f.ReferenceTime.UTC(), Valid: true}
	}

	query := `INSERT INTO audit_findings
		(sweep_id, slot, combo, state, reference_time, age_seconds, resolution, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		f.SweepID,
		f.Slot,
		f.Combo,
		f.State,
		ref,
		int64(f.Age/time.Second),
		f.Resolution,
		f.Detail,
		f.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert audit finding: %w", err)
	}

	return nil
}

// GetAuditFindings returns findings recorded in a time range.
func (r *SQLiteRepository) GetAuditFindings(ctx context.Context, from, to time.Time) ([]AuditFinding, error) {
	query := `SELECT id, sweep_id, slot, combo, state, reference_time, age_seconds, resolution, detail, created_at
		FROM audit_findings WHERE created_at BETWEEN ? AND ? ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("query audit findings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var findings []AuditFinding
	for rows.Next() {
		var f AuditFinding
		var ref sql.NullTime
		var age int64
		var detail sql.NullString

		if err := rows.Scan(&f.ID, &f.SweepID, &f.Slot, &f.Combo, &f.State, &ref, &age, &f.Resolution, &detail, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if ref.Valid {
			f.ReferenceTime = ref.Time
		}
		f.Age = time.Duration(age) * time.Second
		f.Detail = detail.String

		findings = append(findings, f)
	}

	return findings, rows.Err()
}

// SetState stores a state value.
func (r *SQLiteRepository) SetState(ctx context.Context, key, value string) error {
	query := `INSERT OR REPLACE INTO executor_state (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)`
	if _, err := r.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("save state %s: %w", key, err)
	}
	return nil
}

// GetState reads a state value. ok is false when the key was never set.
func (r *SQLiteRepository) GetState(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM executor_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query state %s: %w", key, err)
	}
	return value, true, nil
}

// Close closes the database connection.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

var _ Repository = (*SQLiteRepository)(nil)
