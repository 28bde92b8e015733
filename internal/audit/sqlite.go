// Package audit implementa el audit writer (§4.5): el registro append-only
// de todo lo que el kernel decide y ejecuta, sobre SQLite puro-Go.
//
// El esquema y el idioma de apertura de la base (un solo writer, schema
// embebido como constante) están grounded en
// internal/adapters/storage/sqlite.go (teacher); las doce tablas en sí
// están tomadas literalmente de los nombres de §6 de la especificación y de
// original_source/crates/storage (runs, raw_events, incidents).
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/alejandrodnm/traderd/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    run_id       TEXT PRIMARY KEY,
    started_at   INTEGER NOT NULL,
    closed_at    INTEGER,
    git_sha      TEXT,
    config_hash  TEXT,
    host         TEXT
);

CREATE TABLE IF NOT EXISTS raw_events (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id     TEXT NOT NULL,
    source     TEXT NOT NULL,
    topic      TEXT NOT NULL,
    payload    TEXT NOT NULL,
    at         INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS snapshots (
    snapshot_id TEXT PRIMARY KEY,
    run_id      TEXT NOT NULL,
    market_id   TEXT NOT NULL,
    at          INTEGER NOT NULL,
    can_trade   INTEGER NOT NULL,
    drawdown_halt INTEGER NOT NULL,
    yes_bid     REAL, yes_ask REAL,
    no_bid      REAL, no_ask REAL,
    net_exposure REAL,
    crowding    REAL,
    toxicity    REAL,
    spread_compression REAL,
    schema_version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS strategy_intents (
    intent_id    TEXT PRIMARY KEY,
    snapshot_id  TEXT,
    run_id       TEXT,
    strategy     TEXT NOT NULL,
    tier         TEXT NOT NULL,
    market_id    TEXT NOT NULL,
    kind         TEXT NOT NULL,
    side         TEXT,
    price        REAL,
    size         REAL,
    expected_value REAL,
    confidence   REAL,
    risk_cost    REAL,
    leg_group_id TEXT,
    created_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS arbiter_approvals (
    approved_id  TEXT PRIMARY KEY,
    intent_id    TEXT NOT NULL,
    approved     INTEGER NOT NULL,
    reason       TEXT NOT NULL,
    owner        TEXT,
    decided_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS orders (
    client_order_id TEXT PRIMARY KEY,
    venue_order_id  TEXT,
    strategy        TEXT NOT NULL,
    market_id       TEXT NOT NULL,
    side            TEXT NOT NULL,
    price           REAL NOT NULL,
    qty             REAL NOT NULL,
    filled_qty      REAL NOT NULL DEFAULT 0,
    status          TEXT NOT NULL,
    intent_id       TEXT,
    approved_id     TEXT,
    submitted_at    INTEGER,
    acked_at        INTEGER,
    final_at        INTEGER,
    submit_latency_ms INTEGER,
    leg_group_id    TEXT
);

CREATE TABLE IF NOT EXISTS fills (
    fill_id         TEXT PRIMARY KEY,
    client_order_id TEXT NOT NULL,
    venue_order_id  TEXT,
    market_id       TEXT NOT NULL,
    side            TEXT NOT NULL,
    price           REAL NOT NULL,
    qty             REAL NOT NULL,
    fee             REAL NOT NULL DEFAULT 0,
    liquidity       TEXT,
    at              INTEGER NOT NULL,
    partial_leg     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS pnl_ledger (
    entry_id   TEXT PRIMARY KEY,
    kind       TEXT NOT NULL,
    reference  TEXT,
    amount_usd REAL NOT NULL,
    strategy   TEXT,
    market_id  TEXT,
    at         INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS portfolio_snapshots (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id            TEXT NOT NULL,
    at                INTEGER NOT NULL,
    total_equity_usd  REAL NOT NULL,
    open_exposure_usd REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS plugin_signals (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id     TEXT NOT NULL,
    strategy   TEXT NOT NULL,
    kind       TEXT NOT NULL,
    payload    TEXT NOT NULL,
    at         INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS incidents (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id     TEXT NOT NULL,
    severity   TEXT NOT NULL,
    kind       TEXT NOT NULL,
    message    TEXT NOT NULL,
    at         INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS feature_schemas (
    version     INTEGER PRIMARY KEY,
    description TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_raw_events_run   ON raw_events(run_id, at DESC);
CREATE INDEX IF NOT EXISTS idx_snapshots_market ON snapshots(market_id, at DESC);
CREATE INDEX IF NOT EXISTS idx_orders_market    ON orders(market_id, status);
CREATE INDEX IF NOT EXISTS idx_fills_order      ON fills(client_order_id);
CREATE INDEX IF NOT EXISTS idx_ledger_market    ON pnl_ledger(market_id, at DESC);
`

// Store implementa ports.AuditStore sobre SQLite puro-Go (single-writer,
// igual que SQLiteStorage del teacher).
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open abre (o crea) la base en path; el esquema lo aplica Migrate.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit.Open: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return &Store{db: db}, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("audit.Migrate: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

func ms(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func nullableMs(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func (s *Store) InsertRun(ctx context.Context, run domain.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (run_id, started_at, closed_at, git_sha, config_hash, host) VALUES (?, ?, ?, ?, ?, ?)`,
		run.RunID, ms(run.StartedAt), nullableMs(run.ClosedAt), run.GitSHA, run.ConfigHash, run.Host,
	)
	return err
}

func (s *Store) CloseRun(ctx context.Context, runID string, closedAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE runs SET closed_at = ? WHERE run_id = ?`, closedAt, runID)
	return err
}

func (s *Store) InsertRawEvent(ctx context.Context, runID, source, topic, payloadJSON string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO raw_events (run_id, source, topic, payload, at) VALUES (?, ?, ?, ?, ?)`,
		runID, source, topic, payloadJSON, time.Now().UTC().UnixMilli(),
	)
	return err
}

func (s *Store) InsertSnapshot(ctx context.Context, snap domain.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO snapshots
			(snapshot_id, run_id, market_id, at, can_trade, drawdown_halt,
			 yes_bid, yes_ask, no_bid, no_ask, net_exposure,
			 crowding, toxicity, spread_compression, schema_version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.SnapshotID, snap.RunID, string(snap.MarketID), ms(snap.Timestamp), snap.CanTrade, snap.DrawdownHalt,
		snap.YesBook.BidPrice, snap.YesBook.AskPrice, snap.NoBook.BidPrice, snap.NoBook.AskPrice, snap.Position.NetExposure,
		snap.Crowding, snap.Toxicity, snap.SpreadCompression, snap.Features.SchemaVersion,
	)
	return err
}

func (s *Store) InsertIntent(ctx context.Context, intent domain.Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO strategy_intents
			(intent_id, snapshot_id, strategy, tier, market_id, kind, side, price, size,
			 expected_value, confidence, risk_cost, leg_group_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		intent.IntentID, intent.SnapshotID, intent.Strategy, intent.Tier.String(), string(intent.MarketID),
		string(intent.Kind), string(intent.Side), intent.Price, intent.Size,
		intent.ExpectedValue, intent.Confidence, intent.RiskCost, intent.LegGroupID, ms(intent.CreatedAt),
	)
	return err
}

func (s *Store) InsertApproval(ctx context.Context, approval domain.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO arbiter_approvals (approved_id, intent_id, approved, reason, owner, decided_at) VALUES (?, ?, ?, ?, ?, ?)`,
		approval.ApprovedID, approval.IntentID, approval.Approved, string(approval.Reason), approval.Owner, ms(approval.DecidedAt),
	)
	return err
}

func (s *Store) InsertOrder(ctx context.Context, order domain.Order) error {
	return s.upsertOrder(ctx, order)
}

func (s *Store) UpdateOrderStatus(ctx context.Context, order domain.Order) error {
	return s.upsertOrder(ctx, order)
}

func (s *Store) upsertOrder(ctx context.Context, order domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO orders
			(client_order_id, venue_order_id, strategy, market_id, side, price, qty, filled_qty, status,
			 intent_id, approved_id, submitted_at, acked_at, final_at, submit_latency_ms, leg_group_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(client_order_id) DO UPDATE SET
			venue_order_id = excluded.venue_order_id,
			filled_qty     = excluded.filled_qty,
			status         = excluded.status,
			acked_at       = excluded.acked_at,
			final_at       = excluded.final_at,
			submit_latency_ms = excluded.submit_latency_ms`,
		order.ClientOrderID, order.VenueOrderID, order.Strategy, string(order.MarketID), string(order.Side),
		order.Price, order.Qty, order.FilledQty, string(order.Status),
		order.IntentID, order.ApprovedID, nullableMs(order.SubmittedAt), nullableMs(order.AckedAt),
		nullableMs(order.FinalAt), order.SubmitLatencyMs, order.LegGroupID,
	)
	return err
}

func (s *Store) InsertFill(ctx context.Context, fill domain.Fill) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO fills
			(fill_id, client_order_id, venue_order_id, market_id, side, price, qty, fee, liquidity, at, partial_leg)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fill.FillID, fill.ClientOrderID, fill.VenueOrderID, string(fill.MarketID), string(fill.Side),
		fill.Price, fill.Qty, fill.Fee, string(fill.Liquidity), ms(fill.Timestamp), fill.PartialLeg,
	)
	return err
}

func (s *Store) InsertLedgerEntry(ctx context.Context, entry domain.PnLLedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO pnl_ledger (entry_id, kind, reference, amount_usd, strategy, market_id, at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.EntryID, string(entry.Kind), entry.Reference, entry.AmountUSD, entry.Strategy, string(entry.MarketID), ms(entry.Timestamp),
	)
	return err
}

func (s *Store) InsertIncident(ctx context.Context, incident domain.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO incidents (run_id, severity, kind, message, at) VALUES (?, ?, ?, ?, ?)`,
		incident.RunID, string(incident.Severity), incident.Kind, incident.Message, ms(incident.Timestamp),
	)
	return err
}

func (s *Store) InsertPortfolioSnapshot(ctx context.Context, runID string, ts int64, totalEquityUSD, openExposureUSD float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO portfolio_snapshots (run_id, at, total_equity_usd, open_exposure_usd) VALUES (?, ?, ?, ?)`,
		runID, ts, totalEquityUSD, openExposureUSD,
	)
	return err
}

func (s *Store) InsertPluginSignal(ctx context.Context, runID, strategy, kind, payloadJSON string, ts int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO plugin_signals (run_id, strategy, kind, payload, at) VALUES (?, ?, ?, ?, ?)`,
		runID, strategy, kind, payloadJSON, ts,
	)
	return err
}

func (s *Store) InsertFeatureSchema(ctx context.Context, version int, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO feature_schemas (version, description) VALUES (?, ?)`,
		version, description,
	)
	return err
}
