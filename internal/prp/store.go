package prp

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

const schemaVersion = 1

const schemaSQL = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS schema_version (
  version INTEGER PRIMARY KEY,
  applied_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS strategy_events (
  event_id TEXT PRIMARY KEY,
  trading_date TEXT NOT NULL,
  occurred_at TEXT NOT NULL,
  symbol TEXT NOT NULL,
  event_type TEXT NOT NULL,
  base_price TEXT NULL,
  local_low TEXT NULL,
  current_price TEXT NULL,
  payload_json TEXT NULL
);
CREATE INDEX IF NOT EXISTS idx_strategy_events_date_symbol
ON strategy_events(trading_date, symbol, occurred_at);

CREATE TABLE IF NOT EXISTS order_events (
  event_id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  trading_date TEXT NOT NULL,
  occurred_at TEXT NOT NULL,
  symbol TEXT NOT NULL,
  side TEXT NOT NULL,
  order_type TEXT NOT NULL,
  order_price TEXT NOT NULL,
  quantity INTEGER NOT NULL,
  status TEXT NOT NULL,
  client_order_key TEXT NOT NULL,
  reason_code TEXT NULL,
  reason_message TEXT NULL,
  UNIQUE(order_id, status, occurred_at)
);

CREATE TABLE IF NOT EXISTS execution_events (
  event_id TEXT PRIMARY KEY,
  execution_id TEXT NOT NULL UNIQUE,
  order_id TEXT NOT NULL,
  trading_date TEXT NOT NULL,
  occurred_at TEXT NOT NULL,
  symbol TEXT NOT NULL,
  side TEXT NOT NULL,
  execution_price TEXT NOT NULL,
  execution_qty INTEGER NOT NULL,
  cum_qty INTEGER NOT NULL,
  remaining_qty INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS position_snapshots (
  snapshot_id TEXT PRIMARY KEY,
  saved_at TEXT NOT NULL,
  trading_date TEXT NOT NULL,
  symbol TEXT NOT NULL,
  avg_buy_price TEXT NOT NULL,
  quantity INTEGER NOT NULL,
  current_profit_rate TEXT NOT NULL,
  max_profit_rate TEXT NOT NULL,
  min_profit_locked INTEGER NOT NULL,
  last_order_id TEXT NULL,
  state_version INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_position_snapshots_date_savedat
ON position_snapshots(trading_date, saved_at DESC);

CREATE TABLE IF NOT EXISTS daily_reports (
  trading_date TEXT PRIMARY KEY,
  total_buy_amount TEXT NOT NULL,
  total_sell_amount TEXT NOT NULL,
  total_sell_tax TEXT NOT NULL,
  total_sell_fee TEXT NOT NULL,
  total_net_pnl TEXT NOT NULL,
  total_return_rate TEXT NOT NULL,
  unmatched_sell_qty INTEGER NOT NULL DEFAULT 0,
  generated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS trade_details (
  id TEXT PRIMARY KEY,
  trading_date TEXT NOT NULL,
  symbol TEXT NOT NULL,
  buy_executed_at TEXT NOT NULL,
  sell_executed_at TEXT NOT NULL,
  quantity INTEGER NOT NULL,
  buy_price TEXT NOT NULL,
  sell_price TEXT NOT NULL,
  buy_amount TEXT NOT NULL,
  sell_amount TEXT NOT NULL,
  sell_tax TEXT NOT NULL,
  sell_fee TEXT NOT NULL,
  net_pnl TEXT NOT NULL,
  return_rate TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trade_details_date_symbol
ON trade_details(trading_date, symbol);
`

// Store is the event repository over an embedded SQLite file. Each call is
// its own transaction; a single Store must not be shared across workers,
// but separate handles on the same file are safe (WAL mode).
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if _, err := db.Exec(
		`INSERT OR IGNORE INTO schema_version(version, applied_at) VALUES (?, ?)`,
		schemaVersion, time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		db.Close()
		return nil, fmt.Errorf("record schema version: %w", err)
	}

	return &Store{db: db, logger: logger.With("component", "prp")}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func tsOut(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func tsIn(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func decPtrOut(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func decIn(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// AppendStrategyEvent inserts one strategy event.
func (s *Store) AppendStrategyEvent(e StrategyEvent) error {
	payloadJSON, err := marshalPayload(e.Payload)
	if err != nil {
		return fmt.Errorf("append strategy event: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO strategy_events(
		   event_id, trading_date, occurred_at, symbol, event_type,
		   base_price, local_low, current_price, payload_json
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.EventID, e.TradingDate, tsOut(e.OccurredAt), e.Symbol, e.EventType,
		decPtrOut(e.BasePrice), decPtrOut(e.LocalLow), decPtrOut(e.CurrentPrice), payloadJSON,
	)
	if err != nil {
		return fmt.Errorf("append strategy event: %w", err)
	}
	return nil
}

// AppendOrderEvent inserts one order event. The (order_id, status,
// occurred_at) unique index guards against accidental duplicates.
func (s *Store) AppendOrderEvent(e OrderEvent) error {
	_, err := s.db.Exec(
		`INSERT INTO order_events(
		   event_id, order_id, trading_date, occurred_at, symbol, side,
		   order_type, order_price, quantity, status, client_order_key,
		   reason_code, reason_message
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.EventID, e.OrderID, e.TradingDate, tsOut(e.OccurredAt), e.Symbol, e.Side,
		e.OrderType, e.OrderPrice.String(), e.Quantity, e.Status, e.ClientOrderKey,
		nullable(e.ReasonCode), nullable(e.ReasonMessage),
	)
	if err != nil {
		return fmt.Errorf("append order event: %w", err)
	}
	return nil
}

// AppendExecutionEvent inserts one execution event. Returns false without
// error when the execution id already exists; this dedup is what makes
// fill application exactly-once.
func (s *Store) AppendExecutionEvent(e ExecutionEvent) (bool, error) {
	res, err := s.db.Exec(
		`INSERT INTO execution_events(
		   event_id, execution_id, order_id, trading_date, occurred_at,
		   symbol, side, execution_price, execution_qty, cum_qty, remaining_qty
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(execution_id) DO NOTHING`,
		e.EventID, e.ExecutionID, e.OrderID, e.TradingDate, tsOut(e.OccurredAt),
		e.Symbol, e.Side, e.ExecutionPrice.String(), e.ExecutionQty, e.CumQty, e.RemainingQty,
	)
	if err != nil {
		return false, fmt.Errorf("append execution event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("append execution event: %w", err)
	}
	if n == 0 {
		s.logger.Debug("duplicate execution skipped", "execution_id", e.ExecutionID)
		return false, nil
	}
	return true, nil
}

// ExecutionExists reports whether an execution id has been applied already.
func (s *Store) ExecutionExists(executionID string) (bool, error) {
	var one int
	err := s.db.QueryRow(
		`SELECT 1 FROM execution_events WHERE execution_id = ? LIMIT 1`, executionID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("execution exists: %w", err)
	}
	return true, nil
}

// SaveStateSnapshot appends one position snapshot.
func (s *Store) SaveStateSnapshot(snap PositionSnapshot) error {
	locked := 0
	if snap.MinProfitLocked {
		locked = 1
	}
	_, err := s.db.Exec(
		`INSERT INTO position_snapshots(
		   snapshot_id, saved_at, trading_date, symbol, avg_buy_price, quantity,
		   current_profit_rate, max_profit_rate, min_profit_locked, last_order_id, state_version
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.SnapshotID, tsOut(snap.SavedAt), snap.TradingDate, snap.Symbol,
		snap.AvgBuyPrice.String(), snap.Quantity, snap.CurrentProfitRate.String(),
		snap.MaxProfitRate.String(), locked, nullable(snap.LastOrderID), snap.StateVersion,
	)
	if err != nil {
		return fmt.Errorf("save state snapshot: %w", err)
	}
	return nil
}

// LoadLatestStateSnapshot returns the newest snapshot for a trading date,
// or nil when the day has none.
func (s *Store) LoadLatestStateSnapshot(tradingDate string) (*PositionSnapshot, error) {
	row := s.db.QueryRow(
		`SELECT snapshot_id, saved_at, trading_date, symbol, avg_buy_price, quantity,
		        current_profit_rate, max_profit_rate, min_profit_locked, last_order_id, state_version
		 FROM position_snapshots
		 WHERE trading_date = ?
		 ORDER BY saved_at DESC
		 LIMIT 1`, tradingDate,
	)

	var snap PositionSnapshot
	var savedAt, avgBuy, curRate, maxRate string
	var locked int
	var lastOrderID sql.NullString
	err := row.Scan(&snap.SnapshotID, &savedAt, &snap.TradingDate, &snap.Symbol,
		&avgBuy, &snap.Quantity, &curRate, &maxRate, &locked, &lastOrderID, &snap.StateVersion)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load latest snapshot: %w", err)
	}

	snap.SavedAt = tsIn(savedAt)
	snap.AvgBuyPrice = decIn(avgBuy)
	snap.CurrentProfitRate = decIn(curRate)
	snap.MaxProfitRate = decIn(maxRate)
	snap.MinProfitLocked = locked != 0
	snap.LastOrderID = lastOrderID.String
	return &snap, nil
}

// ListStrategyEvents returns strategy events newest-first, optionally
// filtered by trading date and event types. The limit is clamped to [1,500].
func (s *Store) ListStrategyEvents(tradingDate string, eventTypes []string, limit int) ([]StrategyEvent, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > 500 {
		limit = 500
	}

	var clauses []string
	var args []any
	if tradingDate != "" {
		clauses = append(clauses, "trading_date = ?")
		args = append(args, tradingDate)
	}
	if len(eventTypes) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(eventTypes)), ",")
		clauses = append(clauses, "event_type IN ("+placeholders+")")
		for _, t := range eventTypes {
			args = append(args, t)
		}
	}
	whereSQL := ""
	if len(clauses) > 0 {
		whereSQL = "WHERE " + strings.Join(clauses, " AND ")
	}
	args = append(args, limit)

	rows, err := s.db.Query(
		`SELECT event_id, occurred_at, trading_date, symbol, event_type,
		        base_price, local_low, current_price, payload_json
		 FROM strategy_events `+whereSQL+`
		 ORDER BY occurred_at DESC, event_id DESC
		 LIMIT ?`, args...,
	)
	if err != nil {
		return nil, fmt.Errorf("list strategy events: %w", err)
	}
	defer rows.Close()

	var result []StrategyEvent
	for rows.Next() {
		var e StrategyEvent
		var occurredAt string
		var basePrice, localLow, currentPrice, payloadJSON sql.NullString
		if err := rows.Scan(&e.EventID, &occurredAt, &e.TradingDate, &e.Symbol, &e.EventType,
			&basePrice, &localLow, &currentPrice, &payloadJSON); err != nil {
			return nil, fmt.Errorf("list strategy events: %w", err)
		}
		e.OccurredAt = tsIn(occurredAt)
		if basePrice.Valid {
			d := decIn(basePrice.String)
			e.BasePrice = &d
		}
		if localLow.Valid {
			d := decIn(localLow.String)
			e.LocalLow = &d
		}
		if currentPrice.Valid {
			d := decIn(currentPrice.String)
			e.CurrentPrice = &d
		}
		if payloadJSON.Valid {
			e.Payload = unmarshalPayload(payloadJSON.String)
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// ListExecutionsForDate returns the day's executions in application order
// (occurred_at asc, event_id asc) — the order FIFO matching consumes.
func (s *Store) ListExecutionsForDate(tradingDate string) ([]ExecutionEvent, error) {
	rows, err := s.db.Query(
		`SELECT event_id, execution_id, order_id, trading_date, occurred_at, symbol,
		        side, execution_price, execution_qty, cum_qty, remaining_qty
		 FROM execution_events
		 WHERE trading_date = ?
		 ORDER BY occurred_at ASC, event_id ASC`, tradingDate,
	)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var result []ExecutionEvent
	for rows.Next() {
		var e ExecutionEvent
		var occurredAt, price string
		if err := rows.Scan(&e.EventID, &e.ExecutionID, &e.OrderID, &e.TradingDate, &occurredAt,
			&e.Symbol, &e.Side, &price, &e.ExecutionQty, &e.CumQty, &e.RemainingQty); err != nil {
			return nil, fmt.Errorf("list executions: %w", err)
		}
		e.OccurredAt = tsIn(occurredAt)
		e.ExecutionPrice = decIn(price)
		result = append(result, e)
	}
	return result, rows.Err()
}

// GenerateDailyReport rebuilds FIFO trade details for the date, replaces the
// day's detail rows, and upserts the daily report. Safe to call repeatedly:
// output depends only on the stored execution stream.
func (s *Store) GenerateDailyReport(tradingDate string) (*DailyReport, error) {
	executions, err := s.ListExecutionsForDate(tradingDate)
	if err != nil {
		return nil, err
	}
	details, report := BuildDailyReport(executions, tradingDate)
	if report.UnmatchedSellQty > 0 {
		s.logger.Warn("report has unmatched sell quantity",
			"trading_date", tradingDate, "unmatched_qty", report.UnmatchedSellQty)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("generate report: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM trade_details WHERE trading_date = ?`, tradingDate); err != nil {
		return nil, fmt.Errorf("generate report: clear details: %w", err)
	}
	for _, d := range details {
		if _, err := tx.Exec(
			`INSERT INTO trade_details(
			   id, trading_date, symbol, buy_executed_at, sell_executed_at,
			   quantity, buy_price, sell_price, buy_amount, sell_amount,
			   sell_tax, sell_fee, net_pnl, return_rate
			 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.ID, d.TradingDate, d.Symbol, tsOut(d.BuyExecutedAt), tsOut(d.SellExecutedAt),
			d.Quantity, d.BuyPrice.String(), d.SellPrice.String(), d.BuyAmount.String(),
			d.SellAmount.String(), d.SellTax.String(), d.SellFee.String(),
			d.NetPnl.String(), d.ReturnRate.String(),
		); err != nil {
			return nil, fmt.Errorf("generate report: insert detail: %w", err)
		}
	}
	if _, err := tx.Exec(
		`INSERT INTO daily_reports(
		   trading_date, total_buy_amount, total_sell_amount, total_sell_tax,
		   total_sell_fee, total_net_pnl, total_return_rate, unmatched_sell_qty, generated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(trading_date) DO UPDATE SET
		   total_buy_amount=excluded.total_buy_amount,
		   total_sell_amount=excluded.total_sell_amount,
		   total_sell_tax=excluded.total_sell_tax,
		   total_sell_fee=excluded.total_sell_fee,
		   total_net_pnl=excluded.total_net_pnl,
		   total_return_rate=excluded.total_return_rate,
		   unmatched_sell_qty=excluded.unmatched_sell_qty,
		   generated_at=excluded.generated_at`,
		report.TradingDate, report.TotalBuyAmount.String(), report.TotalSellAmount.String(),
		report.TotalSellTax.String(), report.TotalSellFee.String(), report.TotalNetPnl.String(),
		report.TotalReturnRate.String(), report.UnmatchedSellQty, tsOut(report.GeneratedAt),
	); err != nil {
		return nil, fmt.Errorf("generate report: upsert report: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("generate report: %w", err)
	}
	return &report, nil
}

// ListTradeDetails returns the stored detail rows for a date, oldest sell
// first, optionally filtered by symbol.
func (s *Store) ListTradeDetails(tradingDate, symbol string) ([]TradeDetail, error) {
	query := `SELECT id, trading_date, symbol, buy_executed_at, sell_executed_at, quantity,
	                 buy_price, sell_price, buy_amount, sell_amount, sell_tax,
	                 sell_fee, net_pnl, return_rate
	          FROM trade_details
	          WHERE trading_date = ?`
	args := []any{tradingDate}
	if symbol != "" {
		query += ` AND symbol = ?`
		args = append(args, symbol)
	}
	query += ` ORDER BY sell_executed_at ASC, id ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list trade details: %w", err)
	}
	defer rows.Close()

	var result []TradeDetail
	for rows.Next() {
		var d TradeDetail
		var buyAt, sellAt, buyPrice, sellPrice, buyAmt, sellAmt, tax, fee, net, ret string
		if err := rows.Scan(&d.ID, &d.TradingDate, &d.Symbol, &buyAt, &sellAt, &d.Quantity,
			&buyPrice, &sellPrice, &buyAmt, &sellAmt, &tax, &fee, &net, &ret); err != nil {
			return nil, fmt.Errorf("list trade details: %w", err)
		}
		d.BuyExecutedAt = tsIn(buyAt)
		d.SellExecutedAt = tsIn(sellAt)
		d.BuyPrice = decIn(buyPrice)
		d.SellPrice = decIn(sellPrice)
		d.BuyAmount = decIn(buyAmt)
		d.SellAmount = decIn(sellAmt)
		d.SellTax = decIn(tax)
		d.SellFee = decIn(fee)
		d.NetPnl = decIn(net)
		d.ReturnRate = decIn(ret)
		result = append(result, d)
	}
	return result, rows.Err()
}

// LoadDailyReport returns the stored report for a date, or nil when absent.
func (s *Store) LoadDailyReport(tradingDate string) (*DailyReport, error) {
	row := s.db.QueryRow(
		`SELECT trading_date, total_buy_amount, total_sell_amount, total_sell_tax,
		        total_sell_fee, total_net_pnl, total_return_rate, unmatched_sell_qty, generated_at
		 FROM daily_reports WHERE trading_date = ?`, tradingDate,
	)
	var r DailyReport
	var buyAmt, sellAmt, tax, fee, net, ret, generatedAt string
	err := row.Scan(&r.TradingDate, &buyAmt, &sellAmt, &tax, &fee, &net, &ret,
		&r.UnmatchedSellQty, &generatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load daily report: %w", err)
	}
	r.TotalBuyAmount = decIn(buyAmt)
	r.TotalSellAmount = decIn(sellAmt)
	r.TotalSellTax = decIn(tax)
	r.TotalSellFee = decIn(fee)
	r.TotalNetPnl = decIn(net)
	r.TotalReturnRate = decIn(ret)
	r.GeneratedAt = tsIn(generatedAt)
	return &r, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
