// Package database persists contracts, orders, and trades in a single
// SQLite file (trading.db). The pure-Go driver keeps the binary
// dependency-free; a daily job clears option contracts past expiry.
package database

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	_ "modernc.org/sqlite"

	"options-engine/pkg/types"
)

const expiryLayout = "20060102"

const schema = `
CREATE TABLE IF NOT EXISTS contract_equity (
	symbol        TEXT PRIMARY KEY,
	name          TEXT,
	exchange      TEXT,
	product       TEXT,
	size          REAL,
	price_tick    REAL,
	min_volume    REAL,
	con_id        INTEGER,
	trading_class TEXT
);

CREATE TABLE IF NOT EXISTS contract_option (
	symbol        TEXT PRIMARY KEY,
	exchange      TEXT,
	size          REAL,
	price_tick    REAL,
	min_volume    REAL,
	con_id        INTEGER,
	trading_class TEXT,
	portfolio     TEXT,
	type          TEXT,
	strike        REAL,
	strike_index  TEXT,
	expiry        TEXT,
	underlying    TEXT
);

CREATE TABLE IF NOT EXISTS orders (
	orderid    TEXT PRIMARY KEY,
	symbol     TEXT,
	exchange   TEXT,
	type       TEXT,
	direction  TEXT,
	price      REAL,
	volume     REAL,
	traded     REAL,
	status     TEXT,
	reference  TEXT,
	is_combo   INTEGER,
	combo_type TEXT,
	legs_info  TEXT,
	timestamp  TEXT
);

CREATE TABLE IF NOT EXISTS trades (
	tradeid   TEXT PRIMARY KEY,
	orderid   TEXT,
	symbol    TEXT,
	exchange  TEXT,
	direction TEXT,
	price     REAL,
	volume    REAL,
	timestamp TEXT
);
`

// DB wraps the SQLite connection. All calls serialize through one mutex;
// SQLite handles one writer at a time anyway and the call rate is low.
type DB struct {
	logger *slog.Logger
	mu     sync.Mutex
	conn   *sql.DB
	cron   *cron.Cron
}

// Open opens (or creates) the database, applies the schema, removes
// already-expired option contracts, and schedules the daily cleanup.
func Open(path string, logger *slog.Logger) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	db := &DB{
		logger: logger.With("component", "database"),
		conn:   conn,
		cron:   cron.New(),
	}

	if n, err := db.CleanExpiredOptions(); err != nil {
		db.logger.Error("expired option cleanup failed", "error", err)
	} else if n > 0 {
		db.logger.Info("removed expired option contracts", "count", n)
	}

	db.cron.AddFunc("@daily", func() {
		if n, err := db.CleanExpiredOptions(); err != nil {
			db.logger.Error("expired option cleanup failed", "error", err)
		} else if n > 0 {
			db.logger.Info("removed expired option contracts", "count", n)
		}
	})
	db.cron.Start()
	return db, nil
}

// Close stops the cleanup job and closes the connection.
func (d *DB) Close() error {
	d.cron.Stop()
	return d.conn.Close()
}

// ————————————————————————————————————————————————————————————————————————
// Contracts
// ————————————————————————————————————————————————————————————————————————

// SaveContract upserts one contract into its table.
func (d *DB) SaveContract(c *types.Contract) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if c.Product == types.ProductOption {
		_, err := d.conn.Exec(`
			INSERT OR REPLACE INTO contract_option
			(symbol, exchange, size, price_tick, min_volume, con_id, trading_class,
			 portfolio, type, strike, strike_index, expiry, underlying)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.Symbol, string(c.Exchange), c.Size, c.PriceTick, c.MinVolume,
			c.ConID, c.TradingClass, c.OptionPortfolio, string(c.OptionType),
			c.OptionStrike, c.OptionIndex, c.OptionExpiry.Format(expiryLayout),
			c.OptionUnderlying)
		if err != nil {
			return fmt.Errorf("save option contract %s: %w", c.Symbol, err)
		}
		return nil
	}

	_, err := d.conn.Exec(`
		INSERT OR REPLACE INTO contract_equity
		(symbol, name, exchange, product, size, price_tick, min_volume, con_id, trading_class)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Symbol, c.Name, string(c.Exchange), string(c.Product),
		c.Size, c.PriceTick, c.MinVolume, c.ConID, c.TradingClass)
	if err != nil {
		return fmt.Errorf("save contract %s: %w", c.Symbol, err)
	}
	return nil
}

// LoadContracts returns every stored contract, equities first.
func (d *DB) LoadContracts() ([]*types.Contract, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []*types.Contract

	rows, err := d.conn.Query(`
		SELECT symbol, name, exchange, product, size, price_tick, min_volume, con_id, trading_class
		FROM contract_equity`)
	if err != nil {
		return nil, fmt.Errorf("load equity contracts: %w", err)
	}
	for rows.Next() {
		c := &types.Contract{}
		var exchange, product string
		if err := rows.Scan(&c.Symbol, &c.Name, &exchange, &product,
			&c.Size, &c.PriceTick, &c.MinVolume, &c.ConID, &c.TradingClass); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan equity contract: %w", err)
		}
		c.Exchange = types.Exchange(exchange)
		c.Product = types.Product(product)
		out = append(out, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load equity contracts: %w", err)
	}

	rows, err = d.conn.Query(`
		SELECT symbol, exchange, size, price_tick, min_volume, con_id, trading_class,
		       portfolio, type, strike, strike_index, expiry, underlying
		FROM contract_option`)
	if err != nil {
		return nil, fmt.Errorf("load option contracts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		c := &types.Contract{Product: types.ProductOption}
		var exchange, optType, expiry string
		if err := rows.Scan(&c.Symbol, &exchange, &c.Size, &c.PriceTick,
			&c.MinVolume, &c.ConID, &c.TradingClass, &c.OptionPortfolio,
			&optType, &c.OptionStrike, &c.OptionIndex, &expiry,
			&c.OptionUnderlying); err != nil {
			return nil, fmt.Errorf("scan option contract: %w", err)
		}
		c.Exchange = types.Exchange(exchange)
		c.OptionType = types.OptionType(optType)
		if t, err := time.ParseInLocation(expiryLayout, expiry, time.Local); err == nil {
			c.OptionExpiry = t
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load option contracts: %w", err)
	}
	return out, nil
}

// CleanExpiredOptions deletes option contracts whose expiry has passed.
func (d *DB) CleanExpiredOptions() (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	today := time.Now().Format(expiryLayout)
	res, err := d.conn.Exec(`DELETE FROM contract_option WHERE expiry < ?`, today)
	if err != nil {
		return 0, fmt.Errorf("clean expired options: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeletePortfolio removes every contract belonging to an underlying root.
func (d *DB) DeletePortfolio(root string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	pattern := root + types.JoinSymbol + "%"
	if _, err := d.conn.Exec(`DELETE FROM contract_option WHERE symbol LIKE ?`, pattern); err != nil {
		return fmt.Errorf("delete portfolio options: %w", err)
	}
	if _, err := d.conn.Exec(`DELETE FROM contract_equity WHERE symbol LIKE ?`, pattern); err != nil {
		return fmt.Errorf("delete portfolio equity: %w", err)
	}
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Orders and trades
// ————————————————————————————————————————————————————————————————————————

// SaveOrder upserts an order's latest state.
func (d *DB) SaveOrder(o *types.Order) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.conn.Exec(`
		INSERT OR REPLACE INTO orders
		(orderid, symbol, exchange, type, direction, price, volume, traded,
		 status, reference, is_combo, combo_type, legs_info, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.OrderID, o.Symbol, string(o.Exchange), string(o.Type),
		string(o.Direction), o.Price, o.Volume, o.Traded, string(o.Status),
		o.Reference, boolToInt(o.IsCombo), string(o.ComboType),
		encodeLegs(o.Legs), o.Time.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save order %s: %w", o.OrderID, err)
	}
	return nil
}

// SaveTrade inserts one fill.
func (d *DB) SaveTrade(t *types.Trade) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.conn.Exec(`
		INSERT OR REPLACE INTO trades
		(tradeid, orderid, symbol, exchange, direction, price, volume, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TradeID, t.OrderID, t.Symbol, string(t.Exchange),
		string(t.Direction), t.Price, t.Volume, t.Time.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save trade %s: %w", t.TradeID, err)
	}
	return nil
}

// OrderHistory returns all stored orders, oldest first.
func (d *DB) OrderHistory() ([]types.Order, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rows, err := d.conn.Query(`
		SELECT orderid, symbol, exchange, type, direction, price, volume,
		       traded, status, reference, is_combo, combo_type, legs_info, timestamp
		FROM orders ORDER BY timestamp ASC`)
	if err != nil {
		return nil, fmt.Errorf("order history: %w", err)
	}
	defer rows.Close()

	var out []types.Order
	for rows.Next() {
		var o types.Order
		var exchange, otype, direction, status, comboType, legsInfo, ts string
		var isCombo int
		if err := rows.Scan(&o.OrderID, &o.Symbol, &exchange, &otype,
			&direction, &o.Price, &o.Volume, &o.Traded, &status,
			&o.Reference, &isCombo, &comboType, &legsInfo, &ts); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Exchange = types.Exchange(exchange)
		o.Type = types.OrderType(otype)
		o.Direction = types.Direction(direction)
		o.Status = types.Status(status)
		o.IsCombo = isCombo != 0
		o.ComboType = types.ComboType(comboType)
		o.Legs = decodeLegs(legsInfo)
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			o.Time = t
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// TradeHistory returns all stored trades, oldest first.
func (d *DB) TradeHistory() ([]types.Trade, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rows, err := d.conn.Query(`
		SELECT tradeid, orderid, symbol, exchange, direction, price, volume, timestamp
		FROM trades ORDER BY timestamp ASC`)
	if err != nil {
		return nil, fmt.Errorf("trade history: %w", err)
	}
	defer rows.Close()

	var out []types.Trade
	for rows.Next() {
		var t types.Trade
		var exchange, direction, ts string
		if err := rows.Scan(&t.TradeID, &t.OrderID, &t.Symbol, &exchange,
			&direction, &t.Price, &t.Volume, &ts); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Exchange = types.Exchange(exchange)
		t.Direction = types.Direction(direction)
		if tm, err := time.Parse(time.RFC3339, ts); err == nil {
			t.Time = tm
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// WipeTradingData clears the order and trade history, keeping contracts.
func (d *DB) WipeTradingData() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := d.conn.Exec(`DELETE FROM orders`); err != nil {
		return fmt.Errorf("wipe orders: %w", err)
	}
	if _, err := d.conn.Exec(`DELETE FROM trades`); err != nil {
		return fmt.Errorf("wipe trades: %w", err)
	}
	return nil
}

// ————————————————————————————————————————————————————————————————————————
// Leg encoding
// ————————————————————————————————————————————————————————————————————————

// encodeLegs flattens combo legs to one text column:
// "con_id:1,ratio:1,dir:LONG,symbol:X|con_id:2,...".
func encodeLegs(legs []types.Leg) string {
	if len(legs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(legs))
	for _, leg := range legs {
		parts = append(parts, fmt.Sprintf("con_id:%d,ratio:%d,dir:%s,symbol:%s",
			leg.ConID, leg.Ratio, leg.Direction, leg.Symbol))
	}
	return strings.Join(parts, "|")
}

func decodeLegs(s string) []types.Leg {
	if s == "" {
		return nil
	}
	var legs []types.Leg
	for _, part := range strings.Split(s, "|") {
		var leg types.Leg
		for _, field := range strings.Split(part, ",") {
			key, value, ok := strings.Cut(field, ":")
			if !ok {
				continue
			}
			switch key {
			case "con_id":
				leg.ConID, _ = strconv.ParseInt(value, 10, 64)
			case "ratio":
				leg.Ratio, _ = strconv.Atoi(value)
			case "dir":
				leg.Direction = types.Direction(value)
			case "symbol":
				leg.Symbol = value
			}
		}
		legs = append(legs, leg)
	}
	return legs
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
