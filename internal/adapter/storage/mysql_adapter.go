package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/pricewatch/internal/core/domain"
)

var ErrOptimisticLock = errors.New("optimistic lock conflict")

const mysqlDuplicateEntry = 1062

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS items (
		identity      VARCHAR(512)  NOT NULL PRIMARY KEY,
		title         VARCHAR(1024) NOT NULL DEFAULT '',
		current_price DECIMAL(18,4) NOT NULL DEFAULT 0,
		availability  VARCHAR(32)   NOT NULL DEFAULT 'unknown',
		lowest_price  DECIMAL(18,4) NOT NULL DEFAULT 0,
		highest_price DECIMAL(18,4) NOT NULL DEFAULT 0,
		average_price DECIMAL(30,16) NOT NULL DEFAULT 0,
		version       INT           NOT NULL DEFAULT 0,
		created_at    DATETIME(6)   NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		updated_at    DATETIME(6)   NULL
	)`,
	`CREATE TABLE IF NOT EXISTS price_history (
		item_identity VARCHAR(512)  NOT NULL,
		seq           INT           NOT NULL,
		price         DECIMAL(18,4) NOT NULL,
		observed_at   DATETIME(6)   NOT NULL,
		PRIMARY KEY (item_identity, seq)
	)`,
	`CREATE TABLE IF NOT EXISTS subscribers (
		item_identity VARCHAR(512) NOT NULL,
		email         VARCHAR(255) NOT NULL,
		created_at    DATETIME(6)  NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
		PRIMARY KEY (item_identity, email)
	)`,
}

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

// OpenMySQL opens and pings a pool sized for one pipeline per item.
func OpenMySQL(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return db, nil
}

func (m *MySQLAdapter) Migrate(ctx context.Context) error {
	for _, stmt := range mysqlSchema {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (m *MySQLAdapter) LoadAll(ctx context.Context) ([]domain.TrackedItem, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT identity, title, current_price, availability,
		       lowest_price, highest_price, average_price, version, updated_at
		FROM items ORDER BY identity`)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []domain.TrackedItem
	index := make(map[string]int)
	for rows.Next() {
		var it domain.TrackedItem
		var availability string
		var updatedAt sql.NullTime
		if err := rows.Scan(&it.Identity, &it.Title, &it.CurrentPrice, &availability,
			&it.LowestPrice, &it.HighestPrice, &it.AveragePrice, &it.Version, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		it.Availability = domain.Availability(availability)
		it.UpdatedAt = updatedAt.Time
		index[it.Identity] = len(items)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}

	if err := m.loadHistory(ctx, items, index); err != nil {
		return nil, err
	}
	if err := m.loadSubscribers(ctx, items, index); err != nil {
		return nil, err
	}
	return items, nil
}

func (m *MySQLAdapter) loadHistory(ctx context.Context, items []domain.TrackedItem, index map[string]int) error {
	rows, err := m.db.QueryContext(ctx, `
		SELECT item_identity, price, observed_at
		FROM price_history ORDER BY item_identity, seq`)
	if err != nil {
		return fmt.Errorf("query price history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var identity string
		var o domain.PriceObservation
		if err := rows.Scan(&identity, &o.Price, &o.ObservedAt); err != nil {
			return fmt.Errorf("scan price history: %w", err)
		}
		if i, ok := index[identity]; ok {
			items[i].PriceHistory = append(items[i].PriceHistory, o)
		}
	}
	return rows.Err()
}

func (m *MySQLAdapter) loadSubscribers(ctx context.Context, items []domain.TrackedItem, index map[string]int) error {
	rows, err := m.db.QueryContext(ctx, `
		SELECT item_identity, email
		FROM subscribers ORDER BY item_identity, created_at, email`)
	if err != nil {
		return fmt.Errorf("query subscribers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var identity string
		var s domain.Subscriber
		if err := rows.Scan(&identity, &s.Email); err != nil {
			return fmt.Errorf("scan subscriber: %w", err)
		}
		if i, ok := index[identity]; ok {
			items[i].Subscribers = append(items[i].Subscribers, s)
		}
	}
	return rows.Err()
}

// Upsert writes item under identity. An existing row is only updated when
// its version still equals item.Version; a new row is inserted when
// item.Version is zero. History rows already stored are never rewritten.
func (m *MySQLAdapter) Upsert(ctx context.Context, identity string, item domain.TrackedItem) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	updatedAt := item.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE items
		SET title = ?, current_price = ?, availability = ?,
		    lowest_price = ?, highest_price = ?, average_price = ?,
		    version = version + 1, updated_at = ?
		WHERE identity = ? AND version = ?`,
		item.Title, item.CurrentPrice, string(item.Availability),
		item.LowestPrice, item.HighestPrice, item.AveragePrice,
		updatedAt, identity, item.Version,
	)
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		if item.Version != 0 {
			return ErrOptimisticLock
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO items (identity, title, current_price, availability,
			                   lowest_price, highest_price, average_price, version, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?)`,
			identity, item.Title, item.CurrentPrice, string(item.Availability),
			item.LowestPrice, item.HighestPrice, item.AveragePrice, updatedAt,
		)
		if isDuplicateEntry(err) {
			return ErrOptimisticLock
		}
		if err != nil {
			return fmt.Errorf("insert item: %w", err)
		}
	}

	var stored int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM price_history WHERE item_identity = ?`, identity,
	).Scan(&stored); err != nil {
		return fmt.Errorf("count price history: %w", err)
	}
	if stored > len(item.PriceHistory) {
		return fmt.Errorf("price history for %s would shrink from %d to %d", identity, stored, len(item.PriceHistory))
	}
	for seq := stored; seq < len(item.PriceHistory); seq++ {
		o := item.PriceHistory[seq]
		observedAt := o.ObservedAt
		if observedAt.IsZero() {
			observedAt = updatedAt
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO price_history (item_identity, seq, price, observed_at)
			VALUES (?, ?, ?, ?)`,
			identity, seq+1, o.Price, observedAt,
		); err != nil {
			return fmt.Errorf("insert price observation: %w", err)
		}
	}

	for _, s := range item.Subscribers {
		addr := domain.NormalizeEmail(s.Email)
		if addr == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT IGNORE INTO subscribers (item_identity, email) VALUES (?, ?)`,
			identity, addr,
		); err != nil {
			return fmt.Errorf("insert subscriber: %w", err)
		}
	}

	return tx.Commit()
}

func isDuplicateEntry(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}
