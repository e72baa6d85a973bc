package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"github.com/rl1809/pricewatch/internal/core/domain"
)

func getMySQLDB(t *testing.T) *sql.DB {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/pricewatch?parseTime=true"
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	if err := NewMySQLAdapter(db).Migrate(context.Background()); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	return db
}

func cleanupItem(db *sql.DB, identity string) {
	ctx := context.Background()
	db.ExecContext(ctx, `DELETE FROM price_history WHERE item_identity = ?`, identity)
	db.ExecContext(ctx, `DELETE FROM subscribers WHERE item_identity = ?`, identity)
	db.ExecContext(ctx, `DELETE FROM items WHERE identity = ?`, identity)
}

func findItem(t *testing.T, items []domain.TrackedItem, identity string) domain.TrackedItem {
	t.Helper()
	for _, it := range items {
		if it.Identity == identity {
			return it
		}
	}
	t.Fatalf("item %s not found", identity)
	return domain.TrackedItem{}
}

func seedItem(identity string) domain.TrackedItem {
	p := decimal.NewFromInt(100)
	return domain.TrackedItem{
		Identity:     identity,
		Title:        "Test item",
		CurrentPrice: p,
		Availability: domain.AvailabilityInStock,
		PriceHistory: []domain.PriceObservation{{Price: p, ObservedAt: time.Now().UTC().Truncate(time.Second)}},
		LowestPrice:  p,
		HighestPrice: p,
		AveragePrice: p,
		Subscribers:  []domain.Subscriber{{Email: "A@x.com"}, {Email: "a@x.com"}, {Email: "b@x.com"}},
	}
}

func TestMySQLUpsert_InsertAndLoad(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db)
	identity := "https://test.example/mysql-insert"
	cleanupItem(db, identity)
	defer cleanupItem(db, identity)

	if err := adapter.Upsert(ctx, identity, seedItem(identity)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	items, err := adapter.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	it := findItem(t, items, identity)

	if it.Version != 1 {
		t.Errorf("expected version 1, got %d", it.Version)
	}
	if len(it.PriceHistory) != 1 || !it.PriceHistory[0].Price.Equal(decimal.NewFromInt(100)) {
		t.Errorf("unexpected history %v", it.PriceHistory)
	}
	if len(it.Subscribers) != 2 {
		t.Errorf("expected 2 unique subscribers, got %v", it.Subscribers)
	}
	if it.Availability != domain.AvailabilityInStock {
		t.Errorf("expected in_stock, got %s", it.Availability)
	}
}

func TestMySQLUpsert_AppendsHistory(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db)
	identity := "https://test.example/mysql-append"
	cleanupItem(db, identity)
	defer cleanupItem(db, identity)

	if err := adapter.Upsert(ctx, identity, seedItem(identity)); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	items, _ := adapter.LoadAll(ctx)
	it := findItem(t, items, identity)

	it.PriceHistory = append(it.PriceHistory, domain.PriceObservation{Price: decimal.NewFromInt(80), ObservedAt: time.Now()})
	it.CurrentPrice = decimal.NewFromInt(80)
	it.LowestPrice = decimal.NewFromInt(80)
	it.AveragePrice = decimal.NewFromInt(90)
	if err := adapter.Upsert(ctx, identity, it); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	items, _ = adapter.LoadAll(ctx)
	got := findItem(t, items, identity)
	if len(got.PriceHistory) != 2 || !got.PriceHistory[1].Price.Equal(decimal.NewFromInt(80)) {
		t.Errorf("expected history [100 80], got %v", got.PriceHistory)
	}
	if !got.LowestPrice.Equal(decimal.NewFromInt(80)) || !got.AveragePrice.Equal(decimal.NewFromInt(90)) {
		t.Errorf("aggregates not stored: %s / %s", got.LowestPrice, got.AveragePrice)
	}
	if got.Version != 2 {
		t.Errorf("expected version 2, got %d", got.Version)
	}
}

func TestMySQLUpsert_OptimisticLock(t *testing.T) {
	db := getMySQLDB(t)
	defer db.Close()

	ctx := context.Background()
	adapter := NewMySQLAdapter(db)
	identity := "https://test.example/mysql-lock"
	cleanupItem(db, identity)
	defer cleanupItem(db, identity)

	if err := adapter.Upsert(ctx, identity, seedItem(identity)); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	// Inserting again with version 0 hits the existing row
	if err := adapter.Upsert(ctx, identity, seedItem(identity)); !errors.Is(err, ErrOptimisticLock) {
		t.Errorf("expected ErrOptimisticLock, got: %v", err)
	}

	// Update with stale version
	stale := seedItem(identity)
	stale.Version = 7
	if err := adapter.Upsert(ctx, identity, stale); !errors.Is(err, ErrOptimisticLock) {
		t.Errorf("expected ErrOptimisticLock, got: %v", err)
	}
}

func TestIsDuplicateEntry(t *testing.T) {
	dup := fmt.Errorf("insert item: %w", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})
	if !isDuplicateEntry(dup) {
		t.Error("expected wrapped 1062 to be a duplicate entry")
	}
	if isDuplicateEntry(&mysql.MySQLError{Number: 1213}) {
		t.Error("deadlock is not a duplicate entry")
	}
	if isDuplicateEntry(nil) {
		t.Error("nil is not a duplicate entry")
	}
}
