package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"

	"github.com/rl1809/pricewatch/internal/core/domain"
)

type itemRecord struct {
	Identity     string          `gorm:"primaryKey;size:512"`
	Title        string          `gorm:"size:1024;not null;default:''"`
	CurrentPrice decimal.Decimal `gorm:"type:numeric(18,4);not null;default:0"`
	Availability string          `gorm:"size:32;not null;default:'unknown'"`
	LowestPrice  decimal.Decimal `gorm:"type:numeric(18,4);not null;default:0"`
	HighestPrice decimal.Decimal `gorm:"type:numeric(18,4);not null;default:0"`
	AveragePrice decimal.Decimal `gorm:"type:numeric(30,16);not null;default:0"`
	Version      int             `gorm:"not null;default:0"`
	CreatedAt    time.Time
	UpdatedAt    time.Time `gorm:"autoUpdateTime:false"`

	PriceHistory []priceRecord      `gorm:"foreignKey:ItemIdentity;references:Identity"`
	Subscribers  []subscriberRecord `gorm:"foreignKey:ItemIdentity;references:Identity"`
}

func (itemRecord) TableName() string { return "items" }

type priceRecord struct {
	ItemIdentity string          `gorm:"primaryKey;size:512"`
	Seq          int             `gorm:"primaryKey"`
	Price        decimal.Decimal `gorm:"type:numeric(18,4);not null"`
	ObservedAt   time.Time       `gorm:"not null"`
}

func (priceRecord) TableName() string { return "price_history" }

type subscriberRecord struct {
	ItemIdentity string `gorm:"primaryKey;size:512"`
	Email        string `gorm:"primaryKey;size:255"`
	CreatedAt    time.Time
}

func (subscriberRecord) TableName() string { return "subscribers" }

type PostgresAdapter struct {
	db *gorm.DB
}

func NewPostgresAdapter(db *gorm.DB) *PostgresAdapter {
	return &PostgresAdapter{db: db}
}

// OpenPostgres connects through GORM with a conservative pool.
func OpenPostgres(url string, debug bool) (*gorm.DB, error) {
	level := gormLogger.Error
	if debug {
		level = gormLogger.Info
	}

	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  url,
		PreferSimpleProtocol: true,
	}), &gorm.Config{
		Logger: gormLogger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func (p *PostgresAdapter) Migrate(ctx context.Context) error {
	return p.db.WithContext(ctx).AutoMigrate(&itemRecord{}, &priceRecord{}, &subscriberRecord{})
}

func (p *PostgresAdapter) LoadAll(ctx context.Context) ([]domain.TrackedItem, error) {
	var records []itemRecord
	result := p.db.WithContext(ctx).
		Preload("PriceHistory", func(db *gorm.DB) *gorm.DB { return db.Order("seq") }).
		Preload("Subscribers", func(db *gorm.DB) *gorm.DB { return db.Order("created_at, email") }).
		Order("identity").
		Find(&records)
	if result.Error != nil {
		return nil, fmt.Errorf("query items: %w", result.Error)
	}

	items := make([]domain.TrackedItem, len(records))
	for i, r := range records {
		items[i] = r.toDomain()
	}
	return items, nil
}

// Upsert follows the same version and append-only rules as the MySQL store.
func (p *PostgresAdapter) Upsert(ctx context.Context, identity string, item domain.TrackedItem) error {
	updatedAt := item.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&itemRecord{}).
			Where("identity = ? AND version = ?", identity, item.Version).
			Updates(map[string]any{
				"title":         item.Title,
				"current_price": item.CurrentPrice,
				"availability":  string(item.Availability),
				"lowest_price":  item.LowestPrice,
				"highest_price": item.HighestPrice,
				"average_price": item.AveragePrice,
				"version":       gorm.Expr("version + 1"),
				"updated_at":    updatedAt,
			})
		if result.Error != nil {
			return fmt.Errorf("update item: %w", result.Error)
		}

		if result.RowsAffected == 0 {
			if item.Version != 0 {
				return ErrOptimisticLock
			}
			rec := itemRecord{
				Identity:     identity,
				Title:        item.Title,
				CurrentPrice: item.CurrentPrice,
				Availability: string(item.Availability),
				LowestPrice:  item.LowestPrice,
				HighestPrice: item.HighestPrice,
				AveragePrice: item.AveragePrice,
				Version:      1,
				UpdatedAt:    updatedAt,
			}
			created := tx.Omit(clause.Associations).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
			if created.Error != nil {
				return fmt.Errorf("insert item: %w", created.Error)
			}
			if created.RowsAffected == 0 {
				return ErrOptimisticLock
			}
		}

		var stored int64
		if err := tx.Model(&priceRecord{}).Where("item_identity = ?", identity).Count(&stored).Error; err != nil {
			return fmt.Errorf("count price history: %w", err)
		}
		if int(stored) > len(item.PriceHistory) {
			return errors.New("price history would shrink")
		}
		var fresh []priceRecord
		for seq := int(stored); seq < len(item.PriceHistory); seq++ {
			o := item.PriceHistory[seq]
			observedAt := o.ObservedAt
			if observedAt.IsZero() {
				observedAt = updatedAt
			}
			fresh = append(fresh, priceRecord{ItemIdentity: identity, Seq: seq + 1, Price: o.Price, ObservedAt: observedAt})
		}
		if len(fresh) > 0 {
			if err := tx.Create(&fresh).Error; err != nil {
				if isUniqueViolation(err) {
					return ErrOptimisticLock
				}
				return fmt.Errorf("insert price observations: %w", err)
			}
		}

		var subs []subscriberRecord
		for _, s := range item.Subscribers {
			if addr := domain.NormalizeEmail(s.Email); addr != "" {
				subs = append(subs, subscriberRecord{ItemIdentity: identity, Email: addr})
			}
		}
		if len(subs) > 0 {
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&subs).Error; err != nil {
				return fmt.Errorf("insert subscribers: %w", err)
			}
		}
		return nil
	})
}

func (r itemRecord) toDomain() domain.TrackedItem {
	it := domain.TrackedItem{
		Identity:     r.Identity,
		Title:        r.Title,
		CurrentPrice: r.CurrentPrice,
		Availability: domain.Availability(r.Availability),
		LowestPrice:  r.LowestPrice,
		HighestPrice: r.HighestPrice,
		AveragePrice: r.AveragePrice,
		Version:      r.Version,
		UpdatedAt:    r.UpdatedAt,
	}
	for _, h := range r.PriceHistory {
		it.PriceHistory = append(it.PriceHistory, domain.PriceObservation{Price: h.Price, ObservedAt: h.ObservedAt})
	}
	for _, s := range r.Subscribers {
		it.Subscribers = append(it.Subscribers, domain.Subscriber{Email: s.Email})
	}
	return it
}

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
