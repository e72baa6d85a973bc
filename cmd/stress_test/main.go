package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/pricewatch/internal/adapter/storage"
	"github.com/rl1809/pricewatch/internal/core/domain"
	"github.com/rl1809/pricewatch/internal/core/service"
	"github.com/rl1809/pricewatch/internal/port"
)

const (
	defaultRedisURL = "redis://localhost:6379/0"
	totalItems      = 500
	failEvery       = 25
	workerCount     = 32
)

// memoryStore keeps the catalog in process so only Redis is exercised.
type memoryStore struct {
	mu    sync.Mutex
	items map[string]domain.TrackedItem
	order []string
}

func (m *memoryStore) LoadAll(ctx context.Context) ([]domain.TrackedItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.TrackedItem, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.items[id])
	}
	return out, nil
}

func (m *memoryStore) Upsert(ctx context.Context, identity string, item domain.TrackedItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item.Version++
	m.items[identity] = item
	return nil
}

type syntheticFetcher struct {
	delay time.Duration
}

func (f syntheticFetcher) Fetch(ctx context.Context, identity string) (domain.ObservedSnapshot, error) {
	var n int
	fmt.Sscanf(identity, "https://stress.test/item/%d", &n)
	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return domain.ObservedSnapshot{}, ctx.Err()
	}
	if n%failEvery == 0 {
		return domain.ObservedSnapshot{}, errors.New("synthetic fetch failure")
	}
	// every third item drops to an all-time low, the rest stay flat
	price := decimal.NewFromInt(100)
	if n%3 == 0 {
		price = decimal.NewFromInt(80)
	}
	return domain.ObservedSnapshot{
		Identity:     identity,
		Title:        fmt.Sprintf("Stress item %d", n),
		CurrentPrice: price,
		Availability: domain.AvailabilityInStock,
	}, nil
}

type countingMailer struct {
	sent atomic.Int32
}

func (m *countingMailer) Send(ctx context.Context, recipients []string, msg port.Message) error {
	m.sent.Add(1)
	return nil
}

func seedCatalog() *memoryStore {
	store := &memoryStore{items: make(map[string]domain.TrackedItem)}
	p := decimal.NewFromInt(100)
	for i := 1; i <= totalItems; i++ {
		id := fmt.Sprintf("https://stress.test/item/%d", i)
		store.order = append(store.order, id)
		store.items[id] = domain.TrackedItem{
			Identity:     id,
			CurrentPrice: p,
			Availability: domain.AvailabilityInStock,
			PriceHistory: []domain.PriceObservation{{Price: p, ObservedAt: time.Now()}},
			LowestPrice:  p,
			HighestPrice: p,
			AveragePrice: p,
			Subscribers:  []domain.Subscriber{{Email: fmt.Sprintf("user%d@stress.test", i)}},
			Version:      1,
		}
	}
	return store
}

func main() {
	ctx := context.Background()

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = defaultRedisURL
	}
	rdb, err := storage.NewRedisClient(ctx, redisURL)
	if err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer rdb.Close()

	// Clear previous test data
	keys, _ := rdb.Keys(ctx, "notify:https://stress.test/*").Result()
	for _, k := range keys {
		rdb.Del(ctx, k)
	}

	cache := storage.NewRedisAdapter(rdb)
	mailer := &countingMailer{}
	newService := func(store port.ItemRepository) *service.ReconcileService {
		return service.NewReconcileService(
			store,
			syntheticFetcher{delay: 5 * time.Millisecond},
			service.NewClassifier(0),
			service.NewDispatcher(mailer, cache, time.Hour),
			service.ReconcileConfig{WorkerCount: workerCount, RunTimeout: 30 * time.Second},
		).WithRunLock(cache).WithRecorder(cache)
	}

	// Two triggers race for the same catalog
	svc := newService(seedCatalog())
	var wg sync.WaitGroup
	var busy atomic.Int32
	summaries := make([]domain.RunSummary, 2)
	start := time.Now()
	for i := range summaries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := svc.Run(ctx)
			if errors.Is(err, service.ErrRunInProgress) {
				busy.Add(1)
				return
			}
			if err != nil {
				log.Printf("run %d failed: %v", i, err)
			}
			summaries[i] = s
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	var first domain.RunSummary
	for _, s := range summaries {
		if s.RunID != "" && s.Status == domain.RunStatusOK {
			first = s
		}
	}
	firstSent := mailer.sent.Load()

	// Replaying the same observations against the original catalog must not
	// notify anyone twice.
	replay, err := newService(seedCatalog()).Run(ctx)
	if err != nil {
		log.Fatalf("replay run failed: %v", err)
	}
	replaySent := mailer.sent.Load() - firstSent

	expectedFailed := totalItems / failEvery
	expectedNotified := 0
	for i := 1; i <= totalItems; i++ {
		if i%3 == 0 && i%failEvery != 0 {
			expectedNotified++
		}
	}

	fmt.Println("========== RECONCILE STRESS RESULTS ==========")
	fmt.Printf("Items:             %d\n", totalItems)
	fmt.Printf("Workers:           %d\n", workerCount)
	fmt.Printf("Updated:           %d\n", first.UpdatedCount)
	fmt.Printf("Failed:            %d\n", len(first.Failures))
	fmt.Printf("Notified:          %d\n", first.Notified)
	fmt.Printf("Rejected triggers: %d\n", busy.Load())
	fmt.Printf("Duration:          %v\n", elapsed)
	fmt.Println("==============================================")

	check := func(ok bool, pass, fail string) {
		if ok {
			fmt.Println("PASS: " + pass)
		} else {
			fmt.Println("FAIL: " + fail)
		}
	}
	check(busy.Load() == 1, "exactly one concurrent trigger was rejected",
		fmt.Sprintf("expected 1 rejected trigger, got %d", busy.Load()))
	check(first.UpdatedCount == totalItems-expectedFailed && len(first.Failures) == expectedFailed,
		fmt.Sprintf("%d updated, %d failed", first.UpdatedCount, len(first.Failures)),
		fmt.Sprintf("expected %d/%d updated/failed, got %d/%d",
			totalItems-expectedFailed, expectedFailed, first.UpdatedCount, len(first.Failures)))
	check(int(firstSent) == expectedNotified, fmt.Sprintf("%d notifications sent", firstSent),
		fmt.Sprintf("expected %d notifications, got %d", expectedNotified, firstSent))
	check(replaySent == 0 && replay.Notified == 0, "replayed run sent no duplicate notifications",
		fmt.Sprintf("replayed run sent %d duplicates", replaySent))
}
