package app

import (
	"context"
	"slices"
	"strings"
	"testing"

	"github.com/rl1809/pricewatch/internal/config"
)

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := config.Config{}
	cfg.Store.Driver = "sqlite"
	cfg.Run.ThresholdPercent = -5

	a, err := New(context.Background(), cfg)
	if err == nil {
		t.Fatal("expected config error")
	}
	if a != nil {
		t.Error("expected no app on error")
	}
	for _, field := range []string{"STORE_DRIVER", "THRESHOLD_PERCENT"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("expected %s in %q", field, err)
		}
	}
}

func TestNew_PostgresRequiresURL(t *testing.T) {
	cfg := config.Config{}
	cfg.Store.Driver = config.DriverPostgres

	_, err := New(context.Background(), cfg)
	if err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("expected DATABASE_URL error, got: %v", err)
	}
}

func TestClose_RunsClosersInReverse(t *testing.T) {
	var order []int
	a := &App{}
	for i := 1; i <= 3; i++ {
		a.closers = append(a.closers, func() error {
			order = append(order, i)
			return nil
		})
	}

	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !slices.Equal(order, []int{3, 2, 1}) {
		t.Fatalf("expected reverse order, got %v", order)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if len(order) != 3 {
		t.Errorf("closers ran again: %v", order)
	}
}
