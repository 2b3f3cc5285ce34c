package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"coin/internal/application/port"
	"coin/internal/domain/model"

	"github.com/shopspring/decimal"
)

func trade(id string, ms int64) port.Record {
	ev := model.NewEvent("bitfinex", "BTCUSD", time.UnixMilli(ms), model.Trade{
		ID: id, Price: decimal.RequireFromString("37000.5"), Volume: decimal.NewFromInt(1), Side: model.SideBuy,
	})
	return port.Record{Event: ev, Line: ev.String()}
}

func TestSQLiteRepoWrite(t *testing.T) {
	dbPath := "test_events.db"
	defer os.Remove(dbPath)

	repo, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create repo: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	for i, ms := range []int64{1000, 2000, 3000} {
		if err := repo.Write(ctx, trade(string(rune('a'+i)), ms)); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	if err := repo.Write(ctx, port.Record{Event: model.NewEvent("bitfinex", "BTCUSD", time.UnixMilli(4000), nil), Line: "hb"}); err != nil {
		t.Fatalf("Write heartbeat failed: %v", err)
	}

	n, err := repo.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 4 {
		t.Errorf("expected 4 rows, got %d", n)
	}

	lines, err := repo.ListLines(ctx, "bitfinex", "BTCUSD")
	if err != nil {
		t.Fatalf("ListLines failed: %v", err)
	}
	if len(lines) != 4 || lines[3] != "hb" {
		t.Errorf("unexpected lines: %v", lines)
	}
}

func TestSQLiteRepoCreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "events.db")

	repo, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create repo: %v", err)
	}
	if err := repo.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Errorf("db file missing: %v", err)
	}
}

func TestSQLiteRepoWriteAfterClose(t *testing.T) {
	repo, err := New(filepath.Join(t.TempDir(), "closed.db"))
	if err != nil {
		t.Fatalf("failed to create repo: %v", err)
	}
	_ = repo.Close()

	if err := repo.Write(context.Background(), trade("x", 1)); err == nil {
		t.Error("expected error writing to a closed db")
	}
}
