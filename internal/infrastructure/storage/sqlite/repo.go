package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"coin/internal/application/port"
	"coin/internal/infrastructure/storage"
)

// Repo 将事件写入本地 sqlite 文件
type Repo struct {
	db *sql.DB
}

func New(path string) (*Repo, error) {
	// ensure directory exists
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	r := &Repo{db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Name() string { return "sqlite" }

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS events (
  id TEXT PRIMARY KEY,
  kind TEXT NOT NULL,
  venue TEXT NOT NULL,
  pair TEXT NOT NULL,
  ts_ms INTEGER NOT NULL,
  trade_id TEXT,
  price TEXT,
  volume TEXT,
  side TEXT,
  bid TEXT,
  ask TEXT,
  last_price TEXT,
  line TEXT NOT NULL,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts_ms);
CREATE INDEX IF NOT EXISTS idx_events_pair ON events(venue, pair);
`)
	return err
}

// Write inserts one row; the record is committed when Write returns.
func (r *Repo) Write(ctx context.Context, rec port.Record) error {
	row := storage.NewRow(rec)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO events(id, kind, venue, pair, ts_ms, trade_id, price, volume, side, bid, ask, last_price, line, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, row.ID, row.Kind, row.Venue, row.Pair, row.TsMs,
		nullable(row.TradeID), nullable(row.Price), nullable(row.Volume), nullable(row.Side),
		nullable(row.Bid), nullable(row.Ask), nullable(row.Last),
		row.Line, time.Now().UnixMilli())
	return err
}

// ListLines 按时间顺序返回某交易对已写入的输出行
func (r *Repo) ListLines(ctx context.Context, venue, pair string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT line FROM events WHERE venue=? AND pair=? ORDER BY ts_ms, created_at`, venue, pair)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (r *Repo) Count(ctx context.Context) (n int, err error) {
	err = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n)
	return
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ port.Sink = (*Repo)(nil)
