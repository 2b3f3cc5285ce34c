package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"coin/internal/application/port"
	"coin/internal/infrastructure/storage"
)

type Repo struct {
	db *sql.DB
}

func New(dsn string) (*Repo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	r := &Repo{db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Name() string { return "postgres" }

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS events (
  id UUID PRIMARY KEY,
  kind TEXT NOT NULL,
  venue TEXT NOT NULL,
  pair TEXT NOT NULL,
  ts_ms BIGINT NOT NULL,
  trade_id TEXT,
  price NUMERIC,
  volume NUMERIC,
  side TEXT,
  bid NUMERIC,
  ask NUMERIC,
  last_price NUMERIC,
  line TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts_ms);
CREATE INDEX IF NOT EXISTS idx_events_pair ON events(venue, pair);
`)
	return err
}

func (r *Repo) Write(ctx context.Context, rec port.Record) error {
	row := storage.NewRow(rec)
	_, err := r.db.ExecContext(ctx, insertSQL,
		row.ID, row.Kind, row.Venue, row.Pair, row.TsMs,
		nullable(row.TradeID), nullable(row.Price), nullable(row.Volume), nullable(row.Side),
		nullable(row.Bid), nullable(row.Ask), nullable(row.Last),
		row.Line, time.Now().UTC())
	return err
}

const insertSQL = `INSERT INTO events(id, kind, venue, pair, ts_ms, trade_id, price, volume, side, bid, ask, last_price, line, created_at)
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

var _ port.Sink = (*Repo)(nil)
