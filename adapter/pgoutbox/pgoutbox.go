// Package pgoutbox provides an xevents sink that writes every message to a
// Postgres outbox table. When the write path's pgx.Tx is put on the context
// with ContextWithTx, the outbox row commits or rolls back with the change
// that produced it; a relay then publishes rows with Pending/MarkPublished.
// The row is written under a savepoint, so a failed insert never aborts the
// caller's transaction.
//
// Sink name: "pg-outbox"
//
// Config keys:
//   - dsn: Postgres connection string (required)
//   - table: outbox table (default "xevents_outbox")
//   - ensure_schema: create the table at startup (default true)
//   - max_conns: pool size (default 5)
package pgoutbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/trickstertwo/xevents"
)

const SinkName = xevents.SinkPgOutbox

func init() {
	if err := xevents.RegisterSink(SinkName, func(cfg map[string]any) (xevents.Sink, error) {
		return Open(context.Background(), ConfigFromMap(cfg))
	}); err != nil {
		panic(fmt.Errorf("xevents: failed to register sink %q: %w", SinkName, err))
	}
}

type Config struct {
	DSN          string
	Table        string
	EnsureSchema bool
	MaxConns     int32
}

func Defaults() Config {
	return Config{
		Table:        "xevents_outbox",
		EnsureSchema: true,
		MaxConns:     5,
	}
}

func (c Config) Validate() error {
	if c.DSN == "" {
		return fmt.Errorf("config: dsn required")
	}
	if strings.TrimSpace(c.Table) == "" {
		return fmt.Errorf("config: table required")
	}
	if c.MaxConns < 1 {
		return fmt.Errorf("config: max_conns must be >= 1, got %d", c.MaxConns)
	}
	return nil
}

func ConfigFromMap(m map[string]any) Config {
	c := Defaults()
	c.DSN = xevents.OptString(m, "dsn", c.DSN)
	c.Table = xevents.OptString(m, "table", c.Table)
	c.EnsureSchema = xevents.OptBool(m, "ensure_schema", c.EnsureSchema)
	if v := xevents.OptInt(m, "max_conns", 0); v > 0 {
		c.MaxConns = int32(v)
	}
	return c
}

// DB is the subset of pgxpool.Pool and pgx.Tx the sink needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type txKey struct{}

// ContextWithTx makes Send write through tx instead of the pool.
func ContextWithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

func txFromContext(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(pgx.Tx)
	return tx, ok && tx != nil
}

// Row is one outbox entry.
type Row struct {
	Seq        int64
	MessageID  string
	Name       string
	Headers    map[string]string
	Payload    []byte
	ProducedAt time.Time
}

type Sink struct {
	db    DB
	pool  *pgxpool.Pool
	table string
}

var _ xevents.Sink = (*Sink)(nil)

// Open creates a pool, verifies connectivity and, when configured, the schema.
func Open(ctx context.Context, cfg Config) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, err
	}
	pcfg.MaxConns = cfg.MaxConns
	pcfg.MinConns = 1
	pcfg.MaxConnIdleTime = 5 * time.Minute
	pcfg.MaxConnLifetime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	ctxPing, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, err
	}

	s := New(pool, cfg.Table)
	s.pool = pool
	if cfg.EnsureSchema {
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return s, nil
}

// New wraps an existing database handle. Close leaves it open.
func New(db DB, table string) *Sink {
	return &Sink{db: db, table: pgx.Identifier(strings.Split(table, ".")).Sanitize()}
}

func (s *Sink) Name() string { return SinkName }

func (s *Sink) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+s.table+` (
			seq          BIGSERIAL PRIMARY KEY,
			message_id   TEXT        NOT NULL UNIQUE,
			name         TEXT        NOT NULL,
			headers      JSONB       NOT NULL,
			payload      JSONB       NOT NULL,
			produced_at  TIMESTAMPTZ NOT NULL,
			published_at TIMESTAMPTZ
		)`)
	if err != nil {
		return fmt.Errorf("pgoutbox: ensure schema: %w", err)
	}
	return nil
}

// Send inserts msg. A message id already present is ignored.
func (s *Sink) Send(ctx context.Context, msg *xevents.Message) error {
	if msg == nil {
		return nil
	}
	if msg.ID == "" {
		return errors.New("pgoutbox: message id required")
	}
	headers, err := json.Marshal(msg.Metadata)
	if err != nil {
		return err
	}

	args := []any{msg.ID, msg.Name, string(headers), string(msg.Payload), msg.ProducedAt}
	if tx, ok := txFromContext(ctx); ok {
		err = s.insertInSavepoint(ctx, tx, args)
	} else {
		err = s.insert(ctx, s.db, args)
	}
	if err != nil {
		return fmt.Errorf("pgoutbox: insert %s: %w", msg.ID, err)
	}
	return nil
}

// insertInSavepoint keeps a failed insert from aborting the caller's transaction:
// only the savepoint is rolled back and the change itself can still commit.
func (s *Sink) insertInSavepoint(ctx context.Context, tx pgx.Tx, args []any) error {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}
	if err := s.insert(ctx, sp, args); err != nil {
		if rbErr := sp.Rollback(ctx); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback savepoint: %w", rbErr))
		}
		return err
	}
	return sp.Commit(ctx)
}

func (s *Sink) insert(ctx context.Context, db DB, args []any) error {
	_, err := db.Exec(ctx, `
		INSERT INTO `+s.table+` (message_id, name, headers, payload, produced_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (message_id) DO NOTHING
	`, args...)
	return err
}

// Pending returns up to limit unpublished rows in insertion order.
func (s *Sink) Pending(ctx context.Context, limit int) ([]Row, error) {
	rows, err := s.db.Query(ctx, `
		SELECT seq, message_id, name, headers, payload, produced_at
		FROM `+s.table+`
		WHERE published_at IS NULL
		ORDER BY seq ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Row, 0, limit)
	for rows.Next() {
		var r Row
		var headers []byte
		if err := rows.Scan(&r.Seq, &r.MessageID, &r.Name, &headers, &r.Payload, &r.ProducedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(headers, &r.Headers); err != nil {
			return nil, fmt.Errorf("pgoutbox: row %d headers: %w", r.Seq, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkPublished stamps the given rows as relayed.
func (s *Sink) MarkPublished(ctx context.Context, seqs ...int64) error {
	if len(seqs) == 0 {
		return nil
	}
	_, err := s.db.Exec(ctx, `UPDATE `+s.table+` SET published_at = now() WHERE seq = ANY($1)`, seqs)
	return err
}

// Message converts a row back into the dispatched message.
func (r Row) Message() *xevents.Message {
	return &xevents.Message{
		ID:         r.MessageID,
		Name:       r.Name,
		Payload:    r.Payload,
		Metadata:   r.Headers,
		ProducedAt: r.ProducedAt,
	}
}

func (s *Sink) Close(context.Context) error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
