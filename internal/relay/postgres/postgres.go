// Package postgres is the cloud datastore adapter: outbound and inbound
// message tables plus the LISTEN/NOTIFY push channel.
package postgres

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/autopeer-io/msgrelay/internal/relay/core"
	"github.com/autopeer-io/msgrelay/pkg/options"
)

//go:embed schema.sql
var schema string

// DB is the subset of pgxpool.Pool the repositories use.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Open connects a pool and verifies it with a ping.
func Open(ctx context.Context, opts *options.PostgresOptions) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	cfg.MaxConns = opts.MaxConns
	cfg.MinConns = opts.MinConns
	cfg.MaxConnLifetime = opts.MaxConnLifetime
	cfg.MaxConnIdleTime = opts.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, opts.PingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return pool, nil
}

// Migrate applies the schema and binds the insert trigger to channel.
// channel must already be a validated identifier.
func Migrate(ctx context.Context, db DB, channel string) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	trigger := fmt.Sprintf(`
DROP TRIGGER IF EXISTS outbound_messages_notify ON outbound_messages;
CREATE TRIGGER outbound_messages_notify
    AFTER INSERT ON outbound_messages
    FOR EACH ROW EXECUTE FUNCTION notify_outbound_message('%s');`, channel)
	if _, err := db.Exec(ctx, trigger); err != nil {
		return fmt.Errorf("create notify trigger: %w", err)
	}
	return nil
}

// Store implements core.Repository on PostgreSQL.
type Store struct {
	outbound *OutboundRepo
	inbound  *InboundRepo
}

var _ core.Repository = (*Store)(nil)

func NewStore(db DB) *Store {
	return &Store{
		outbound: &OutboundRepo{db: db},
		inbound:  &InboundRepo{db: db},
	}
}

func (s *Store) Outbound() core.OutboundRepository { return s.outbound }
func (s *Store) Inbound() core.InboundRepository   { return s.inbound }

// OutboundMessages returns the concrete repository, which also serves
// single-row lookups for the listener.
func (s *Store) OutboundMessages() *OutboundRepo { return s.outbound }
