package tenantdb

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool adapts a pgx pool to Handle.
type Pool struct {
	*pgxpool.Pool
}

// Close closes the pool, giving up once ctx is done. pgxpool.Close waits for
// acquired connections to be returned, so a stuck borrower surfaces as ctx.Err().
func (p *Pool) Close(ctx context.Context) error {
	if p == nil || p.Pool == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		p.Pool.Close()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PoolOptions tunes pools created by NewPgxOpener.
type PoolOptions struct {
	MaxConns        int32
	MaxConnIdleTime time.Duration
}

// NewPgxOpener returns an Opener creating lazily-connecting pgx pools.
func NewPgxOpener(opts PoolOptions) Opener {
	return func(ctx context.Context, connString string) (Handle, error) {
		cfg, err := pgxpool.ParseConfig(connString)
		if err != nil {
			return nil, fmt.Errorf("parse pool config: %w", err)
		}
		if opts.MaxConns > 0 {
			cfg.MaxConns = opts.MaxConns
		}
		if opts.MaxConnIdleTime > 0 {
			cfg.MaxConnIdleTime = opts.MaxConnIdleTime
		}
		cfg.MinConns = 0
		pool, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("create pool: %w", err)
		}
		return &Pool{Pool: pool}, nil
	}
}

// PgxPool unwraps a Handle produced by NewPgxOpener.
func PgxPool(h Handle) (*pgxpool.Pool, error) {
	p, ok := h.(*Pool)
	if !ok || p.Pool == nil {
		return nil, fmt.Errorf("tenantdb: handle %T is not a pgx pool", h)
	}
	return p.Pool, nil
}

func redact(connString string) string {
	u, err := url.Parse(connString)
	if err != nil || u.Host == "" {
		return "tenant"
	}
	return u.Host + "/" + strings.TrimPrefix(u.Path, "/")
}
