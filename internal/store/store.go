// Package store opens the configured storage backend.
package store

import (
	"context"
	"fmt"
	"log"

	"github.com/ariefcatur/go-cart-orders/internal/cart"
	"github.com/ariefcatur/go-cart-orders/internal/config"
	"github.com/ariefcatur/go-cart-orders/internal/memstore"
	"github.com/ariefcatur/go-cart-orders/internal/orders"
	"github.com/ariefcatur/go-cart-orders/internal/postgres"
	"github.com/ariefcatur/go-cart-orders/internal/seed"
	"github.com/ariefcatur/go-cart-orders/internal/sweeper"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is everything the services, the seeder and the sweeper need from one
// backend.
type Store interface {
	cart.Store
	orders.Store
	orders.Catalog
	orders.Members
	seed.Sink
	sweeper.Store
}

var (
	_ Store = (*memstore.Store)(nil)
	_ Store = (*postgres.Store)(nil)
)

type Backend struct {
	Store
	pool *pgxpool.Pool
}

func Open(ctx context.Context, cfg config.Config) (*Backend, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		log.Printf("store: using in-memory backend, data is lost on exit")
		return &Backend{Store: memstore.New()}, nil
	case config.DriverPostgres:
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		return &Backend{Store: postgres.NewStore(pool), pool: pool}, nil
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}

// Migrate applies pending schema migrations. The memory backend has none.
func (b *Backend) Migrate() error {
	if b.pool == nil {
		return nil
	}
	return postgres.MigrateUp(b.pool)
}

func (b *Backend) Ping(ctx context.Context) error {
	if b.pool == nil {
		return nil
	}
	return b.pool.Ping(ctx)
}

func (b *Backend) Close() {
	if b.pool != nil {
		b.pool.Close()
	}
}
