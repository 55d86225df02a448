package di

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alpacahq/peersync/store"
	"github.com/alpacahq/peersync/utils/log"
)

func (c *Container) GetPool() *pgxpool.Pool {
	if c.pool != nil {
		return c.pool
	}
	pool, err := store.NewPool(context.Background(), c.config.Database.URL, c.config.Database.MaxConns)
	if err != nil {
		log.Error("failed to create a database pool: %v", err)
		panic(fmt.Sprintf("failed to create a database pool: %v", err))
	}
	c.pool = pool
	return c.pool
}

func (c *Container) GetStore() *store.Postgres {
	if c.store != nil {
		return c.store
	}
	c.store = store.New(c.GetPool(), c.GetInstanceID())
	return c.store
}
