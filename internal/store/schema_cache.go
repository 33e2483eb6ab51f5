package store

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/estatedesk/crm/internal/models"
)

// ColumnLoader returns the column set of one table.
type ColumnLoader func(ctx context.Context, table string) (map[models.Column]bool, error)

// SchemaCache lazily loads and memoizes the columns of each table.
// Concurrent misses for the same table share one load.
type SchemaCache struct {
	load  ColumnLoader
	group singleflight.Group

	mu   sync.RWMutex
	cols map[string]map[models.Column]bool
	gen  uint64
}

// NewSchemaCache returns a cache backed by information_schema on db.
func NewSchemaCache(db Querier) *SchemaCache {
	return NewSchemaCacheWithLoader(informationSchemaLoader(db))
}

// NewSchemaCacheWithLoader returns a cache backed by load.
func NewSchemaCacheWithLoader(load ColumnLoader) *SchemaCache {
	return &SchemaCache{load: load, cols: make(map[string]map[models.Column]bool)}
}

// Columns returns the column set of table, loading it on first use.
func (c *SchemaCache) Columns(ctx context.Context, table string) (map[models.Column]bool, error) {
	c.mu.RLock()
	cols, ok := c.cols[table]
	gen := c.gen
	c.mu.RUnlock()

	if ok {
		return cols, nil
	}

	v, err, _ := c.group.Do(table, func() (any, error) {
		// The load outlives any single caller's cancellation.
		loadCtx, cancel := withTimeout(context.WithoutCancel(ctx))
		defer cancel()

		loaded, err := c.load(loadCtx, table)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		if c.gen == gen {
			c.cols[table] = loaded
		}
		c.mu.Unlock()

		return loaded, nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading columns of %s: %w", table, err)
	}

	return v.(map[models.Column]bool), nil
}

// Has reports whether table carries col.
func (c *SchemaCache) Has(ctx context.Context, table string, col models.Column) (bool, error) {
	cols, err := c.Columns(ctx, table)
	if err != nil {
		return false, err
	}

	return cols[col], nil
}

// Require fails with models.ErrSchemaUnsupported naming the first missing column.
func (c *SchemaCache) Require(ctx context.Context, table string, cols ...models.Column) error {
	have, err := c.Columns(ctx, table)
	if err != nil {
		return err
	}

	for _, col := range cols {
		if !have[col] {
			return fmt.Errorf("%w: %s has no %s column", models.ErrSchemaUnsupported, table, col)
		}
	}

	return nil
}

// Invalidate drops the cached columns of the given tables, or of every table
// when none are named. Loads already in flight are not stored.
func (c *SchemaCache) Invalidate(tables ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++

	if len(tables) == 0 {
		for t := range c.cols {
			c.group.Forget(t)
		}
		c.cols = make(map[string]map[models.Column]bool)

		return
	}

	for _, t := range tables {
		delete(c.cols, t)
		c.group.Forget(t)
	}
}

func informationSchemaLoader(db Querier) ColumnLoader {
	return func(ctx context.Context, table string) (map[models.Column]bool, error) {
		rows, err := db.Query(ctx, `SELECT column_name FROM information_schema.columns
			WHERE table_schema = current_schema() AND table_name = $1`, table)
		if err != nil {
			return nil, fmt.Errorf("querying information_schema: %w", err)
		}
		defer rows.Close()

		cols := make(map[models.Column]bool)
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return nil, fmt.Errorf("scanning column name: %w", err)
			}
			cols[models.Column(name)] = true
		}

		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("iterating columns: %w", err)
		}

		if len(cols) == 0 {
			return nil, fmt.Errorf("%w: table %s does not exist", models.ErrSchemaUnsupported, table)
		}

		return cols, nil
	}
}
