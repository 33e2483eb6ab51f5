// Package store provides scoped data access for the CRM resource tables.
//
// Every read and write composes its WHERE clause from the access package so
// ownership, team, brokerage and privacy rules are enforced in SQL. Stores
// share the Base struct; none of them import each other.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"

	"github.com/estatedesk/crm/internal/access"
	"github.com/estatedesk/crm/internal/models"
)

const defaultQueryTimeout = 30 * time.Second

// alias qualifies the resource table in every statement.
const alias = "t"

// Querier is the subset of pgx used by stores. *dbpool.Pool and pgx.Tx both satisfy it.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Base contains shared dependencies for all stores.
// Embed this in each store struct. Schema may be nil, in which case the
// declared column sets are trusted.
type Base struct {
	DB     Querier
	Log    *logrus.Logger
	Schema *SchemaCache
}

// withTimeout creates a context with the default query timeout.
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, defaultQueryTimeout)
}

// require fails with ErrSchemaUnsupported when rt's table lacks any of cols.
func (b *Base) require(ctx context.Context, rt models.ResourceType, cols ...models.Column) error {
	if b.Schema == nil {
		return nil
	}

	return b.Schema.Require(ctx, rt.Table(), cols...)
}

// mapPgError translates driver errors into model sentinels where one applies.
func mapPgError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return models.ErrDuplicateKey
		case "23503":
			return fmt.Errorf("%w: %s", models.ErrInvalidReference, pgErr.ConstraintName)
		case "22P02":
			// Malformed id literal; nothing with that id can exist.
			return models.ErrNotFound
		}
	}

	return err
}

// argList numbers positional parameters for statements that bind values
// ahead of an access.Predicate.
type argList struct {
	vals []any
}

func (a *argList) add(v any) string {
	a.vals = append(a.vals, v)
	return "$" + strconv.Itoa(len(a.vals))
}

func (a *argList) next() int { return len(a.vals) + 1 }

func (a *argList) extend(p *access.Predicate) {
	a.vals = append(a.vals, p.Params()...)
}
