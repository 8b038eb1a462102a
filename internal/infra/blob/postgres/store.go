// Package postgres keeps blobs in a PostgreSQL table. Connections come from
// pgx through its database/sql bridge so the table code is shared with the
// sqlite driver.
package postgres

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"collabdir/internal/blob/core"
	"collabdir/internal/infra/blob/sqlstore"
)

const localDSN = "postgres://localhost/collabdir?sslmode=disable"

// Dialect binds numbered parameters and stores bodies as BYTEA.
var Dialect = sqlstore.Dialect{
	Driver:      core.DriverPostgres,
	BinaryType:  "BYTEA",
	Placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
}

// New connects to dsn, or a local database when dsn is blank, and makes
// sure the blobs table exists.
func New(ctx context.Context, dsn string) (*sqlstore.Store, error) {
	if dsn == "" {
		dsn = localDSN
	}
	connCfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres dsn: %w", err)
	}
	db := stdlib.OpenDB(*connCfg)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres %s: %w", connCfg.Host, err)
	}
	store, err := sqlstore.New(ctx, db, Dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}
