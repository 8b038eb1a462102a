// Package blob is the storage entry point for the rest of collabdir. It
// exposes the object-store contract and opens the configured driver;
// nothing outside this package imports a driver directly.
package blob

import (
	"context"

	"collabdir/internal/blob/core"
)

type (
	Driver     = core.Driver
	PutOptions = core.PutOptions
	Info       = core.Info
	Store      = core.Store
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverGCS        = core.DriverGCS
	DriverBadger     = core.DriverBadger
	DriverSQLite     = core.DriverSQLite
	DriverPostgres   = core.DriverPostgres
	DriverMemory     = core.DriverMemory
)

// ErrNotFound reports a missing object.
var ErrNotFound = core.ErrNotFound

// ParseDriver resolves a configured driver name; blank means S3.
func ParseDriver(name string) (Driver, error) { return core.ParseDriver(name) }

// ReadAll returns the info and body stored under key.
func ReadAll(ctx context.Context, s Store, key string) (Info, []byte, error) {
	return core.ReadAll(ctx, s, key)
}
