// Package tablestore selects where a run's tables are persisted and exposes
// every backend as a table.Writer and table.Reader.
package tablestore

import (
	"context"
	"fmt"

	"bolosim/internal/blob"
	"bolosim/internal/config"
	"bolosim/internal/infra/persistence/postgres"
	"bolosim/internal/infra/persistence/sqlite"
	"bolosim/internal/table"
)

// Store persists named, ordered table bundles.
type Store interface {
	table.Writer
	table.Reader
	Close() error
}

// Open builds the store described by out. Object drivers (fs, s3, memory)
// go through the blob package; sqlite and postgres keep one row per table.
func Open(ctx context.Context, out config.Output) (Store, error) {
	switch out.Driver {
	case config.DriverSQLite:
		return sqlite.Open(ctx, out.SQLitePath)
	case config.DriverPostgres:
		return postgres.Open(ctx, out.PostgresDSN)
	case config.DriverFS, config.DriverS3, config.DriverMemory, "":
		bs, err := blob.Open(ctx, blob.Config{
			Driver: blob.Driver(out.Driver),
			FSRoot: out.FSRoot,
			S3: blob.S3Config{
				Bucket:    out.S3Bucket,
				Region:    out.S3Region,
				Endpoint:  out.S3Endpoint,
				PathStyle: out.S3PathStyle,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("open %s blob store: %w", out.Driver, err)
		}
		return NewBlob(bs, out.Format)
	default:
		return nil, fmt.Errorf("unknown table driver %q", out.Driver)
	}
}
