// Package blob selects and exposes the object store used to archive generated
// documents.
package blob

import (
	"context"
	"fmt"

	"fhirdoc/internal/blob/core"
	fsstore "fhirdoc/internal/infra/blob/fs"
	memorystore "fhirdoc/internal/infra/blob/memory"
	s3store "fhirdoc/internal/infra/blob/s3"
)

type (
	Driver     = core.Driver
	PutOptions = core.PutOptions
	Info       = core.Info
	Store      = core.Store
	S3Config   = s3store.Config
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
	// DriverNone disables the archive.
	DriverNone Driver = "none"
)

var (
	ErrNotExist = core.ErrNotExist
	ErrExists   = core.ErrExists
)

// Config selects a backend.
type Config struct {
	Driver Driver
	FSRoot string
	S3     S3Config
}

// Open constructs the configured store. DriverNone (or an empty driver)
// returns a nil store and no error.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverNone:
		return nil, nil
	case DriverFilesystem:
		return fsstore.New(cfg.FSRoot)
	case DriverMemory:
		return memorystore.New(), nil
	case DriverS3:
		return s3store.New(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown blob driver %s", cfg.Driver)
	}
}
