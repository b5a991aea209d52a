// Package blob is the single entry point to object storage. Callers depend on
// Store; the backends under internal/infra/blob stay behind this package.
package blob

import (
	"bolosim/internal/blob/core"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// Object describes stored blob metadata.
	Object = core.Object
	// Store is the interface for blob storage backends.
	Store = core.Store
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
)

var (
	ErrNotFound = core.ErrNotFound
	ErrExists   = core.ErrExists
)

// Replace deletes key if present and stores data under it.
var Replace = core.Replace

// ReadAll fetches the full content stored under key.
var ReadAll = core.ReadAll
