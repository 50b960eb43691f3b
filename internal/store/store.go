// Package store provides the durable metadata store of package records.
// The uniqueness constraint on (id, normalized version) is what arbitrates
// concurrent ingests of the same package.
package store

import (
	"context"
	"fmt"

	"github.com/nougatpkg/nougat/internal/model"
	"github.com/nougatpkg/nougat/pkg/nuget"
)

// AddResult is the outcome of an Add.
type AddResult int

const (
	// AddSuccess means the record was created by this call.
	AddSuccess AddResult = iota

	// AddPackageAlreadyExists means a record for the same (id, normalized
	// version) already exists.
	AddPackageAlreadyExists
)

func (r AddResult) String() string {
	switch r {
	case AddSuccess:
		return "success"
	case AddPackageAlreadyExists:
		return "package-already-exists"
	default:
		return fmt.Sprintf("add-result(%d)", int(r))
	}
}

// Store is the metadata store contract. Backends enforce uniqueness on
// (id, normalized version) and translate the violation into
// AddPackageAlreadyExists rather than leaking a raw storage error.
type Store interface {
	// Add inserts a package record with its dependency, type, and
	// framework child rows.
	Add(ctx context.Context, pkg *model.Package) (AddResult, error)

	// Exists reports whether any version of the package is stored.
	Exists(ctx context.Context, id string) (bool, error)

	// ExistsVersion reports whether the exact (id, version) is stored.
	ExistsVersion(ctx context.Context, id string, version *nuget.Version) (bool, error)

	// Find returns all stored versions of a package, oldest first.
	// Unlisted versions are excluded unless includeUnlisted is set.
	Find(ctx context.Context, id string, includeUnlisted bool) ([]*model.Package, error)

	// FindVersion returns the record for (id, version), or nil if there
	// is none (or it is unlisted and includeUnlisted is unset).
	FindVersion(ctx context.Context, id string, version *nuget.Version, includeUnlisted bool) (*model.Package, error)

	// Unlist hides the version from default listings. Returns whether the
	// record was found.
	Unlist(ctx context.Context, id string, version *nuget.Version) (bool, error)

	// Relist restores default-listing visibility. Returns whether the
	// record was found.
	Relist(ctx context.Context, id string, version *nuget.Version) (bool, error)

	// AddDownload increments the download counter. Download counts are a
	// best-effort metric: optimistic-concurrency failures are retried a
	// bounded number of times, then given up silently.
	AddDownload(ctx context.Context, id string, version *nuget.Version) error

	// HardDelete removes the record and its child rows. Content blobs are
	// not touched; that is the deletion service's job. Returns whether
	// the record was found.
	HardDelete(ctx context.Context, id string, version *nuget.Version) (bool, error)

	// Search returns listed packages whose id or description matches the
	// query, newest version per id first.
	Search(ctx context.Context, query string, skip, take int) ([]*model.Package, error)

	Close() error
}
