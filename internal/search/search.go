// Package search keeps the search index in sync with ingested packages.
// Indexing is fire-and-forget with respect to ingestion: a failed index
// update never fails an ingest, and a stale index self-heals on the next
// index call for the same package.
package search

import (
	"context"

	"github.com/nougatpkg/nougat/internal/model"
)

// Indexer receives "index this package" notifications from the ingestion
// pipeline.
type Indexer interface {
	Index(ctx context.Context, pkg *model.Package) error
}

// NullIndexer drops every notification. For deployments without search.
type NullIndexer struct{}

func (NullIndexer) Index(ctx context.Context, pkg *model.Package) error {
	return nil
}

// DatabaseIndexer serves search straight from the metadata store at query
// time, so there is nothing to push on ingest.
type DatabaseIndexer struct{}

func (DatabaseIndexer) Index(ctx context.Context, pkg *model.Package) error {
	return nil
}
