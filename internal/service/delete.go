package service

import (
	"context"
	"fmt"

	"github.com/nougatpkg/nougat/internal/content"
	"github.com/nougatpkg/nougat/internal/store"
	"github.com/nougatpkg/nougat/pkg/nuget"
	"go.uber.org/zap"
)

// DeleteBehavior selects what a delete request does.
type DeleteBehavior string

const (
	// DeleteBehaviorUnlist hides the version from default listings but
	// keeps the record and its content. The default.
	DeleteBehaviorUnlist DeleteBehavior = "unlist"

	// DeleteBehaviorHard removes the record and every artifact blob.
	DeleteBehaviorHard DeleteBehavior = "hard-delete"
)

// ParseDeleteBehavior maps the configuration string to a behavior; the
// empty string means unlist.
func ParseDeleteBehavior(s string) (DeleteBehavior, error) {
	switch DeleteBehavior(s) {
	case "", DeleteBehaviorUnlist:
		return DeleteBehaviorUnlist, nil
	case DeleteBehaviorHard:
		return DeleteBehaviorHard, nil
	default:
		return "", fmt.Errorf("unknown delete behavior %q", s)
	}
}

// DeletionService converts delete requests into unlists or hard deletes
// according to the configured behavior.
type DeletionService struct {
	meta     store.Store
	content  content.Store
	behavior DeleteBehavior
	logger   *zap.Logger
}

// NewDeletionService creates the service.
func NewDeletionService(meta store.Store, contentStore content.Store, behavior DeleteBehavior, logger *zap.Logger) *DeletionService {
	return &DeletionService{
		meta:     meta,
		content:  contentStore,
		behavior: behavior,
		logger:   logger,
	}
}

// Delete applies the configured behavior to (id, version) and reports
// whether the package was found.
func (s *DeletionService) Delete(ctx context.Context, id string, version *nuget.Version) (bool, error) {
	if s.behavior == DeleteBehaviorHard {
		return s.hardDelete(ctx, id, version)
	}
	found, err := s.meta.Unlist(ctx, id, version)
	if err != nil {
		return false, fmt.Errorf("failed to unlist package: %w", err)
	}
	return found, nil
}

// Relist restores default-listing visibility for an unlisted version.
func (s *DeletionService) Relist(ctx context.Context, id string, version *nuget.Version) (bool, error) {
	found, err := s.meta.Relist(ctx, id, version)
	if err != nil {
		return false, fmt.Errorf("failed to relist package: %w", err)
	}
	return found, nil
}

func (s *DeletionService) hardDelete(ctx context.Context, id string, version *nuget.Version) (bool, error) {
	found, err := s.meta.HardDelete(ctx, id, version)
	if err != nil {
		return false, fmt.Errorf("failed to delete package record: %w", err)
	}

	// Content is deleted even when the record was missing: the database
	// may have been cleaned independently, and storage should converge.
	for _, p := range content.AllPaths(id, version) {
		if err := s.content.Delete(ctx, p); err != nil {
			return found, fmt.Errorf("failed to delete content: %w", err)
		}
	}

	s.logger.Info("hard deleted package",
		zap.String("id", id),
		zap.String("version", version.NormalizedLower()),
		zap.Bool("found", found),
	)
	return found, nil
}
