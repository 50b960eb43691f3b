package service

import (
	"context"
	"fmt"

	"github.com/nougatpkg/nougat/internal/model"
	"github.com/nougatpkg/nougat/internal/store"
	"github.com/nougatpkg/nougat/internal/upstream"
	"github.com/nougatpkg/nougat/pkg/nuget"
	"go.uber.org/zap"
)

// PackageService is the read-path façade. It answers from local metadata
// when it can and mirrors from the upstream registry on a cache miss.
//
// There is deliberately no single-flight de-duplication for concurrent
// mirror requests of the same missing package: both may download and both
// may ingest, and the stores arbitrate the winner. Bounded duplicate work,
// not a correctness bug.
type PackageService struct {
	meta     store.Store
	upstream upstream.Source // nil when mirroring is disabled
	ingestor *Ingestor
	logger   *zap.Logger
}

// NewPackageService creates the façade. source may be nil to disable
// mirroring.
func NewPackageService(meta store.Store, source upstream.Source, ingestor *Ingestor, logger *zap.Logger) *PackageService {
	return &PackageService{
		meta:     meta,
		upstream: source,
		ingestor: ingestor,
		logger:   logger,
	}
}

// Mirror ensures (id, version) is available locally, importing it from the
// upstream registry if needed. It reports whether the package can now be
// served; an unmirrorable upstream package is indistinguishable from a
// nonexistent one.
func (s *PackageService) Mirror(ctx context.Context, id string, version *nuget.Version) (bool, error) {
	exists, err := s.meta.ExistsVersion(ctx, id, version)
	if err != nil {
		return false, fmt.Errorf("failed to check local state: %w", err)
	}
	if exists {
		return true, nil
	}
	if s.upstream == nil {
		return false, nil
	}

	data := s.upstream.DownloadOrNil(ctx, id, version)
	if data == nil {
		return false, nil
	}

	result, err := s.ingestor.Ingest(ctx, data)
	if err != nil {
		// Mirroring failures surface as "not found", not as errors.
		s.logger.Error("failed to mirror package",
			zap.String("id", id),
			zap.String("version", version.NormalizedLower()),
			zap.Error(err),
		)
		return false, nil
	}

	switch result {
	case IngestSuccess:
		return true, nil
	case IngestPackageAlreadyExists:
		// A concurrent mirror request won the race, so the package is
		// demonstrably present now. That is a success for this caller.
		return true, nil
	default:
		s.logger.Warn("upstream package failed ingestion",
			zap.String("id", id),
			zap.String("version", version.NormalizedLower()),
			zap.String("result", result.String()),
		)
		return false, nil
	}
}

// Versions lists every version of the id, merging the upstream's list with
// local state. Unlisted local versions are included; version listings are
// an availability surface, not a discovery one.
func (s *PackageService) Versions(ctx context.Context, id string) ([]*nuget.Version, error) {
	local, err := s.meta.Find(ctx, id, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list local versions: %w", err)
	}

	seen := make(map[string]bool, len(local))
	var versions []*nuget.Version
	for _, pkg := range local {
		key := pkg.Version.NormalizedLower()
		if !seen[key] {
			seen[key] = true
			versions = append(versions, pkg.Version)
		}
	}

	if s.upstream != nil {
		for _, v := range s.upstream.ListVersions(ctx, id) {
			key := v.NormalizedLower()
			if !seen[key] {
				seen[key] = true
				versions = append(versions, v)
			}
		}
	}
	return versions, nil
}

// Packages lists package metadata for every version of the id, merging
// upstream and local records. Local records win on conflicting metadata
// for the same version.
func (s *PackageService) Packages(ctx context.Context, id string) ([]*model.Package, error) {
	local, err := s.meta.Find(ctx, id, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list local packages: %w", err)
	}

	seen := make(map[string]bool, len(local))
	packages := make([]*model.Package, 0, len(local))
	for _, pkg := range local {
		seen[pkg.Version.NormalizedLower()] = true
		packages = append(packages, pkg)
	}

	if s.upstream != nil {
		for _, pkg := range s.upstream.ListPackages(ctx, id) {
			if !seen[pkg.Version.NormalizedLower()] {
				packages = append(packages, pkg)
			}
		}
	}
	return packages, nil
}

// FindVersion returns the local record for (id, version), mirroring it
// first if necessary. Nil means not found anywhere.
func (s *PackageService) FindVersion(ctx context.Context, id string, version *nuget.Version, includeUnlisted bool) (*model.Package, error) {
	available, err := s.Mirror(ctx, id, version)
	if err != nil {
		return nil, err
	}
	if !available {
		return nil, nil
	}
	return s.meta.FindVersion(ctx, id, version, includeUnlisted)
}

// AddDownload records a download of (id, version). Best effort.
func (s *PackageService) AddDownload(ctx context.Context, id string, version *nuget.Version) error {
	return s.meta.AddDownload(ctx, id, version)
}
