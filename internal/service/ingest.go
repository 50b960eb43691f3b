// Package service holds the registry's orchestration: package ingestion,
// the read-path façade with on-demand mirroring, and deletion policy.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nougatpkg/nougat/internal/content"
	"github.com/nougatpkg/nougat/internal/model"
	"github.com/nougatpkg/nougat/internal/search"
	"github.com/nougatpkg/nougat/internal/store"
	"github.com/nougatpkg/nougat/pkg/nuget"
	"go.uber.org/zap"
)

// IngestResult is the outcome of one ingestion attempt.
type IngestResult int

const (
	// IngestSuccess means the package is now durably stored and queryable.
	IngestSuccess IngestResult = iota

	// IngestInvalidPackage means the upload was structurally invalid.
	// No side effects.
	IngestInvalidPackage

	// IngestPackageAlreadyExists means the (id, version) is already
	// stored and overwriting is disabled, or a concurrent writer won the
	// race.
	IngestPackageAlreadyExists
)

func (r IngestResult) String() string {
	switch r {
	case IngestSuccess:
		return "success"
	case IngestInvalidPackage:
		return "invalid-package"
	case IngestPackageAlreadyExists:
		return "package-already-exists"
	default:
		return fmt.Sprintf("ingest-result(%d)", int(r))
	}
}

// Ingestor turns an uploaded archive into durably stored, queryable state.
//
// There is no transaction spanning the content and metadata stores.
// Consistency comes from each store's own atomic primitive: the content
// store's create-if-absent write and the metadata store's unique index.
// Whichever concurrent writer those accept first wins; everyone else
// observes AlreadyExists or Conflict.
type Ingestor struct {
	meta           store.Store
	content        content.Store
	search         search.Indexer
	allowOverwrite bool
	logger         *zap.Logger
}

// NewIngestor creates the ingestion orchestrator.
func NewIngestor(meta store.Store, contentStore content.Store, indexer search.Indexer, allowOverwrite bool, logger *zap.Logger) *Ingestor {
	return &Ingestor{
		meta:           meta,
		content:        contentStore,
		search:         indexer,
		allowOverwrite: allowOverwrite,
		logger:         logger,
	}
}

// Ingest runs the pipeline: extract and validate the archive, check for an
// existing record, persist content then metadata, then notify search.
func (s *Ingestor) Ingest(ctx context.Context, data []byte) (IngestResult, error) {
	// Extract and validate. Any structural failure is the uploader's
	// problem and leaves zero side effects.
	reader, err := nuget.OpenReader(data)
	if err != nil {
		s.logger.Info("rejected invalid package", zap.Error(err))
		return IngestInvalidPackage, nil
	}
	pkg, blobs, err := buildPackage(reader)
	if err != nil {
		s.logger.Info("rejected invalid package", zap.Error(err))
		return IngestInvalidPackage, nil
	}
	// The published timestamp is the moment validation passed, not
	// upload receipt time.
	pkg.Published = time.Now().UTC()

	id, version := pkg.ID, pkg.Version
	log := s.logger.With(
		zap.String("id", id),
		zap.String("version", version.NormalizedLower()),
	)

	// Existence check. Best-effort only: the true linearization point is
	// the stores' own atomic writes below.
	exists, err := s.meta.ExistsVersion(ctx, id, version)
	if err != nil {
		return IngestSuccess, fmt.Errorf("failed to check package existence: %w", err)
	}
	if exists {
		if !s.allowOverwrite {
			return IngestPackageAlreadyExists, nil
		}
		// Overwrite: clear the old record and content so the write
		// below is a clean create.
		if _, err := s.meta.HardDelete(ctx, id, version); err != nil {
			return IngestSuccess, fmt.Errorf("failed to delete existing package: %w", err)
		}
		for _, p := range content.AllPaths(id, version) {
			if err := s.content.Delete(ctx, p); err != nil {
				return IngestSuccess, fmt.Errorf("failed to delete existing content: %w", err)
			}
		}
		log.Info("replacing existing package")
	}

	// Persist content. A Conflict here is a write race the existence
	// check did not catch; it is authoritative and propagates.
	if err := s.putBlob(ctx, content.PackagePath(id, version), data, "binary/octet-stream"); err != nil {
		return IngestSuccess, err
	}
	if err := s.putBlob(ctx, content.NuspecPath(id, version), blobs.nuspec, "text/xml"); err != nil {
		return IngestSuccess, err
	}
	if blobs.readme != nil {
		if err := s.putBlob(ctx, content.ReadmePath(id, version), blobs.readme, "text/markdown"); err != nil {
			return IngestSuccess, err
		}
	}
	if blobs.icon != nil {
		if err := s.putBlob(ctx, content.IconPath(id, version), blobs.icon, "binary/octet-stream"); err != nil {
			return IngestSuccess, err
		}
	}

	// Persist metadata. Losing the uniqueness race here means another
	// writer finished first after our content was written; the orphaned
	// blob is content-addressed by path and harmless.
	addResult, err := s.meta.Add(ctx, pkg)
	if err != nil {
		return IngestSuccess, fmt.Errorf("failed to add package record: %w", err)
	}
	if addResult == store.AddPackageAlreadyExists {
		log.Info("lost ingest race, package already recorded")
		return IngestPackageAlreadyExists, nil
	}

	// Notify search. Fire-and-forget: a stale index self-heals on the
	// next index call, so a failure here must not fail the ingest.
	if err := s.search.Index(ctx, pkg); err != nil {
		log.Error("failed to index package for search", zap.Error(err))
	}

	log.Info("ingested package", zap.Int("size", len(data)))
	return IngestSuccess, nil
}

func (s *Ingestor) putBlob(ctx context.Context, path string, data []byte, contentType string) error {
	result, err := s.content.Put(ctx, path, data, contentType)
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", path, err)
	}
	if result == content.PutConflict {
		return fmt.Errorf("content conflict at %s: concurrent write with different bytes", path)
	}
	return nil
}

// packageBlobs carries the archive-embedded files alongside the record.
type packageBlobs struct {
	nuspec []byte
	readme []byte
	icon   []byte
}

func buildPackage(reader *nuget.PackageReader) (*model.Package, *packageBlobs, error) {
	meta := reader.Nuspec().Metadata

	version, err := nuget.ParseVersion(meta.Version)
	if err != nil {
		return nil, nil, fmt.Errorf("manifest version is invalid: %w", err)
	}

	nuspecBytes, err := reader.NuspecBytes()
	if err != nil {
		return nil, nil, err
	}
	readme, err := reader.Readme()
	if err != nil {
		return nil, nil, err
	}
	icon, err := reader.Icon()
	if err != nil {
		return nil, nil, err
	}

	pkg := &model.Package{
		ID:                       meta.ID,
		Version:                  version,
		Title:                    meta.Title,
		Authors:                  splitCommaList(meta.Authors),
		Description:              meta.Description,
		Summary:                  meta.Summary,
		ReleaseNotes:             meta.ReleaseNotes,
		Language:                 meta.Language,
		Tags:                     strings.Fields(meta.Tags),
		Listed:                   true,
		Downloads:                0,
		HasReadme:                readme != nil,
		HasEmbeddedIcon:          icon != nil,
		RequireLicenseAcceptance: meta.RequireLicenseAcceptance,
		MinClientVersion:         meta.MinClientVersion,
		IconURL:                  meta.IconURL,
		LicenseURL:               meta.LicenseURL,
		ProjectURL:               meta.ProjectURL,
		TargetFrameworks:         reader.TargetFrameworks(),
	}
	if meta.Repository != nil {
		pkg.RepositoryURL = meta.Repository.URL
		pkg.RepositoryType = meta.Repository.Type
	}
	if meta.License != nil && meta.LicenseURL == "" {
		pkg.LicenseURL = meta.License.Value
	}

	if deps := meta.Dependencies; deps != nil {
		for _, d := range deps.Dependencies {
			pkg.Dependencies = append(pkg.Dependencies, model.Dependency{
				ID:           d.ID,
				VersionRange: d.Version,
			})
		}
		for _, g := range deps.Groups {
			if len(g.Dependencies) == 0 {
				// Keep the empty group as one synthetic entry so the
				// framework itself is not lost.
				pkg.Dependencies = append(pkg.Dependencies, model.Dependency{
					TargetFramework: g.TargetFramework,
				})
				continue
			}
			for _, d := range g.Dependencies {
				pkg.Dependencies = append(pkg.Dependencies, model.Dependency{
					ID:              d.ID,
					VersionRange:    d.Version,
					TargetFramework: g.TargetFramework,
				})
			}
		}
	}

	if types := meta.PackageTypes; types != nil {
		for _, t := range types.Types {
			pkg.PackageTypes = append(pkg.PackageTypes, model.PackageType{
				Name:    t.Name,
				Version: t.Version,
			})
		}
	}

	return pkg, &packageBlobs{nuspec: nuspecBytes, readme: readme, icon: icon}, nil
}

func splitCommaList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
