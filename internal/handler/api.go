package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nougatpkg/nougat/internal/config"
	"github.com/nougatpkg/nougat/internal/content"
	"github.com/nougatpkg/nougat/internal/service"
	"github.com/nougatpkg/nougat/internal/store"
	"github.com/nougatpkg/nougat/pkg/nuget"
	"go.uber.org/zap"
)

// maxUploadSize bounds uploaded package archives (256 MiB).
const maxUploadSize = 256 << 20

// API handles HTTP requests
type API struct {
	cfg         *config.Config
	logger      *zap.Logger
	meta        store.Store
	content     content.Store
	packages    *service.PackageService
	ingestor    *service.Ingestor
	deleter     *service.DeletionService
	rateLimiter *RateLimiter
}

// NewAPI creates a new API instance
func NewAPI(
	cfg *config.Config,
	logger *zap.Logger,
	meta store.Store,
	contentStore content.Store,
	packages *service.PackageService,
	ingestor *service.Ingestor,
	deleter *service.DeletionService,
) *API {
	return &API{
		cfg:         cfg,
		logger:      logger,
		meta:        meta,
		content:     contentStore,
		packages:    packages,
		ingestor:    ingestor,
		deleter:     deleter,
		rateLimiter: NewRateLimiter(float64(cfg.RateLimit.RPS), cfg.RateLimit.Burst),
	}
}

// Close releases the API's resources.
func (a *API) Close() error {
	a.rateLimiter.Close()
	return nil
}

// RegisterRoutes registers the API routes
func (a *API) RegisterRoutes(r chi.Router) {
	// Middleware
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Route("/api/v2", func(r chi.Router) {
		r.Use(a.rateLimiter.RateLimit)
		r.Put("/package", a.uploadPackage)
		r.With(LocalOnly).Delete("/package/{id}/{version}", a.deletePackage)
		r.With(LocalOnly).Post("/package/{id}/{version}/relist", a.relistPackage)
	})

	r.Route("/v3-flatcontainer", func(r chi.Router) {
		r.Use(a.rateLimiter.RateLimit)
		r.Get("/{id}/index.json", a.listVersions)
		r.Get("/{id}/{version}/{filename}", a.downloadArtifact)
	})

	r.With(a.rateLimiter.RateLimit).Get("/v3/search", a.searchPackages)
}

// uploadPackage ingests an uploaded nupkg.
func (a *API) uploadPackage(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxUploadSize))
	if err != nil {
		http.Error(w, "failed to read package", http.StatusBadRequest)
		return
	}

	result, err := a.ingestor.Ingest(r.Context(), data)
	if err != nil {
		a.logger.Error("ingest failed", zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	switch result {
	case service.IngestSuccess:
		w.WriteHeader(http.StatusCreated)
	case service.IngestInvalidPackage:
		http.Error(w, "invalid package", http.StatusBadRequest)
	case service.IngestPackageAlreadyExists:
		http.Error(w, "package already exists", http.StatusConflict)
	default:
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// listVersions returns every version of a package id, mirroring the
// upstream's list when mirroring is enabled.
func (a *API) listVersions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		http.Error(w, "package id is required", http.StatusBadRequest)
		return
	}

	versions, err := a.packages.Versions(r.Context(), id)
	if err != nil {
		a.logger.Error("failed to list versions", zap.String("id", id), zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if len(versions) == 0 {
		http.Error(w, "package not found", http.StatusNotFound)
		return
	}

	rendered := make([]string, 0, len(versions))
	for _, v := range versions {
		rendered = append(rendered, v.NormalizedLower())
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string][]string{"versions": rendered})
}

// downloadArtifact serves the package archive or one of its sibling
// artifacts (nuspec, readme, icon).
func (a *API) downloadArtifact(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	version, err := nuget.ParseVersion(chi.URLParam(r, "version"))
	if err != nil {
		http.Error(w, "invalid version", http.StatusBadRequest)
		return
	}
	filename := chi.URLParam(r, "filename")

	var blobPath, contentType string
	isArchive := false
	switch {
	case strings.HasSuffix(filename, ".nupkg"):
		blobPath = content.PackagePath(id, version)
		contentType = "application/octet-stream"
		isArchive = true
	case strings.HasSuffix(filename, ".nuspec"):
		blobPath = content.NuspecPath(id, version)
		contentType = "text/xml"
	case filename == "readme":
		blobPath = content.ReadmePath(id, version)
		contentType = "text/markdown"
	case filename == "icon":
		blobPath = content.IconPath(id, version)
		contentType = "application/octet-stream"
	default:
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	if isArchive {
		// The archive is the one artifact that triggers on-demand
		// mirroring and counts as a download.
		available, err := a.packages.Mirror(r.Context(), id, version)
		if err != nil {
			a.logger.Error("mirror check failed", zap.String("id", id), zap.Error(err))
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if !available {
			http.Error(w, "package not found", http.StatusNotFound)
			return
		}
	}

	data, err := a.content.Get(r.Context(), blobPath)
	if err == content.ErrNotFound {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	if err != nil {
		a.logger.Error("failed to read content", zap.String("path", blobPath), zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	if isArchive {
		if err := a.packages.AddDownload(r.Context(), id, version); err != nil {
			a.logger.Warn("failed to count download", zap.String("id", id), zap.Error(err))
		}
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Write(data)
}

// deletePackage applies the configured delete behavior.
func (a *API) deletePackage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	version, err := nuget.ParseVersion(chi.URLParam(r, "version"))
	if err != nil {
		http.Error(w, "invalid version", http.StatusBadRequest)
		return
	}

	found, err := a.deleter.Delete(r.Context(), id, version)
	if err != nil {
		a.logger.Error("delete failed", zap.String("id", id), zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "package not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// relistPackage restores default-listing visibility.
func (a *API) relistPackage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	version, err := nuget.ParseVersion(chi.URLParam(r, "version"))
	if err != nil {
		http.Error(w, "invalid version", http.StatusBadRequest)
		return
	}

	found, err := a.deleter.Relist(r.Context(), id, version)
	if err != nil {
		a.logger.Error("relist failed", zap.String("id", id), zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "package not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// searchPackages serves a database-backed search over listed packages.
func (a *API) searchPackages(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	skip, _ := strconv.Atoi(r.URL.Query().Get("skip"))
	take, _ := strconv.Atoi(r.URL.Query().Get("take"))

	results, err := a.meta.Search(r.Context(), query, skip, take)
	if err != nil {
		a.logger.Error("search failed", zap.String("query", query), zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	type searchResult struct {
		ID          string   `json:"id"`
		Version     string   `json:"version"`
		Description string   `json:"description"`
		Authors     []string `json:"authors"`
		Downloads   int64    `json:"totalDownloads"`
		Tags        []string `json:"tags,omitempty"`
	}

	data := make([]searchResult, 0, len(results))
	for _, pkg := range results {
		data = append(data, searchResult{
			ID:          pkg.ID,
			Version:     pkg.Version.String(),
			Description: pkg.Description,
			Authors:     pkg.Authors,
			Downloads:   pkg.Downloads,
			Tags:        pkg.Tags,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"totalHits": len(data),
		"data":      data,
	})
}
