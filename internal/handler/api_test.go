package handler

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/nougatpkg/nougat/internal/config"
	"github.com/nougatpkg/nougat/internal/content"
	"github.com/nougatpkg/nougat/internal/search"
	"github.com/nougatpkg/nougat/internal/service"
	"github.com/nougatpkg/nougat/internal/store"
	"go.uber.org/zap"
)

// newTestAPI wires the full stack over temp-dir stores, without mirroring.
func newTestAPI(t *testing.T) http.Handler {
	t.Helper()
	logger := zap.NewNop()

	meta, err := store.NewSQLiteStore(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { meta.Close() })

	blobs, err := content.NewFileSystemStore(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("failed to open content store: %v", err)
	}

	cfg := &config.Config{}
	cfg.RateLimit.RPS = 1000
	cfg.RateLimit.Burst = 1000

	ingestor := service.NewIngestor(meta, blobs, search.NullIndexer{}, false, logger)
	packages := service.NewPackageService(meta, nil, ingestor, logger)
	deleter := service.NewDeletionService(meta, blobs, service.DeleteBehaviorUnlist, logger)

	api := NewAPI(cfg, logger, meta, blobs, packages, ingestor, deleter)
	t.Cleanup(func() { api.Close() })

	r := chi.NewRouter()
	api.RegisterRoutes(r)
	return r
}

func testNupkg(t *testing.T, id, version string) []byte {
	t.Helper()
	nuspec := fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<package xmlns="http://schemas.microsoft.com/packaging/2013/05/nuspec.xsd">
  <metadata>
    <id>%s</id>
    <version>%s</version>
    <authors>Test</authors>
    <description>test package</description>
  </metadata>
</package>`, id, version)

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, err := w.Create(strings.ToLower(id) + ".nuspec")
	if err != nil {
		t.Fatalf("failed to create zip entry: %v", err)
	}
	if _, err := f.Write([]byte(nuspec)); err != nil {
		t.Fatalf("failed to write zip entry: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close zip: %v", err)
	}
	return buf.Bytes()
}

func do(h http.Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.RemoteAddr = "127.0.0.1:54321"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestUploadAndDownload(t *testing.T) {
	h := newTestAPI(t)
	data := testNupkg(t, "Foo.Bar", "1.0.0")

	rec := do(h, http.MethodPut, "/api/v2/package", data)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload = %d, want 201: %s", rec.Code, rec.Body)
	}

	rec = do(h, http.MethodGet, "/v3-flatcontainer/foo.bar/1.0.0/foo.bar.1.0.0.nupkg", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("download = %d, want 200: %s", rec.Code, rec.Body)
	}
	if !bytes.Equal(rec.Body.Bytes(), data) {
		t.Error("downloaded archive differs from upload")
	}

	rec = do(h, http.MethodGet, "/v3-flatcontainer/foo.bar/1.0.0/foo.bar.nuspec", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("nuspec download = %d, want 200", rec.Code)
	}
}

func TestUploadInvalidPackage(t *testing.T) {
	h := newTestAPI(t)
	rec := do(h, http.MethodPut, "/api/v2/package", []byte("garbage"))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("upload = %d, want 400", rec.Code)
	}
}

func TestUploadDuplicate(t *testing.T) {
	h := newTestAPI(t)
	data := testNupkg(t, "Foo", "1.0.0")

	if rec := do(h, http.MethodPut, "/api/v2/package", data); rec.Code != http.StatusCreated {
		t.Fatalf("first upload = %d", rec.Code)
	}
	if rec := do(h, http.MethodPut, "/api/v2/package", data); rec.Code != http.StatusConflict {
		t.Errorf("duplicate upload = %d, want 409", rec.Code)
	}
}

func TestListVersions(t *testing.T) {
	h := newTestAPI(t)

	for _, v := range []string{"1.0.0", "2.0.0-Beta.1"} {
		if rec := do(h, http.MethodPut, "/api/v2/package", testNupkg(t, "Foo", v)); rec.Code != http.StatusCreated {
			t.Fatalf("upload %s = %d", v, rec.Code)
		}
	}

	rec := do(h, http.MethodGet, "/v3-flatcontainer/foo/index.json", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("index = %d: %s", rec.Code, rec.Body)
	}

	var index struct {
		Versions []string `json:"versions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &index); err != nil {
		t.Fatalf("failed to decode index: %v", err)
	}
	if len(index.Versions) != 2 {
		t.Fatalf("versions = %v, want 2", index.Versions)
	}
	// Versions are rendered normalized and lower-cased.
	if index.Versions[1] != "2.0.0-beta.1" {
		t.Errorf("versions = %v", index.Versions)
	}
}

func TestListVersionsUnknownPackage(t *testing.T) {
	h := newTestAPI(t)
	rec := do(h, http.MethodGet, "/v3-flatcontainer/missing/index.json", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("index = %d, want 404", rec.Code)
	}
}

func TestDeleteUnlistsAndRelist(t *testing.T) {
	h := newTestAPI(t)

	if rec := do(h, http.MethodPut, "/api/v2/package", testNupkg(t, "Foo", "1.0.0")); rec.Code != http.StatusCreated {
		t.Fatalf("upload = %d", rec.Code)
	}

	rec := do(h, http.MethodDelete, "/api/v2/package/Foo/1.0.0", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete = %d, want 204: %s", rec.Code, rec.Body)
	}

	// Unlist keeps the archive downloadable.
	rec = do(h, http.MethodGet, "/v3-flatcontainer/foo/1.0.0/foo.1.0.0.nupkg", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("download after unlist = %d, want 200", rec.Code)
	}

	rec = do(h, http.MethodPost, "/api/v2/package/Foo/1.0.0/relist", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("relist = %d, want 200", rec.Code)
	}
}

func TestDeleteRemoteAddrForbidden(t *testing.T) {
	h := newTestAPI(t)

	req := httptest.NewRequest(http.MethodDelete, "/api/v2/package/Foo/1.0.0", nil)
	req.RemoteAddr = "203.0.113.9:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("remote delete = %d, want 403", rec.Code)
	}
}

func TestSearch(t *testing.T) {
	h := newTestAPI(t)

	if rec := do(h, http.MethodPut, "/api/v2/package", testNupkg(t, "Json.Thing", "1.0.0")); rec.Code != http.StatusCreated {
		t.Fatalf("upload = %d", rec.Code)
	}

	rec := do(h, http.MethodGet, "/v3/search?q=json", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("search = %d: %s", rec.Code, rec.Body)
	}

	var resp struct {
		TotalHits int `json:"totalHits"`
		Data      []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode search response: %v", err)
	}
	if resp.TotalHits != 1 || resp.Data[0].ID != "Json.Thing" {
		t.Errorf("search response = %+v", resp)
	}
}

func TestDownloadUnknownArtifact(t *testing.T) {
	h := newTestAPI(t)
	rec := do(h, http.MethodGet, "/v3-flatcontainer/foo/1.0.0/whatever.txt", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("artifact = %d, want 404", rec.Code)
	}
}
