package service

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/nougatpkg/nougat/internal/content"
	"github.com/nougatpkg/nougat/internal/model"
	"github.com/nougatpkg/nougat/internal/store"
	"github.com/nougatpkg/nougat/pkg/nuget"
)

// fakeMetaStore is an in-memory metadata store with the same uniqueness
// semantics as the real one.
type fakeMetaStore struct {
	mu       sync.Mutex
	packages map[string]*model.Package

	addErr    error
	forceDup  bool // next Add reports AddPackageAlreadyExists
	addCalls  int
	downloads map[string]int
}

func newFakeMetaStore() *fakeMetaStore {
	return &fakeMetaStore{
		packages:  make(map[string]*model.Package),
		downloads: make(map[string]int),
	}
}

func metaKey(id string, version *nuget.Version) string {
	return strings.ToLower(id) + "|" + version.NormalizedLower()
}

func (f *fakeMetaStore) Add(ctx context.Context, pkg *model.Package) (store.AddResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addCalls++
	if f.addErr != nil {
		return store.AddSuccess, f.addErr
	}
	key := metaKey(pkg.ID, pkg.Version)
	if f.forceDup {
		f.forceDup = false
		return store.AddPackageAlreadyExists, nil
	}
	if _, ok := f.packages[key]; ok {
		return store.AddPackageAlreadyExists, nil
	}
	f.packages[key] = pkg
	return store.AddSuccess, nil
}

func (f *fakeMetaStore) Exists(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := strings.ToLower(id) + "|"
	for key := range f.packages {
		if strings.HasPrefix(key, prefix) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeMetaStore) ExistsVersion(ctx context.Context, id string, version *nuget.Version) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.packages[metaKey(id, version)]
	return ok, nil
}

func (f *fakeMetaStore) Find(ctx context.Context, id string, includeUnlisted bool) ([]*model.Package, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := strings.ToLower(id) + "|"
	var out []*model.Package
	for key, pkg := range f.packages {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if !pkg.Listed && !includeUnlisted {
			continue
		}
		out = append(out, pkg)
	}
	return out, nil
}

func (f *fakeMetaStore) FindVersion(ctx context.Context, id string, version *nuget.Version, includeUnlisted bool) (*model.Package, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pkg, ok := f.packages[metaKey(id, version)]
	if !ok || (!pkg.Listed && !includeUnlisted) {
		return nil, nil
	}
	return pkg, nil
}

func (f *fakeMetaStore) Unlist(ctx context.Context, id string, version *nuget.Version) (bool, error) {
	return f.setListed(id, version, false)
}

func (f *fakeMetaStore) Relist(ctx context.Context, id string, version *nuget.Version) (bool, error) {
	return f.setListed(id, version, true)
}

func (f *fakeMetaStore) setListed(id string, version *nuget.Version, listed bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pkg, ok := f.packages[metaKey(id, version)]
	if !ok {
		return false, nil
	}
	pkg.Listed = listed
	return true, nil
}

func (f *fakeMetaStore) AddDownload(ctx context.Context, id string, version *nuget.Version) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads[metaKey(id, version)]++
	return nil
}

func (f *fakeMetaStore) HardDelete(ctx context.Context, id string, version *nuget.Version) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := metaKey(id, version)
	_, ok := f.packages[key]
	delete(f.packages, key)
	return ok, nil
}

func (f *fakeMetaStore) Search(ctx context.Context, query string, skip, take int) ([]*model.Package, error) {
	return nil, nil
}

func (f *fakeMetaStore) Close() error { return nil }

// fakeContentStore is an in-memory blob store with create-if-absent
// semantics.
type fakeContentStore struct {
	mu      sync.Mutex
	objects map[string][]byte

	putErr      error
	conflictAt  string // Put at this path reports PutConflict
	putCalls    []string
	deleteCalls []string
}

func newFakeContentStore() *fakeContentStore {
	return &fakeContentStore{objects: make(map[string][]byte)}
}

func (f *fakeContentStore) Get(ctx context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[path]
	if !ok {
		return nil, content.ErrNotFound
	}
	return data, nil
}

func (f *fakeContentStore) GetDownloadURL(ctx context.Context, path string) (string, error) {
	return "fake://" + path, nil
}

func (f *fakeContentStore) Put(ctx context.Context, path string, data []byte, contentType string) (content.PutResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putCalls = append(f.putCalls, path)
	if f.putErr != nil {
		return content.PutConflict, f.putErr
	}
	if path == f.conflictAt {
		return content.PutConflict, nil
	}
	if existing, ok := f.objects[path]; ok {
		if sha256.Sum256(existing) == sha256.Sum256(data) {
			return content.PutAlreadyExists, nil
		}
		return content.PutConflict, nil
	}
	f.objects[path] = data
	return content.PutSuccess, nil
}

func (f *fakeContentStore) Delete(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls = append(f.deleteCalls, path)
	delete(f.objects, path)
	return nil
}

// fakeIndexer records index notifications and optionally fails them.
type fakeIndexer struct {
	mu      sync.Mutex
	indexed []string
	err     error
}

func (f *fakeIndexer) Index(ctx context.Context, pkg *model.Package) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.indexed = append(f.indexed, metaKey(pkg.ID, pkg.Version))
	return nil
}

// fakeSource serves canned upstream answers and counts downloads.
type fakeSource struct {
	mu            sync.Mutex
	archives      map[string][]byte
	versions      map[string][]*nuget.Version
	packages      map[string][]*model.Package
	downloadCalls int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		archives: make(map[string][]byte),
		versions: make(map[string][]*nuget.Version),
		packages: make(map[string][]*model.Package),
	}
}

func (f *fakeSource) ListVersions(ctx context.Context, id string) []*nuget.Version {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.versions[strings.ToLower(id)]
}

func (f *fakeSource) ListPackages(ctx context.Context, id string) []*model.Package {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.packages[strings.ToLower(id)]
}

func (f *fakeSource) DownloadOrNil(ctx context.Context, id string, version *nuget.Version) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloadCalls++
	return f.archives[metaKey(id, version)]
}

// buildNupkg assembles an in-memory package archive for the given id and
// version, with optional extra files.
func buildNupkg(t *testing.T, id, version string, extra map[string]string) []byte {
	t.Helper()
	nuspec := fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<package xmlns="http://schemas.microsoft.com/packaging/2013/05/nuspec.xsd">
  <metadata>
    <id>%s</id>
    <version>%s</version>
    <authors>Test Author</authors>
    <description>test package</description>
  </metadata>
</package>`, id, version)

	files := map[string]string{strings.ToLower(id) + ".nuspec": nuspec}
	for name, body := range extra {
		files[name] = body
	}

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, body := range files {
		entry, err := w.Create(name)
		if err != nil {
			t.Fatalf("failed to create zip entry %s: %v", name, err)
		}
		if _, err := entry.Write([]byte(body)); err != nil {
			t.Fatalf("failed to write zip entry %s: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close zip: %v", err)
	}
	return buf.Bytes()
}
