package nuget

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"
)

// PackageReader reads a nupkg archive: the nuspec manifest plus any
// embedded readme and icon files the manifest declares.
type PackageReader struct {
	zr     *zip.Reader
	nuspec *Nuspec
}

// OpenReader opens a nupkg from its raw bytes. Corrupt archives and
// archives without exactly one root-level nuspec fail here.
func OpenReader(data []byte) (*PackageReader, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open package archive: %w", err)
	}

	r := &PackageReader{zr: zr}

	f := r.findNuspec()
	if f == nil {
		return nil, fmt.Errorf("package has no nuspec manifest")
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open nuspec: %w", err)
	}
	defer rc.Close()

	spec, err := ParseNuspec(rc)
	if err != nil {
		return nil, err
	}
	r.nuspec = spec

	return r, nil
}

// Nuspec returns the parsed manifest.
func (r *PackageReader) Nuspec() *Nuspec {
	return r.nuspec
}

// NuspecBytes returns the raw manifest document.
func (r *PackageReader) NuspecBytes() ([]byte, error) {
	f := r.findNuspec()
	if f == nil {
		return nil, fmt.Errorf("package has no nuspec manifest")
	}
	return readZipFile(f)
}

// Readme returns the embedded readme declared by the manifest, or nil if
// the manifest declares none.
func (r *PackageReader) Readme() ([]byte, error) {
	return r.declaredFile(r.nuspec.Metadata.Readme, "readme")
}

// Icon returns the embedded icon declared by the manifest, or nil if the
// manifest declares none.
func (r *PackageReader) Icon() ([]byte, error) {
	return r.declaredFile(r.nuspec.Metadata.Icon, "icon")
}

// TargetFrameworks returns the frameworks the package targets, in manifest
// order, derived from its dependency groups. Packages with no framework
// groups target "any".
func (r *PackageReader) TargetFrameworks() []string {
	var frameworks []string
	seen := make(map[string]bool)
	if deps := r.nuspec.Metadata.Dependencies; deps != nil {
		for _, g := range deps.Groups {
			tf := strings.ToLower(g.TargetFramework)
			if tf == "" || seen[tf] {
				continue
			}
			seen[tf] = true
			frameworks = append(frameworks, tf)
		}
	}
	if len(frameworks) == 0 {
		frameworks = []string{"any"}
	}
	return frameworks
}

func (r *PackageReader) findNuspec() *zip.File {
	for _, f := range r.zr.File {
		name := f.Name
		// The manifest lives at the archive root.
		if strings.Contains(name, "/") || strings.Contains(name, "\\") {
			continue
		}
		if strings.EqualFold(path.Ext(name), ".nuspec") {
			return f
		}
	}
	return nil
}

func (r *PackageReader) declaredFile(declared, kind string) ([]byte, error) {
	if declared == "" {
		return nil, nil
	}
	want := normalizeZipPath(declared)
	for _, f := range r.zr.File {
		if normalizeZipPath(f.Name) == want {
			return readZipFile(f)
		}
	}
	return nil, fmt.Errorf("declared %s %q not found in package", kind, declared)
}

// normalizeZipPath folds case and separator differences; nuspec entries are
// frequently authored with backslashes.
func normalizeZipPath(p string) string {
	return strings.ToLower(strings.ReplaceAll(p, "\\", "/"))
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", f.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.Name, err)
	}
	return data, nil
}
