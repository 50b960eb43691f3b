package content

import (
	"fmt"
	"strings"

	"github.com/nougatpkg/nougat/pkg/nuget"
)

// Blob paths are a wire contract: the download surface and any previously
// stored data depend on this exact layout.
//
//	packages/{id}/{version}/{id}.{version}.nupkg
//
// with id and version lower-cased and the version normalized, plus sibling
// nuspec, readme, and icon entries.

// PackagePath returns the blob path of the package archive.
func PackagePath(id string, v *nuget.Version) string {
	lowerID, lowerVersion := lowered(id, v)
	return fmt.Sprintf("packages/%s/%s/%s.%s.nupkg", lowerID, lowerVersion, lowerID, lowerVersion)
}

// NuspecPath returns the blob path of the package manifest.
func NuspecPath(id string, v *nuget.Version) string {
	lowerID, lowerVersion := lowered(id, v)
	return fmt.Sprintf("packages/%s/%s/%s.nuspec", lowerID, lowerVersion, lowerID)
}

// ReadmePath returns the blob path of the embedded readme.
func ReadmePath(id string, v *nuget.Version) string {
	lowerID, lowerVersion := lowered(id, v)
	return fmt.Sprintf("packages/%s/%s/readme", lowerID, lowerVersion)
}

// IconPath returns the blob path of the embedded icon.
func IconPath(id string, v *nuget.Version) string {
	lowerID, lowerVersion := lowered(id, v)
	return fmt.Sprintf("packages/%s/%s/icon", lowerID, lowerVersion)
}

// AllPaths returns every artifact path owned by one package version.
func AllPaths(id string, v *nuget.Version) []string {
	return []string{
		PackagePath(id, v),
		NuspecPath(id, v),
		ReadmePath(id, v),
		IconPath(id, v),
	}
}

func lowered(id string, v *nuget.Version) (string, string) {
	return strings.ToLower(id), v.NormalizedLower()
}
