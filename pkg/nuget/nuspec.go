package nuget

import (
	"encoding/xml"
	"fmt"
	"io"
)

// Nuspec is the parsed package manifest embedded in a nupkg.
type Nuspec struct {
	XMLName  xml.Name       `xml:"package"`
	Metadata NuspecMetadata `xml:"metadata"`
}

// NuspecMetadata holds the manifest's metadata element.
type NuspecMetadata struct {
	ID                       string `xml:"id"`
	Version                  string `xml:"version"`
	Title                    string `xml:"title"`
	Authors                  string `xml:"authors"`
	Description              string `xml:"description"`
	Summary                  string `xml:"summary"`
	ReleaseNotes             string `xml:"releaseNotes"`
	Language                 string `xml:"language"`
	Tags                     string `xml:"tags"`
	ProjectURL               string `xml:"projectUrl"`
	IconURL                  string `xml:"iconUrl"`
	Icon                     string `xml:"icon"`
	Readme                   string `xml:"readme"`
	LicenseURL               string `xml:"licenseUrl"`
	RequireLicenseAcceptance bool   `xml:"requireLicenseAcceptance"`
	MinClientVersion         string `xml:"minClientVersion,attr"`

	License      *NuspecLicense     `xml:"license"`
	Repository   *NuspecRepository  `xml:"repository"`
	Dependencies *NuspecDependencies `xml:"dependencies"`
	PackageTypes *NuspecPackageTypes `xml:"packageTypes"`
}

// NuspecLicense is the license element (expression or file reference).
type NuspecLicense struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

// NuspecRepository is the source repository element.
type NuspecRepository struct {
	URL  string `xml:"url,attr"`
	Type string `xml:"type,attr"`
}

// NuspecDependencies holds either flat dependencies or framework groups.
type NuspecDependencies struct {
	Dependencies []NuspecDependency      `xml:"dependency"`
	Groups       []NuspecDependencyGroup `xml:"group"`
}

// NuspecDependencyGroup is a set of dependencies scoped to one framework.
type NuspecDependencyGroup struct {
	TargetFramework string             `xml:"targetFramework,attr"`
	Dependencies    []NuspecDependency `xml:"dependency"`
}

// NuspecDependency is a single package dependency.
type NuspecDependency struct {
	ID      string `xml:"id,attr"`
	Version string `xml:"version,attr"`
}

// NuspecPackageTypes holds the declared package type tags.
type NuspecPackageTypes struct {
	Types []NuspecPackageType `xml:"packageType"`
}

// NuspecPackageType is one package type tag.
type NuspecPackageType struct {
	Name    string `xml:"name,attr"`
	Version string `xml:"version,attr"`
}

// ParseNuspec decodes a nuspec manifest from r.
func ParseNuspec(r io.Reader) (*Nuspec, error) {
	var spec Nuspec
	dec := xml.NewDecoder(r)
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("failed to decode nuspec: %w", err)
	}
	if spec.Metadata.ID == "" {
		return nil, fmt.Errorf("nuspec has no package id")
	}
	if spec.Metadata.Version == "" {
		return nil, fmt.Errorf("nuspec has no package version")
	}
	return &spec, nil
}
