package model

import (
	"time"

	"github.com/nougatpkg/nougat/pkg/nuget"
)

// Package is the canonical record for one (id, version) pair.
type Package struct {
	ID      string
	Version *nuget.Version

	Title        string
	Authors      []string
	Description  string
	Summary      string
	ReleaseNotes string
	Language     string
	Tags         []string

	Listed    bool
	Downloads int64
	Published time.Time

	HasReadme       bool
	HasEmbeddedIcon bool

	RequireLicenseAcceptance bool
	MinClientVersion         string

	IconURL        string
	LicenseURL     string
	ProjectURL     string
	RepositoryURL  string
	RepositoryType string

	Dependencies     []Dependency
	PackageTypes     []PackageType
	TargetFrameworks []string
}

// Dependency is one entry of a package's dependency list. A framework group
// with no dependencies is kept as a single entry with empty ID and
// VersionRange so the group itself is not lost.
type Dependency struct {
	ID              string
	VersionRange    string
	TargetFramework string
}

// PackageType is a descriptive package type tag.
type PackageType struct {
	Name    string
	Version string
}

// DBPackage is a package row as stored in the database. Child rows hold
// the dependency, type, and framework lists.
type DBPackage struct {
	Key               int64     `db:"key"`
	ID                string    `db:"id"`
	NormalizedVersion string    `db:"normalized_version"`
	OriginalVersion   string    `db:"original_version"`
	Title             string    `db:"title"`
	Authors           string    `db:"authors"`
	Description       string    `db:"description"`
	Summary           string    `db:"summary"`
	ReleaseNotes      string    `db:"release_notes"`
	Language          string    `db:"language"`
	Tags              string    `db:"tags"`
	Listed            int       `db:"listed"`
	Downloads         int64     `db:"downloads"`
	Published         time.Time `db:"published"`
	HasReadme         int       `db:"has_readme"`
	HasEmbeddedIcon   int       `db:"has_embedded_icon"`
	RequireLicenseAcceptance int `db:"require_license_acceptance"`
	MinClientVersion  string    `db:"min_client_version"`
	IconURL           string    `db:"icon_url"`
	LicenseURL        string    `db:"license_url"`
	ProjectURL        string    `db:"project_url"`
	RepositoryURL     string    `db:"repository_url"`
	RepositoryType    string    `db:"repository_type"`
	RowVersion        int64     `db:"row_version"`
}

// Schema contains the SQL schema for the database.
const Schema = `
CREATE TABLE IF NOT EXISTS packages (
    key INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL,
    normalized_version TEXT NOT NULL,
    original_version TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    authors TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    summary TEXT NOT NULL DEFAULT '',
    release_notes TEXT NOT NULL DEFAULT '',
    language TEXT NOT NULL DEFAULT '',
    tags TEXT NOT NULL DEFAULT '',
    listed INTEGER NOT NULL DEFAULT 1,
    downloads INTEGER NOT NULL DEFAULT 0,
    published TIMESTAMP NOT NULL,
    has_readme INTEGER NOT NULL DEFAULT 0,
    has_embedded_icon INTEGER NOT NULL DEFAULT 0,
    require_license_acceptance INTEGER NOT NULL DEFAULT 0,
    min_client_version TEXT NOT NULL DEFAULT '',
    icon_url TEXT NOT NULL DEFAULT '',
    license_url TEXT NOT NULL DEFAULT '',
    project_url TEXT NOT NULL DEFAULT '',
    repository_url TEXT NOT NULL DEFAULT '',
    repository_type TEXT NOT NULL DEFAULT '',
    row_version INTEGER NOT NULL DEFAULT 0,
    UNIQUE(id COLLATE NOCASE, normalized_version)
);

CREATE TABLE IF NOT EXISTS package_dependencies (
    key INTEGER PRIMARY KEY AUTOINCREMENT,
    package_key INTEGER NOT NULL,
    ordinal INTEGER NOT NULL,
    dependency_id TEXT NOT NULL DEFAULT '',
    version_range TEXT NOT NULL DEFAULT '',
    target_framework TEXT NOT NULL DEFAULT '',
    FOREIGN KEY (package_key) REFERENCES packages(key) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS package_types (
    key INTEGER PRIMARY KEY AUTOINCREMENT,
    package_key INTEGER NOT NULL,
    ordinal INTEGER NOT NULL,
    name TEXT NOT NULL,
    version TEXT NOT NULL DEFAULT '',
    FOREIGN KEY (package_key) REFERENCES packages(key) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS target_frameworks (
    key INTEGER PRIMARY KEY AUTOINCREMENT,
    package_key INTEGER NOT NULL,
    ordinal INTEGER NOT NULL,
    moniker TEXT NOT NULL,
    FOREIGN KEY (package_key) REFERENCES packages(key) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_packages_id ON packages(id COLLATE NOCASE);
CREATE INDEX IF NOT EXISTS idx_dependencies_package ON package_dependencies(package_key);
CREATE INDEX IF NOT EXISTS idx_types_package ON package_types(package_key);
CREATE INDEX IF NOT EXISTS idx_frameworks_package ON target_frameworks(package_key);
`
