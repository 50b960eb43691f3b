package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/mattn/go-sqlite3"
	"github.com/nougatpkg/nougat/internal/model"
	"github.com/nougatpkg/nougat/pkg/nuget"
	"go.uber.org/zap"
)

// downloadRetries bounds the optimistic-concurrency retry loop for the
// download counter.
const downloadRetries = 5

// SQLiteStore implements the metadata store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSQLiteStore opens (or creates) the database under dataPath.
func NewSQLiteStore(dataPath string, logger *zap.Logger) (*SQLiteStore, error) {
	dbPath := filepath.Join(dataPath, "nougat.db")
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(model.Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Add inserts the package record and its child rows in one transaction. A
// unique-index violation on (id, normalized version) is translated into
// AddPackageAlreadyExists.
func (s *SQLiteStore) Add(ctx context.Context, pkg *model.Package) (AddResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return AddSuccess, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO packages (
			id, normalized_version, original_version, title, authors,
			description, summary, release_notes, language, tags, listed,
			downloads, published, has_readme, has_embedded_icon,
			require_license_acceptance, min_client_version, icon_url,
			license_url, project_url, repository_url, repository_type,
			row_version
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
		RETURNING key
	`

	var key int64
	err = tx.QueryRowContext(
		ctx,
		query,
		pkg.ID,
		pkg.Version.NormalizedLower(),
		pkg.Version.String(),
		pkg.Title,
		joinList(pkg.Authors),
		pkg.Description,
		pkg.Summary,
		pkg.ReleaseNotes,
		pkg.Language,
		joinList(pkg.Tags),
		boolToInt(pkg.Listed),
		pkg.Published,
		boolToInt(pkg.HasReadme),
		boolToInt(pkg.HasEmbeddedIcon),
		boolToInt(pkg.RequireLicenseAcceptance),
		pkg.MinClientVersion,
		pkg.IconURL,
		pkg.LicenseURL,
		pkg.ProjectURL,
		pkg.RepositoryURL,
		pkg.RepositoryType,
	).Scan(&key)

	if err != nil {
		if isUniqueViolation(err) {
			return AddPackageAlreadyExists, nil
		}
		return AddSuccess, fmt.Errorf("failed to add package: %w", err)
	}

	for i, dep := range pkg.Dependencies {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO package_dependencies (package_key, ordinal, dependency_id, version_range, target_framework)
			VALUES (?, ?, ?, ?, ?)`,
			key, i, dep.ID, dep.VersionRange, dep.TargetFramework,
		)
		if err != nil {
			return AddSuccess, fmt.Errorf("failed to add dependency: %w", err)
		}
	}
	for i, pt := range pkg.PackageTypes {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO package_types (package_key, ordinal, name, version)
			VALUES (?, ?, ?, ?)`,
			key, i, pt.Name, pt.Version,
		)
		if err != nil {
			return AddSuccess, fmt.Errorf("failed to add package type: %w", err)
		}
	}
	for i, tf := range pkg.TargetFrameworks {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO target_frameworks (package_key, ordinal, moniker)
			VALUES (?, ?, ?)`,
			key, i, tf,
		)
		if err != nil {
			return AddSuccess, fmt.Errorf("failed to add target framework: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return AddPackageAlreadyExists, nil
		}
		return AddSuccess, fmt.Errorf("failed to commit package: %w", err)
	}
	return AddSuccess, nil
}

// Exists reports whether any version of the package is stored.
func (s *SQLiteStore) Exists(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM packages WHERE id = ? COLLATE NOCASE`, id,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check package existence: %w", err)
	}
	return n > 0, nil
}

// ExistsVersion reports whether the exact (id, version) is stored.
func (s *SQLiteStore) ExistsVersion(ctx context.Context, id string, version *nuget.Version) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM packages WHERE id = ? COLLATE NOCASE AND normalized_version = ?`,
		id, version.NormalizedLower(),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check version existence: %w", err)
	}
	return n > 0, nil
}

// Find returns all stored versions of a package.
func (s *SQLiteStore) Find(ctx context.Context, id string, includeUnlisted bool) ([]*model.Package, error) {
	query := selectPackage + ` WHERE id = ? COLLATE NOCASE`
	if !includeUnlisted {
		query += ` AND listed = 1`
	}
	query += ` ORDER BY key`

	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query packages: %w", err)
	}
	defer rows.Close()

	var packages []*model.Package
	var keys []int64
	for rows.Next() {
		pkg, key, err := scanPackage(rows)
		if err != nil {
			return nil, err
		}
		packages = append(packages, pkg)
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, pkg := range packages {
		if err := s.loadChildren(ctx, keys[i], pkg); err != nil {
			return nil, err
		}
	}
	return packages, nil
}

// FindVersion returns the record for (id, version), or nil if absent.
func (s *SQLiteStore) FindVersion(ctx context.Context, id string, version *nuget.Version, includeUnlisted bool) (*model.Package, error) {
	query := selectPackage + ` WHERE id = ? COLLATE NOCASE AND normalized_version = ?`
	if !includeUnlisted {
		query += ` AND listed = 1`
	}

	rows, err := s.db.QueryContext(ctx, query, id, version.NormalizedLower())
	if err != nil {
		return nil, fmt.Errorf("failed to query package: %w", err)
	}

	if !rows.Next() {
		err := rows.Err()
		rows.Close()
		return nil, err
	}
	pkg, key, err := scanPackage(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	if err := s.loadChildren(ctx, key, pkg); err != nil {
		return nil, err
	}
	return pkg, nil
}

// Unlist hides the version from default listings.
func (s *SQLiteStore) Unlist(ctx context.Context, id string, version *nuget.Version) (bool, error) {
	return s.setListed(ctx, id, version, false)
}

// Relist restores default-listing visibility.
func (s *SQLiteStore) Relist(ctx context.Context, id string, version *nuget.Version) (bool, error) {
	return s.setListed(ctx, id, version, true)
}

func (s *SQLiteStore) setListed(ctx context.Context, id string, version *nuget.Version, listed bool) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE packages SET listed = ?, row_version = row_version + 1
		 WHERE id = ? COLLATE NOCASE AND normalized_version = ?`,
		boolToInt(listed), id, version.NormalizedLower(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to update listing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// AddDownload increments the download counter with a bounded
// read-modify-write loop keyed on the row version. After downloadRetries
// lost races it gives up silently; download counts are a best-effort
// metric, not a ledger.
func (s *SQLiteStore) AddDownload(ctx context.Context, id string, version *nuget.Version) error {
	for attempt := 0; attempt < downloadRetries; attempt++ {
		var key, downloads, rowVersion int64
		err := s.db.QueryRowContext(ctx,
			`SELECT key, downloads, row_version FROM packages
			 WHERE id = ? COLLATE NOCASE AND normalized_version = ?`,
			id, version.NormalizedLower(),
		).Scan(&key, &downloads, &rowVersion)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read download count: %w", err)
		}

		res, err := s.db.ExecContext(ctx,
			`UPDATE packages SET downloads = ?, row_version = ?
			 WHERE key = ? AND row_version = ?`,
			downloads+1, rowVersion+1, key, rowVersion,
		)
		if err != nil {
			return fmt.Errorf("failed to update download count: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		if n > 0 {
			return nil
		}
	}

	s.logger.Debug("gave up incrementing download count",
		zap.String("id", id),
		zap.String("version", version.NormalizedLower()),
	)
	return nil
}

// HardDelete removes the record; child rows go with it via cascade.
func (s *SQLiteStore) HardDelete(ctx context.Context, id string, version *nuget.Version) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM packages WHERE id = ? COLLATE NOCASE AND normalized_version = ?`,
		id, version.NormalizedLower(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete package: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// Search returns listed packages matching the query by id or description.
func (s *SQLiteStore) Search(ctx context.Context, query string, skip, take int) ([]*model.Package, error) {
	if take <= 0 {
		take = 20
	}
	pattern := "%" + query + "%"
	rows, err := s.db.QueryContext(ctx,
		selectPackage+` WHERE listed = 1 AND (id LIKE ? OR description LIKE ?)
		 ORDER BY downloads DESC, key DESC LIMIT ? OFFSET ?`,
		pattern, pattern, take, skip,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search packages: %w", err)
	}

	var packages []*model.Package
	var keys []int64
	for rows.Next() {
		pkg, key, err := scanPackage(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		packages = append(packages, pkg)
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i, pkg := range packages {
		if err := s.loadChildren(ctx, keys[i], pkg); err != nil {
			return nil, err
		}
	}
	return packages, nil
}

const selectPackage = `
	SELECT key, id, normalized_version, original_version, title, authors,
	       description, summary, release_notes, language, tags, listed,
	       downloads, published, has_readme, has_embedded_icon,
	       require_license_acceptance, min_client_version, icon_url,
	       license_url, project_url, repository_url, repository_type
	FROM packages`

func scanPackage(rows *sql.Rows) (*model.Package, int64, error) {
	var (
		row    model.DBPackage
		pkg    model.Package
		rawVer string
	)
	err := rows.Scan(
		&row.Key, &pkg.ID, &row.NormalizedVersion, &rawVer, &pkg.Title,
		&row.Authors, &pkg.Description, &pkg.Summary, &pkg.ReleaseNotes,
		&pkg.Language, &row.Tags, &row.Listed, &pkg.Downloads,
		&pkg.Published, &row.HasReadme, &row.HasEmbeddedIcon,
		&row.RequireLicenseAcceptance, &pkg.MinClientVersion, &pkg.IconURL,
		&pkg.LicenseURL, &pkg.ProjectURL, &pkg.RepositoryURL,
		&pkg.RepositoryType,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to scan package: %w", err)
	}

	v, err := nuget.ParseVersion(rawVer)
	if err != nil {
		return nil, 0, fmt.Errorf("stored version %q is invalid: %w", rawVer, err)
	}
	pkg.Version = v
	pkg.Authors = splitList(row.Authors)
	pkg.Tags = splitList(row.Tags)
	pkg.Listed = row.Listed != 0
	pkg.HasReadme = row.HasReadme != 0
	pkg.HasEmbeddedIcon = row.HasEmbeddedIcon != 0
	pkg.RequireLicenseAcceptance = row.RequireLicenseAcceptance != 0
	return &pkg, row.Key, nil
}

func (s *SQLiteStore) loadChildren(ctx context.Context, key int64, pkg *model.Package) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT dependency_id, version_range, target_framework
		 FROM package_dependencies WHERE package_key = ? ORDER BY ordinal`, key)
	if err != nil {
		return fmt.Errorf("failed to query dependencies: %w", err)
	}
	for rows.Next() {
		var dep model.Dependency
		if err := rows.Scan(&dep.ID, &dep.VersionRange, &dep.TargetFramework); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan dependency: %w", err)
		}
		pkg.Dependencies = append(pkg.Dependencies, dep)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT name, version FROM package_types WHERE package_key = ? ORDER BY ordinal`, key)
	if err != nil {
		return fmt.Errorf("failed to query package types: %w", err)
	}
	for rows.Next() {
		var pt model.PackageType
		if err := rows.Scan(&pt.Name, &pt.Version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan package type: %w", err)
		}
		pkg.PackageTypes = append(pkg.PackageTypes, pt)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT moniker FROM target_frameworks WHERE package_key = ? ORDER BY ordinal`, key)
	if err != nil {
		return fmt.Errorf("failed to query target frameworks: %w", err)
	}
	for rows.Next() {
		var tf string
		if err := rows.Scan(&tf); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan target framework: %w", err)
		}
		pkg.TargetFrameworks = append(pkg.TargetFrameworks, tf)
	}
	defer rows.Close()
	return rows.Err()
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
		se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func joinList(items []string) string {
	return strings.Join(items, ",")
}

func splitList(s string) []string {
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
