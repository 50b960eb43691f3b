// Package upstream provides a read-only client for a remote NuGet V3
// registry, consulted only on local cache misses. Network and parse
// failures are swallowed: from this server's perspective an unreachable
// upstream package is indistinguishable from a nonexistent one.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenk/backoff"
	"github.com/nougatpkg/nougat/internal/model"
	"github.com/nougatpkg/nougat/pkg/nuget"
	circuit "github.com/rubyist/circuitbreaker"
	"go.uber.org/zap"
)

// errNotFound marks a definitive upstream 404. Not retried, and does not
// count against the circuit breaker: an upstream answering "no such
// package" is healthy.
var errNotFound = errors.New("upstream: not found")

// errCircuitOpen short-circuits requests while the upstream is tripped.
var errCircuitOpen = errors.New("upstream: circuit open")

// Client reads package data from an upstream NuGet V3 feed. A circuit
// breaker makes a dead upstream fail fast instead of stalling every cache
// miss; while the circuit is open all answers are "upstream has nothing",
// which is exactly the degraded behavior the read path already tolerates.
type Client struct {
	baseURL    string
	httpClient *http.Client
	maxRetries uint64
	breaker    *circuit.Breaker
	logger     *zap.Logger
}

// NewClient creates a client for the feed rooted at baseURL. The breaker
// trips after 5 consecutive transport failures and probes again on an
// exponential schedule.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 30 * time.Second
	bo.MaxInterval = 5 * time.Minute
	bo.Multiplier = 2.0
	bo.Reset()

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: 3,
		breaker: circuit.NewBreakerWithOptions(&circuit.Options{
			BackOff:    bo,
			ShouldTrip: circuit.ThresholdTripFunc(5),
		}),
		logger: logger,
	}
}

// ListVersions returns every version the upstream has for the id. An
// upstream failure returns an empty list, never an error the caller must
// handle.
func (c *Client) ListVersions(ctx context.Context, id string) []*nuget.Version {
	url := fmt.Sprintf("%s/v3-flatcontainer/%s/index.json", c.baseURL, strings.ToLower(id))

	body, err := c.get(ctx, url)
	if err != nil {
		c.logUpstreamMiss("list versions", id, err)
		return nil
	}

	var index struct {
		Versions []string `json:"versions"`
	}
	if err := json.Unmarshal(body, &index); err != nil {
		c.logUpstreamMiss("decode version index", id, err)
		return nil
	}

	var versions []*nuget.Version
	for _, raw := range index.Versions {
		v, err := nuget.ParseVersion(raw)
		if err != nil {
			continue
		}
		versions = append(versions, v)
	}
	return versions
}

// ListPackages returns metadata for every version the upstream has for the
// id, via the registration index. Failures yield an empty list.
func (c *Client) ListPackages(ctx context.Context, id string) []*model.Package {
	url := fmt.Sprintf("%s/v3/registration/%s/index.json", c.baseURL, strings.ToLower(id))

	body, err := c.get(ctx, url)
	if err != nil {
		c.logUpstreamMiss("list packages", id, err)
		return nil
	}

	var index registrationIndex
	if err := json.Unmarshal(body, &index); err != nil {
		c.logUpstreamMiss("decode registration index", id, err)
		return nil
	}

	var packages []*model.Package
	for _, page := range index.Pages {
		items := page.Items
		if len(items) == 0 && page.URL != "" {
			// Paged registration: the page items live behind another fetch.
			items = c.fetchPage(ctx, page.URL)
		}
		for _, item := range items {
			pkg := item.CatalogEntry.toPackage()
			if pkg != nil {
				packages = append(packages, pkg)
			}
		}
	}
	return packages
}

// DownloadOrNil fetches the package archive, or nil when the upstream does
// not have it (or cannot be reached).
func (c *Client) DownloadOrNil(ctx context.Context, id string, version *nuget.Version) []byte {
	lowerID := strings.ToLower(id)
	lowerVersion := version.NormalizedLower()
	url := fmt.Sprintf("%s/v3-flatcontainer/%s/%s/%s.%s.nupkg",
		c.baseURL, lowerID, lowerVersion, lowerID, lowerVersion)

	body, err := c.get(ctx, url)
	if err != nil {
		c.logUpstreamMiss("download package", id, err)
		return nil
	}
	return body
}

// get fetches a URL with exponential-backoff retries on transient failures.
// 404 is definitive and not retried.
func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	if !c.breaker.Ready() {
		return nil, errCircuitOpen
	}

	var body []byte

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			body, err = io.ReadAll(resp.Body)
			return err
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(errNotFound)
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("upstream returned %d", resp.StatusCode)
		default:
			return backoff.Permanent(fmt.Errorf("upstream returned %d", resp.StatusCode))
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxElapsedTime = 30 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, c.maxRetries), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		if errors.Is(err, errNotFound) {
			c.breaker.Success()
		} else {
			c.breaker.Fail()
		}
		return nil, err
	}
	c.breaker.Success()
	return body, nil
}

func (c *Client) fetchPage(ctx context.Context, url string) []registrationItem {
	body, err := c.get(ctx, url)
	if err != nil {
		return nil
	}
	var page registrationPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil
	}
	return page.Items
}

func (c *Client) logUpstreamMiss(op, id string, err error) {
	if errors.Is(err, errNotFound) {
		c.logger.Debug("upstream has no package", zap.String("id", id))
		return
	}
	if errors.Is(err, errCircuitOpen) {
		c.logger.Debug("upstream circuit open, answering from local state only")
		return
	}
	c.logger.Warn("upstream request failed, treating as missing",
		zap.String("op", op),
		zap.String("id", id),
		zap.Error(err),
	)
}

type registrationIndex struct {
	Pages []registrationPage `json:"items"`
}

type registrationPage struct {
	URL   string             `json:"@id"`
	Items []registrationItem `json:"items"`
}

type registrationItem struct {
	CatalogEntry catalogEntry `json:"catalogEntry"`
}

type catalogEntry struct {
	ID               string `json:"id"`
	Version          string `json:"version"`
	Authors          string `json:"authors"`
	Description      string `json:"description"`
	IconURL          string `json:"iconUrl"`
	LicenseURL       string `json:"licenseUrl"`
	ProjectURL       string `json:"projectUrl"`
	Listed           *bool  `json:"listed"`
	Published        string `json:"published"`
	Summary          string `json:"summary"`
	Tags             tags   `json:"tags"`
	DependencyGroups []struct {
		TargetFramework string `json:"targetFramework"`
		Dependencies    []struct {
			ID    string `json:"id"`
			Range string `json:"range"`
		} `json:"dependencies"`
	} `json:"dependencyGroups"`
}

// tags may be a single string or an array in registration documents.
type tags []string

func (t *tags) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*t = list
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	if single != "" {
		*t = strings.Fields(single)
	}
	return nil
}

func (e *catalogEntry) toPackage() *model.Package {
	v, err := nuget.ParseVersion(e.Version)
	if err != nil {
		return nil
	}

	listed := true
	if e.Listed != nil {
		listed = *e.Listed
	}

	pkg := &model.Package{
		ID:          e.ID,
		Version:     v,
		Description: e.Description,
		Summary:     e.Summary,
		IconURL:     e.IconURL,
		LicenseURL:  e.LicenseURL,
		ProjectURL:  e.ProjectURL,
		Listed:      listed,
		Tags:        e.Tags,
	}
	if e.Authors != "" {
		for _, a := range strings.Split(e.Authors, ",") {
			if a = strings.TrimSpace(a); a != "" {
				pkg.Authors = append(pkg.Authors, a)
			}
		}
	}
	if e.Published != "" {
		if t, err := time.Parse(time.RFC3339, e.Published); err == nil {
			pkg.Published = t
		}
	}
	for _, g := range e.DependencyGroups {
		if len(g.Dependencies) == 0 {
			pkg.Dependencies = append(pkg.Dependencies, model.Dependency{
				TargetFramework: g.TargetFramework,
			})
			continue
		}
		for _, d := range g.Dependencies {
			pkg.Dependencies = append(pkg.Dependencies, model.Dependency{
				ID:              d.ID,
				VersionRange:    d.Range,
				TargetFramework: g.TargetFramework,
			})
		}
	}
	return pkg
}
