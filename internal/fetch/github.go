// SPDX-License-Identifier: MPL-2.0

package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

const (
	defaultGitHubAPI = "https://api.github.com"
	releasesPerPage  = 30
	maxReleasePages  = 3
	// maxJSONBytes caps API response bodies at 10 MB.
	maxJSONBytes = 10 << 20

	// releaseChecksumsAsset is the digest list published with a release.
	releaseChecksumsAsset = "checksums.txt"
)

var (
	// ErrReleaseNotFound is returned when a release tag does not exist.
	ErrReleaseNotFound = errors.New("release not found")
	// ErrNoArchiveAsset is returned when a release carries no archive kiln can extract.
	ErrNoArchiveAsset = errors.New("release has no archive asset")

	archiveSuffixes = []string{".tar.gz", ".tgz", ".tar.zst", ".tzst", ".tar", ".zip"}
)

type (
	// RateLimitError is returned when the GitHub API quota is exhausted.
	RateLimitError struct {
		Limit   int
		ResetAt time.Time
	}

	// Release is a published GitHub release.
	Release struct {
		TagName    string
		Prerelease bool
		Draft      bool
		Assets     []Asset
	}

	// Asset is one downloadable file of a release.
	Asset struct {
		Name               string
		BrowserDownloadURL string
		Size               int64
	}

	githubRelease struct {
		TagName    string        `json:"tag_name"`
		Prerelease bool          `json:"prerelease"`
		Draft      bool          `json:"draft"`
		Assets     []githubAsset `json:"assets"`
	}

	githubAsset struct {
		Name               string `json:"name"`
		BrowserDownloadURL string `json:"browser_download_url"`
		Size               int64  `json:"size"`
	}

	// GitHubClient reads releases from the GitHub REST API.
	GitHubClient struct {
		httpClient *http.Client
		baseURL    string
		token      string
		userAgent  string
	}
)

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("GitHub API rate limit of %d exceeded, resets at %s",
		e.Limit, e.ResetAt.UTC().Format("15:04 UTC"))
}

// NewGitHubClient creates a client. An empty baseURL targets api.github.com.
func NewGitHubClient(httpClient *http.Client, baseURL, token, userAgent string) *GitHubClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if baseURL == "" {
		baseURL = defaultGitHubAPI
	}
	return &GitHubClient{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		userAgent:  userAgent,
	}
}

// LatestRelease returns the highest stable release of owner/repo.
func (c *GitHubClient) LatestRelease(ctx context.Context, owner, repo string) (*Release, error) {
	pageURL := fmt.Sprintf("%s/repos/%s/%s/releases?per_page=%d", c.baseURL, owner, repo, releasesPerPage)

	var stable []Release
	for page := 0; page < maxReleasePages && pageURL != ""; page++ {
		var raw []githubRelease
		next, err := c.getJSON(ctx, pageURL, &raw)
		if err != nil {
			return nil, fmt.Errorf("listing releases of %s/%s: %w", owner, repo, err)
		}
		for _, gr := range raw {
			if !gr.Draft && !gr.Prerelease {
				stable = append(stable, toRelease(gr))
			}
		}
		pageURL = next
	}
	if len(stable) == 0 {
		return nil, fmt.Errorf("%s/%s: %w", owner, repo, ErrReleaseNotFound)
	}
	slices.SortStableFunc(stable, func(a, b Release) int {
		return semver.Compare(b.TagName, a.TagName)
	})
	return &stable[0], nil
}

// ReleaseByTag returns the release tagged tag.
func (c *GitHubClient) ReleaseByTag(ctx context.Context, owner, repo, tag string) (*Release, error) {
	var gr githubRelease
	_, err := c.getJSON(ctx, fmt.Sprintf("%s/repos/%s/%s/releases/tags/%s", c.baseURL, owner, repo, url.PathEscape(tag)), &gr)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%s/%s@%s: %w", owner, repo, tag, ErrReleaseNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting release %s: %w", tag, err)
	}
	r := toRelease(gr)
	return &r, nil
}

// Release resolves src to a release; an empty tag means the latest.
func (c *GitHubClient) Release(ctx context.Context, src Source) (*Release, error) {
	if src.Tag == "" {
		return c.LatestRelease(ctx, src.Owner, src.Repo)
	}
	return c.ReleaseByTag(ctx, src.Owner, src.Repo, src.Tag)
}

// Download opens an asset URL. The caller closes the body.
func (c *GitHubClient) Download(ctx context.Context, assetURL string) (io.ReadCloser, error) {
	resp, err := c.do(ctx, assetURL, "application/octet-stream")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("downloading %s: unexpected status %d", redactURL(assetURL), resp.StatusCode)
	}
	return resp.Body, nil
}

// getJSON decodes one API response into v and returns the next page URL.
func (c *GitHubClient) getJSON(ctx context.Context, reqURL string, v any) (string, error) {
	resp, err := c.do(ctx, reqURL, "application/vnd.github+json")
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := checkRateLimit(resp); err != nil {
		return "", err
	}
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return "", ErrNotFound
	default:
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJSONBytes)).Decode(v); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	return parseLinkHeader(resp.Header.Get("Link")), nil
}

func (c *GitHubClient) do(ctx context.Context, reqURL, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	// The token only goes to GitHub hosts, never to a CDN an asset redirects to.
	if c.token != "" && isGitHubHost(req.URL, c.baseURL) {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", redactURL(reqURL), err)
	}
	return resp, nil
}

// checkRateLimit turns an exhausted X-RateLimit-Remaining into a RateLimitError.
func checkRateLimit(resp *http.Response) error {
	rem, err := strconv.Atoi(resp.Header.Get("X-RateLimit-Remaining"))
	if err != nil || rem > 0 {
		return nil //nolint:nilerr // absent or malformed headers are not a limit
	}
	limit, _ := strconv.Atoi(resp.Header.Get("X-RateLimit-Limit"))                 //nolint:errcheck // diagnostic only
	resetUnix, _ := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64) //nolint:errcheck // diagnostic only
	return &RateLimitError{Limit: limit, ResetAt: time.Unix(resetUnix, 0)}
}

// parseLinkHeader returns the rel="next" URL of a Link header, if any.
func parseLinkHeader(header string) string {
	for part := range strings.SplitSeq(header, ",") {
		if !strings.Contains(part, `rel="next"`) {
			continue
		}
		start, end := strings.Index(part, "<"), strings.Index(part, ">")
		if start >= 0 && end > start {
			return part[start+1 : end]
		}
	}
	return ""
}

func toRelease(gr githubRelease) Release {
	assets := make([]Asset, 0, len(gr.Assets))
	for _, ga := range gr.Assets {
		assets = append(assets, Asset(ga))
	}
	return Release{TagName: gr.TagName, Prerelease: gr.Prerelease, Draft: gr.Draft, Assets: assets}
}

// Asset returns the named asset.
func (r *Release) Asset(name string) (Asset, bool) {
	for _, a := range r.Assets {
		if a.Name == name {
			return a, true
		}
	}
	return Asset{}, false
}

// ArchiveFor picks the archive asset for artifact name: the first archive
// whose file name starts with name, else the first archive at all.
func (r *Release) ArchiveFor(name string) (Asset, error) {
	var first *Asset
	for i, a := range r.Assets {
		if !isArchive(a.Name) {
			continue
		}
		if strings.HasPrefix(a.Name, name) {
			return a, nil
		}
		if first == nil {
			first = &r.Assets[i]
		}
	}
	if first == nil {
		return Asset{}, fmt.Errorf("%s: %w", r.TagName, ErrNoArchiveAsset)
	}
	return *first, nil
}

func isArchive(name string) bool {
	for _, s := range archiveSuffixes {
		if strings.HasSuffix(name, s) {
			return true
		}
	}
	return false
}

// isGitHubHost reports whether reqURL targets the configured API host, or
// github.com when the API is api.github.com.
func isGitHubHost(reqURL *url.URL, baseURL string) bool {
	base, err := url.Parse(baseURL)
	if err != nil {
		return false
	}
	if strings.EqualFold(reqURL.Host, base.Host) {
		return true
	}
	return strings.EqualFold(base.Host, "api.github.com") && strings.EqualFold(reqURL.Host, "github.com")
}
