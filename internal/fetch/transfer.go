// SPDX-License-Identifier: MPL-2.0

package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when a location does not exist.
var ErrNotFound = errors.New("not found")

// transfer reads locations that are either http(s) URLs, file URLs or
// local paths.
type transfer struct {
	httpClient *http.Client
	userAgent  string
}

func isURL(loc string) bool {
	return strings.HasPrefix(loc, "http://") || strings.HasPrefix(loc, "https://") || strings.HasPrefix(loc, "file://")
}

// join appends a slash-separated path to a mirror base, which may be a URL
// or a directory.
func join(base, rel string) string {
	if isURL(base) {
		return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(rel, "/")
	}
	return filepath.Join(base, filepath.FromSlash(rel))
}

func (t *transfer) open(ctx context.Context, loc string) (io.ReadCloser, error) {
	if strings.HasPrefix(loc, "file://") {
		u, err := url.Parse(loc)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", loc, err)
		}
		loc = u.Path
	}
	if !isURL(loc) {
		f, err := os.Open(loc)
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", loc, ErrNotFound)
		}
		return f, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loc, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if t.userAgent != "" {
		req.Header.Set("User-Agent", t.userAgent)
	}
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", redactURL(loc), err)
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return resp.Body, nil
	case http.StatusNotFound, http.StatusGone:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("GET %s: %w", redactURL(loc), ErrNotFound)
	default:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("GET %s: unexpected status %d", redactURL(loc), resp.StatusCode)
	}
}

// download writes loc to dir/name through a temp file so a failed transfer
// never leaves a partial archive under the final name.
func (t *transfer) download(ctx context.Context, loc, dir, name string) (_ string, err error) {
	body, err := t.open(ctx, loc)
	if err != nil {
		return "", err
	}
	defer func() { _ = body.Close() }()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating download dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".kiln-download-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = io.Copy(tmp, body); err != nil {
		return "", fmt.Errorf("writing %s: %w", name, err)
	}
	if err = tmp.Close(); err != nil {
		return "", err
	}
	dest := filepath.Join(dir, name)
	if err = os.Rename(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("placing %s: %w", name, err)
	}
	return dest, nil
}

// redactURL strips query parameters and fragments so tokens never reach logs.
func redactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid-url>"
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
