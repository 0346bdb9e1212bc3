// SPDX-License-Identifier: MPL-2.0

// Package report submits test reports to a collection endpoint.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"time"

	"github.com/kiln-pm/kiln/internal/lifecycle"

	"github.com/charmbracelet/log"
)

const (
	defaultTimeout = 15 * time.Second
	maxErrorBody   = 4 << 10
)

// ErrRejected is returned when the endpoint answers with a non-2xx status.
var ErrRejected = errors.New("report rejected")

type (
	// Sink posts each report as JSON to a URL.
	Sink struct {
		url        string
		httpClient *http.Client
		userAgent  string
		host       string
		logger     *log.Logger
	}

	// Option configures a Sink.
	Option func(*Sink)

	// payload is the wire form of a report.
	payload struct {
		Artifact  string    `json:"artifact"`
		Version   string    `json:"version,omitempty"`
		Stage     string    `json:"stage"`
		Grade     string    `json:"grade"`
		Trail     []string  `json:"trail"`
		Platform  string    `json:"platform"`
		Submitter string    `json:"submitter,omitempty"`
		Time      time.Time `json:"time"`
	}
)

var _ lifecycle.ReportSink = (*Sink)(nil)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Sink) { s.httpClient = c }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(s *Sink) { s.userAgent = ua }
}

// WithSubmitter names the host in submitted reports.
func WithSubmitter(host string) Option {
	return func(s *Sink) { s.host = host }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Sink) { s.logger = l }
}

// New returns a sink posting to url.
func New(url string, opts ...Option) *Sink {
	s := &Sink{
		url:        url,
		httpClient: &http.Client{Timeout: defaultTimeout},
		userAgent:  "kiln",
		logger:     log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit posts r. The caller decides what to do with the error; the
// orchestrator only logs it.
func (s *Sink) Submit(ctx context.Context, r lifecycle.TestReport) error {
	body, err := json.Marshal(payload{
		Artifact:  r.Artifact,
		Version:   r.Version,
		Stage:     r.Stage.String(),
		Grade:     grade(r.Failed),
		Trail:     nonNil(r.Trail),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		Submitter: s.host,
		Time:      time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating report request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("submitting report: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%w: HTTP %d: %s", ErrRejected, resp.StatusCode, bytes.TrimSpace(msg))
	}
	s.logger.Debug("report submitted", "artifact", r.Artifact, "grade", grade(r.Failed))
	return nil
}

func grade(failed bool) string {
	if failed {
		return "fail"
	}
	return "pass"
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
