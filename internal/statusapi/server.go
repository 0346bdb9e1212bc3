// SPDX-License-Identifier: MPL-2.0

// Package statusapi serves a read-only HTTP view of the catalog, the
// pipeline status cache and the installed index.
package statusapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/kiln-pm/kiln/internal/lifecycle"
	"github.com/kiln-pm/kiln/pkg/version"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

type (
	// Catalog is the artifact source listed by the API.
	Catalog interface {
		All() []*lifecycle.Artifact
		Lookup(name string) (*lifecycle.Artifact, bool)
	}

	// StatusReader returns a consistent copy of an artifact's status.
	StatusReader interface {
		Snapshot(ctx context.Context, a *lifecycle.Artifact) (lifecycle.Status, bool)
	}

	// Installed reports installed versions.
	Installed interface {
		InstalledVersion(name string) (version.Version, bool)
	}

	// Server wires the routes onto a gin engine.
	Server struct {
		engine   *gin.Engine
		catalog  Catalog
		status   StatusReader
		index    Installed
		gatherer prometheus.Gatherer
		logger   *log.Logger
	}

	// Option configures a Server.
	Option func(*Server)

	artifactView struct {
		Name             string      `json:"name"`
		Version          string      `json:"version,omitempty"`
		PackageID        string      `json:"package_id"`
		Origin           string      `json:"origin,omitempty"`
		Description      string      `json:"description,omitempty"`
		Author           string      `json:"author,omitempty"`
		Bundle           bool        `json:"bundle,omitempty"`
		Core             bool        `json:"core,omitempty"`
		InstalledVersion string      `json:"installed_version,omitempty"`
		Status           *statusView `json:"status,omitempty"`
	}

	statusView struct {
		Installer string            `json:"installer"`
		Fetched   string            `json:"fetched,omitempty"`
		Extracted string            `json:"extracted,omitempty"`
		Checksum  string            `json:"checksum"`
		Signature string            `json:"signature"`
		Prepared  bool              `json:"prepared"`
		Created   bool              `json:"created"`
		Tested    string            `json:"tested"`
		Installed bool              `json:"installed"`
		Prereqs   map[string]string `json:"prereqs,omitempty"`
		Overrides map[string]string `json:"overrides,omitempty"`
		Warnings  []string          `json:"warnings,omitempty"`
		Trail     []string          `json:"trail,omitempty"`
	}
)

// WithGatherer exposes g on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithLogger sets the request logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New builds the server. status and index may be nil.
func New(catalog Catalog, status StatusReader, index Installed, opts ...Option) *Server {
	s := &Server{
		catalog: catalog,
		status:  status,
		index:   index,
		logger:  log.New(io.Discard),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.engine = gin.New()
	s.engine.Use(gin.Recovery(), s.requestLog())
	s.engine.GET("/healthz", s.healthz)
	s.engine.GET("/artifacts", s.listArtifacts)
	s.engine.GET("/artifacts/:name", s.getArtifact)
	if s.gatherer != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves on addr until ctx is canceled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.Info("status API listening", "addr", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.logger.Debug("request", "method", c.Request.Method, "route", route,
			"status", c.Writer.Status(), "elapsed", time.Since(start))
	}
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) listArtifacts(c *gin.Context) {
	all := s.catalog.All()
	views := make([]artifactView, 0, len(all))
	for _, a := range all {
		if c.Query("installed") == "true" && !s.installed(a.Name) {
			continue
		}
		views = append(views, s.view(c.Request.Context(), a, false))
	}
	c.JSON(http.StatusOK, gin.H{"artifacts": views})
}

func (s *Server) getArtifact(c *gin.Context) {
	a, ok := s.catalog.Lookup(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "artifact.not_found",
			"message": "no catalog entry for " + c.Param("name"),
		})
		return
	}
	c.JSON(http.StatusOK, s.view(c.Request.Context(), a, true))
}

func (s *Server) installed(name string) bool {
	if s.index == nil {
		return false
	}
	_, ok := s.index.InstalledVersion(name)
	return ok
}

func (s *Server) view(ctx context.Context, a *lifecycle.Artifact, detail bool) artifactView {
	v := artifactView{
		Name:        a.Name,
		PackageID:   a.PackageID,
		Origin:      a.Origin,
		Description: a.Description,
		Bundle:      a.Bundle,
		Core:        a.Core,
	}
	if !a.Version.IsZero() {
		v.Version = a.Version.String()
	}
	if a.Author != nil {
		v.Author = a.Author.Name
	}
	if s.index != nil {
		if iv, ok := s.index.InstalledVersion(a.Name); ok {
			v.InstalledVersion = iv.String()
		}
	}
	if s.status != nil {
		if st, ok := s.status.Snapshot(ctx, a); ok {
			v.Status = statusOf(st, detail)
		}
	}
	return v
}

func statusOf(st lifecycle.Status, detail bool) *statusView {
	sv := &statusView{
		Installer: st.Installer.String(),
		Fetched:   st.Fetched,
		Extracted: st.Extracted,
		Checksum:  st.Checksum.String(),
		Signature: st.Signature.String(),
		Prepared:  st.Prepared,
		Created:   st.Created,
		Tested:    st.Tested.String(),
		Installed: st.Installed,
	}
	for _, w := range st.Warnings {
		sv.Warnings = append(sv.Warnings, w.Error())
	}
	if !detail {
		return sv
	}
	if len(st.Prereqs) > 0 {
		sv.Prereqs = make(map[string]string, len(st.Prereqs))
		for name, v := range st.Prereqs {
			sv.Prereqs[name] = v.String()
		}
	}
	if len(st.Overrides) > 0 {
		sv.Overrides = make(map[string]string, len(st.Overrides))
		for stage, reason := range st.Overrides {
			sv.Overrides[stage.String()] = reason
		}
	}
	sv.Trail = st.Trail
	return sv
}
