// SPDX-License-Identifier: MPL-2.0

// Package metrics records pipeline stage outcomes as Prometheus metrics.
package metrics

import (
	"errors"
	"time"

	"github.com/kiln-pm/kiln/internal/lifecycle"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "kiln"

// Recorder implements lifecycle.Observer. Each Recorder owns its registry so
// tests and servers do not collide on the global one.
type Recorder struct {
	registry *prometheus.Registry

	stages   *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

var _ lifecycle.Observer = (*Recorder)(nil)

// New creates a Recorder with its metrics registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		stages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_runs_total",
				Help:      "Pipeline stages executed, by stage and result.",
			},
			[]string{"stage", "result"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_failures_total",
				Help:      "Failed pipeline stages, by stage and error kind.",
			},
			[]string{"stage", "kind"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of pipeline stages.",
				Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 60, 300, 900},
			},
			[]string{"stage"},
		),
	}
	r.registry.MustRegister(r.stages, r.failures, r.duration)
	return r
}

// Registry exposes the registry for scraping.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// ObserveStage records one stage run. The artifact name is not a label to
// keep cardinality bounded by the stage set.
func (r *Recorder) ObserveStage(_ string, stage lifecycle.Stage, elapsed time.Duration, err error) {
	name := stage.String()
	r.duration.WithLabelValues(name).Observe(elapsed.Seconds())
	if err == nil {
		r.stages.WithLabelValues(name, "ok").Inc()
		return
	}
	r.stages.WithLabelValues(name, "error").Inc()
	r.failures.WithLabelValues(name, kindOf(err)).Inc()
}

var kinds = []struct {
	err  error
	name string
}{
	{lifecycle.ErrChecksumMismatch, "checksum_mismatch"},
	{lifecycle.ErrUntrustedArtifact, "untrusted"},
	{lifecycle.ErrPreconditionFailed, "precondition"},
	{lifecycle.ErrFetch, "fetch"},
	{lifecycle.ErrExtract, "extract"},
	{lifecycle.ErrProtectedArtifact, "protected"},
	{lifecycle.ErrNotInstalled, "not_installed"},
	{lifecycle.ErrBuildFailed, "build"},
	{lifecycle.ErrInstallFailed, "install"},
	{lifecycle.ErrPrereqCycle, "prereq_cycle"},
}

func kindOf(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "other"
}
