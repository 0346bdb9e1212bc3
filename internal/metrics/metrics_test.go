// SPDX-License-Identifier: MPL-2.0

package metrics

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/kiln-pm/kiln/internal/lifecycle"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveStage(t *testing.T) {
	t.Parallel()

	r := New()
	r.ObserveStage("zlib", lifecycle.StageFetch, 20*time.Millisecond, nil)
	r.ObserveStage("xz", lifecycle.StageFetch, 30*time.Millisecond, nil)
	r.ObserveStage("zlib", lifecycle.StageVerify, time.Millisecond,
		fmt.Errorf("zlib: %w", lifecycle.ErrChecksumMismatch))

	if got := testutil.ToFloat64(r.stages.WithLabelValues("fetch", "ok")); got != 2 {
		t.Errorf("fetch ok = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.stages.WithLabelValues("verify", "error")); got != 1 {
		t.Errorf("verify error = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.failures.WithLabelValues("verify", "checksum_mismatch")); got != 1 {
		t.Errorf("checksum failures = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(r.duration); n != 2 {
		t.Errorf("duration series = %d, want 2", n)
	}
}

func TestRegistryExposition(t *testing.T) {
	t.Parallel()

	r := New()
	r.ObserveStage("zlib", lifecycle.StageInstall, time.Second, nil)

	want := `
# HELP kiln_stage_runs_total Pipeline stages executed, by stage and result.
# TYPE kiln_stage_runs_total counter
kiln_stage_runs_total{result="ok",stage="install"} 1
`
	if err := testutil.GatherAndCompare(r.Registry(), strings.NewReader(want), "kiln_stage_runs_total"); err != nil {
		t.Error(err)
	}
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want string
	}{
		{lifecycle.ErrFetch, "fetch"},
		{fmt.Errorf("wrapped: %w", lifecycle.ErrUntrustedArtifact), "untrusted"},
		{errors.Join(lifecycle.ErrBuildFailed, errors.New("exit 2")), "build"},
		{errors.New("disk full"), "other"},
	}
	for _, tt := range tests {
		if got := kindOf(tt.err); got != tt.want {
			t.Errorf("kindOf(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
