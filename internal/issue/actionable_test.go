// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestActionableError_Error(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  *ActionableError
		want string
	}{
		{name: "operation only", err: &ActionableError{Operation: "install"}, want: "install"},
		{name: "with subject", err: &ActionableError{Operation: "install", Subject: "zlib"}, want: "install zlib"},
		{
			name: "with cause",
			err:  &ActionableError{Operation: "load config", Cause: errors.New("bad syntax")},
			want: "load config: bad syntax",
		},
		{
			name: "full",
			err:  &ActionableError{Operation: "install", Subject: "zlib", Cause: errors.New("checksum mismatch")},
			want: "install zlib: checksum mismatch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestActionableError_Format(t *testing.T) {
	t.Parallel()

	root := errors.New("connection refused")
	err := &ActionableError{
		Operation: "fetch",
		Subject:   "zlib",
		Hints:     []string{"check the mirror", "retry"},
		Cause:     fmt.Errorf("mirror a: %w", root),
	}

	short := err.Format(false)
	want := "fetch zlib: mirror a: connection refused\n  hint: check the mirror\n  hint: retry"
	if short != want {
		t.Errorf("Format(false) = %q, want %q", short, want)
	}

	long := err.Format(true)
	if !strings.HasSuffix(long, "\n  caused by: connection refused") {
		t.Errorf("Format(true) chain missing:\n%s", long)
	}
}

func TestErrorContext_Wrap(t *testing.T) {
	t.Parallel()

	if For("uninstall", "zlib").Wrap(nil) != nil {
		t.Error("nil cause should give a nil error")
	}

	cause := errors.New("boom")
	ctx := For("uninstall", "zlib").Hint("a").Hint("b").WithIssue(NotInstalledID)
	err := ctx.Wrap(cause)

	if !errors.Is(err, cause) {
		t.Error("cause not reachable through errors.Is")
	}
	var ae *ActionableError
	if !errors.As(err, &ae) {
		t.Fatal("expected *ActionableError")
	}
	if len(ae.Hints) != 2 || ae.Issue != NotInstalledID || ae.Subject != "zlib" {
		t.Errorf("unexpected error: %+v", ae)
	}

	// the context can be reused without sharing hints with earlier errors
	again := ctx.Hint("c").Wrap(cause)
	if len(ae.Hints) != 2 {
		t.Errorf("earlier error changed: %v", ae.Hints)
	}
	var ae2 *ActionableError
	if !errors.As(again, &ae2) || len(ae2.Hints) != 3 {
		t.Errorf("second error = %+v", ae2)
	}
}
