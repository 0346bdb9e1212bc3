// SPDX-License-Identifier: MPL-2.0

package version

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input     string
		canonical string
		wantErr   bool
	}{
		{"", "", false},
		{"0", "", false},
		{"0.0.0", "", false},
		{"1", "v1.0.0", false},
		{"1.2", "v1.2.0", false},
		{"v1.2.3", "v1.2.3", false},
		{" 2.0.1 ", "v2.0.1", false},
		{"1.3.0-rc.1", "v1.3.0-rc.1", false},
		{"0.2301", "v0.2301.0", false},
		{"1.2.3.4", "", true},
		{"latest", "", true},
		{"1.02", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got, err := Parse(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidVersion) {
					t.Fatalf("Parse(%q) error = %v, want ErrInvalidVersion", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) unexpected error: %v", tt.input, err)
			}
			if got.Canonical() != tt.canonical {
				t.Errorf("Parse(%q).Canonical() = %q, want %q", tt.input, got.Canonical(), tt.canonical)
			}
		})
	}
}

func TestIsSufficient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		installed string
		required  string
		want      bool
	}{
		{"both absent", "", "", true},
		{"absent installed, zero required", "", "0", true},
		{"absent installed, real requirement", "", "1.0", false},
		{"equal is sufficient", "1.2.0", "1.2", true},
		{"newer is sufficient", "1.10.0", "1.9.9", true},
		{"older is not", "1.2.0", "1.3.0", false},
		{"prerelease below release", "2.0.0-beta.1", "2.0.0", false},
		{"any installed satisfies absent requirement", "0.1", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := IsSufficient(MustParse(tt.installed), MustParse(tt.required))
			if got != tt.want {
				t.Errorf("IsSufficient(%q, %q) = %v, want %v", tt.installed, tt.required, got, tt.want)
			}
		})
	}
}

func TestIsSufficient_Reflexive(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"", "0.1", "1", "1.2.3", "3.0.0-alpha", "10.20.30"} {
		v := MustParse(s)
		if !IsSufficient(v, v) {
			t.Errorf("IsSufficient(%q, %q) = false, want true", s, s)
		}
	}
}

func TestCompare_Total(t *testing.T) {
	t.Parallel()

	values := []Version{
		{},
		MustParse("0.1"),
		MustParse("1.0.0-alpha"),
		MustParse("1.0.0"),
		MustParse("1.0.1"),
		MustParse("2"),
	}

	for i, a := range values {
		for j, b := range values {
			got := a.Compare(b)
			var want int
			switch {
			case i < j:
				want = -1
			case i > j:
				want = 1
			}
			if got != want {
				t.Errorf("Compare(%s, %s) = %d, want %d", a, b, got, want)
			}
		}
	}
}

func TestTextRoundTrip(t *testing.T) {
	t.Parallel()

	var v Version
	if err := v.UnmarshalText([]byte("1.4")); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	text, err := v.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	if string(text) != "1.4" {
		t.Errorf("MarshalText = %q, want %q", text, "1.4")
	}
	if MustParse("").String() != "0" {
		t.Errorf("zero Version String() = %q, want %q", MustParse("").String(), "0")
	}
}
