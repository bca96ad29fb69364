// SPDX-License-Identifier: MPL-2.0

package watch

import (
	"errors"
	"strings"
	"testing"
)

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		cfg    Config
		wantOK bool
	}{
		{name: "zero value is valid", cfg: Config{}, wantOK: true},
		{
			name: "all valid fields",
			cfg: Config{
				Patterns:  []string{"opids.json", "docs/*.json"},
				Ignore:    []string{"**/.git/**"},
				BaseDir:   "/var/lib/opforge",
				Recursive: true,
			},
			wantOK: true,
		},
		{
			name:   "empty pattern slices are valid",
			cfg:    Config{Patterns: []string{}, Ignore: []string{}},
			wantOK: true,
		},
		{name: "empty pattern", cfg: Config{Patterns: []string{""}}},
		{name: "empty ignore", cfg: Config{Ignore: []string{""}}},
		{name: "invalid pattern syntax", cfg: Config{Patterns: []string{"[invalid"}}},
		{name: "invalid ignore syntax", cfg: Config{Ignore: []string{"docs/{a,b"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.cfg.Validate()
			if (err == nil) != tt.wantOK {
				t.Errorf("Validate() error = %v, wantOK %v", err, tt.wantOK)
			}
			if err != nil && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("Validate() error should wrap ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestConfigValidate_ReportsEveryPattern(t *testing.T) {
	t.Parallel()

	err := Config{
		Patterns: []string{"", "**/*.json", "[bad"},
		Ignore:   []string{""},
	}.Validate()
	if err == nil {
		t.Fatal("expected error for invalid config")
	}

	msg := err.Error()
	for _, want := range []string{"empty watch pattern", `invalid watch pattern "[bad"`, "empty ignore pattern"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q should mention %q", msg, want)
		}
	}
}
