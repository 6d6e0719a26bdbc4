package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/briangreenhill/storefront/internal/config"
)

func TestVersion(t *testing.T) {
	var out bytes.Buffer
	if err := runCLI([]string{"version"}, &out, &out); err != nil {
		t.Fatalf("version: %v", err)
	}
	if got := out.String(); got != "Storefront "+version+"\n" {
		t.Errorf("version output = %q", got)
	}
}

func TestRoutes(t *testing.T) {
	var out bytes.Buffer
	if err := runCLI([]string{"routes"}, &out, &out); err != nil {
		t.Fatalf("routes: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	expected := [][2]string{
		{"home", "/"},
		{"app", "/app/{slug}"},
		{"app.ratings", "/app/{slug}/ratings"},
		{"search", "/search"},
		{"category", "/category/{slug}"},
	}
	if len(lines) != len(expected) {
		t.Fatalf("got %d routes, want %d:\n%s", len(lines), len(expected), out.String())
	}
	for i, want := range expected {
		fields := strings.Fields(lines[i])
		if len(fields) != 2 || fields[0] != want[0] || fields[1] != want[1] {
			t.Errorf("route %d = %q, want %s %s", i, lines[i], want[0], want[1])
		}
	}
}

func TestCLIErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown command", []string{"nope"}},
		{"browse without path", []string{"browse"}},
		{"version with args", []string{"version", "extra"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			if err := runCLI(tt.args, &out, &out); err == nil {
				t.Errorf("runCLI(%v) succeeded, want error", tt.args)
			}
		})
	}
}

func TestBrowseRejectsBadConfig(t *testing.T) {
	t.Setenv("STOREFRONT_API_BASE", "ftp://example.com")
	var out bytes.Buffer
	err := runCLI([]string{"browse", "/"}, &out, &out)
	if err == nil || !strings.Contains(err.Error(), "STOREFRONT_API_BASE") {
		t.Errorf("err = %v, want api base error", err)
	}
}

func TestNewLogger(t *testing.T) {
	var out bytes.Buffer
	logger := newLogger(&config.Config{LogLevel: "warn", LogFormat: "json"}, &out)
	if logger.GetLevel() != zerolog.WarnLevel {
		t.Errorf("level = %v, want warn", logger.GetLevel())
	}
	logger.Info().Msg("hidden")
	logger.Warn().Msg("shown")
	if strings.Contains(out.String(), "hidden") || !strings.Contains(out.String(), `"message":"shown"`) {
		t.Errorf("unexpected log output %q", out.String())
	}
}
