package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/celerix-dev/tether/pkg/sdk"
)

func TestRenderYAMLUsesAPIFieldNames(t *testing.T) {
	var buf bytes.Buffer
	res := &sdk.SweepResult{StartedAt: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), LapsesCreated: 2}
	if err := render(&buf, "yaml", res); err != nil {
		t.Fatalf("render failed: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "lapses_created: 2") {
		t.Errorf("Expected snake_case key, got:\n%s", out)
	}
}

func TestRenderJSONAndUnknown(t *testing.T) {
	var buf bytes.Buffer
	if err := render(&buf, "json", []sdk.Cohort{{Size: 3}}); err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if !strings.Contains(buf.String(), `"size": 3`) {
		t.Errorf("unexpected JSON: %s", buf.String())
	}
	if err := render(&buf, "toml", nil); err == nil {
		t.Errorf("Expected error for unknown format")
	}
}
