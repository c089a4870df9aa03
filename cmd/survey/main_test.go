package main

import (
	"bytes"
	"errors"
	"flag"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/survey.report/internal/config"
)

func envConfig(t *testing.T, vars map[string]string) *config.ServiceConfig {
	t.Helper()
	cfg, err := config.LoadServiceConfigFrom(vars)
	if err != nil {
		t.Fatalf("LoadServiceConfigFrom: %v", err)
	}
	return cfg
}

func TestParseOptionsFlagsOverrideEnv(t *testing.T) {
	cfg := envConfig(t, map[string]string{
		"SURVEY_LISTEN":  ":9000",
		"SURVEY_WORKERS": "4",
		"SURVEY_DB_PATH": "/var/lib/survey/env.db",
	})
	var out bytes.Buffer
	o, err := parseOptions([]string{"-listen", ":7000", "-stuck-after", "5m", "migrate", "status"}, cfg, &out)
	if err != nil {
		t.Fatalf("parseOptions: %v", err)
	}

	if o.cfg.Listen != ":7000" {
		t.Errorf("Listen = %q, want the flag value :7000", o.cfg.Listen)
	}
	if o.cfg.Workers != 4 {
		t.Errorf("Workers = %d, want env value 4 for an unset flag", o.cfg.Workers)
	}
	if o.cfg.DBPath != "/var/lib/survey/env.db" {
		t.Errorf("DBPath = %q", o.cfg.DBPath)
	}
	if o.cfg.StuckAfter != 5*time.Minute {
		t.Errorf("StuckAfter = %v, want 5m", o.cfg.StuckAfter)
	}
	if o.logMode != "prod" {
		t.Errorf("logMode = %q, want prod", o.logMode)
	}
	if diff := cmp.Diff([]string{"migrate", "status"}, o.args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestParseOptionsValidates(t *testing.T) {
	for _, args := range [][]string{
		{"-workers", "0"},
		{"-store", "s3"},
	} {
		var out bytes.Buffer
		if _, err := parseOptions(args, envConfig(t, nil), &out); err == nil {
			t.Errorf("parseOptions(%v) succeeded, want error", args)
		}
	}
}

func TestParseOptionsHelp(t *testing.T) {
	var out bytes.Buffer
	_, err := parseOptions([]string{"-h"}, envConfig(t, nil), &out)
	if !errors.Is(err, flag.ErrHelp) {
		t.Errorf("parseOptions(-h) = %v, want flag.ErrHelp", err)
	}
	if !strings.Contains(out.String(), "survey migrate") {
		t.Errorf("usage does not mention the migrate command:\n%s", out.String())
	}
}

func TestLoadTuning(t *testing.T) {
	tc, err := loadTuning("")
	if err != nil {
		t.Fatalf("loadTuning(\"\"): %v", err)
	}
	if diff := cmp.Diff(config.DefaultTuningConfig().ToWallParams(), tc.ToWallParams()); diff != "" {
		t.Errorf("default tuning mismatch (-want +got):\n%s", diff)
	}

	if _, err := loadTuning(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("loadTuning of a missing file succeeded")
	}
}
