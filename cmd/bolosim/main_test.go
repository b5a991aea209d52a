package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const baseConfig = `instrument:
  name: SAT
  site: Atacama
  sky_temp: 270
  obs_time: 1 yr
  sky_fraction: 0.1
  NET: 1.0
  elevation: 50
  pwv: 1.0
  obs_effic: 0.2
  readout:
    read_frac: 0.1
  optics_config:
    elements:
      - {name: window, kind: dielectric, temperature: 280, thickness: 0.003, index: 1.5, loss_tangent: 3.0e-4}
      - {name: lyot, kind: aperture, temperature: 4, spillover: 0.25}
  channel_default:
    fbw: 0.25
    num_det: 400
    det_eff: 0.7
  camera_config:
    MF:
      channels:
        "90": {band_center: 90}
        "150": {band_center: 150}
sim:
  nsky_sim: 3
  ndet_sim: 2
  seed: 11
output:
  driver: memory
  basename: sat_
`

func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bolosim.yaml")
	if err := os.WriteFile(path, []byte(baseConfig+extra), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestCLIUsageErrors(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := cli(nil, &stdout, &stderr); code != exitUsage {
		t.Fatalf("missing -config: code %d", code)
	}
	if !strings.Contains(stderr.String(), "-config is required") {
		t.Fatalf("unexpected stderr %q", stderr.String())
	}
	if code := cli([]string{"-nope"}, &stdout, &stderr); code != exitUsage {
		t.Fatalf("unknown flag: code %d", code)
	}
	if code := cli([]string{"-config", filepath.Join(t.TempDir(), "absent.yaml")}, &stdout, &stderr); code != exitUsage {
		t.Fatalf("missing file: code %d", code)
	}
	bad := writeConfig(t, "derived:\n  - {name: NET, expr: \"1\"}\n")
	if code := cli([]string{"-config", bad}, &stdout, &stderr); code != exitUsage {
		t.Fatalf("shadowing derived column: code %d", code)
	}
}

func TestCLIRunPrintsSummaryAndMetrics(t *testing.T) {
	cfg := writeConfig(t, "requirements:\n  - {name: finite, expr: \"NET > 0.0\"}\n")
	trace := filepath.Join(t.TempDir(), "trace.jsonl")
	var stdout, stderr bytes.Buffer
	code := cli([]string{"-config", cfg, "-summary", "-metrics", "-seed", "3", "-trace", trace, "-log-level", "debug"}, &stdout, &stderr)
	if code != exitOK {
		t.Fatalf("exit %d, stderr: %s", code, stderr.String())
	}
	out := stdout.String()
	for _, want := range []string{"---------", "PASS finite", "bolosim_stage_duration_seconds", `operation="run"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("stdout missing %q:\n%s", want, out)
		}
	}
	if !strings.Contains(stderr.String(), "tables written") {
		t.Fatalf("expected tables written log, got %s", stderr.String())
	}
	b, err := os.ReadFile(trace)
	if err != nil || !strings.Contains(string(b), `"run"`) {
		t.Fatalf("trace file %q, %v", b, err)
	}
}

func TestCLIRequirementFailure(t *testing.T) {
	cfg := writeConfig(t, "requirements:\n  - {name: impossible, expr: \"map_depth < 0.0\"}\n")
	var stdout, stderr bytes.Buffer
	if code := cli([]string{"-config", cfg}, &stdout, &stderr); code != exitRequirement {
		t.Fatalf("exit %d, stderr: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "FAIL impossible") {
		t.Fatalf("unexpected stdout %q", stdout.String())
	}
}

func TestCLIWritesToFilesystem(t *testing.T) {
	root := t.TempDir()
	cfg := writeConfig(t, "")
	t.Setenv("BOLOSIM_TABLE_DRIVER", "fs")
	t.Setenv("BOLOSIM_TABLE_FORMAT", "csv")
	t.Setenv("BOLOSIM_BLOB_FS_ROOT", root)
	var stdout, stderr bytes.Buffer
	if code := cli([]string{"-config", cfg, "-out", "study"}, &stdout, &stderr); code != exitOK {
		t.Fatalf("exit %d, stderr: %s", code, stderr.String())
	}
	if _, err := os.Stat(filepath.Join(root, "study", "manifest.json")); err != nil {
		t.Fatalf("manifest not written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "study", "sat_summary.csv")); err != nil {
		t.Fatalf("merged summary not written: %v", err)
	}
}
