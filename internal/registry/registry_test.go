package registry

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

const abmbDescriptor = `
name: abmb_c
version: "1"
full_name: ABM-B
subtitle: Algorithmic BDF Model Bifacial
executable: /opt/models/abmb
parameters:
  - name: nSamples
    kind: integer
    description: Number of samples
    range_start: 1000
    range_end: 100000
    step: 1
    default: 10000
  - name: wavelengths
    kind: range
    description: Wavelengths
    range_start: 400
    range_end: 2500
    step: 5
    units: nm
  - name: sieveDetourEffects
    kind: boolean
    description: Simulate sieve and detour effects
    default_bool: true
attachments:
  - spectral_distribution.csv
  - reflectance.png
`

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeDescriptor(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestScanAndGet(t *testing.T) {
	dir := t.TempDir()
	writeDescriptor(t, dir, "abmb_c_1.yaml", abmbDescriptor)

	r, err := New(dir, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	spec, ok := r.Get("abmb_c", "1")
	if !ok {
		t.Fatal("abmb_c/1 not found")
	}
	if spec.Title() != "ABM-B" {
		t.Errorf("Title = %q", spec.Title())
	}
	if len(spec.Parameters) != 3 {
		t.Errorf("parameters = %d, want 3", len(spec.Parameters))
	}
	if p := spec.Param("nSamples"); p == nil || *p.RangeStart != 1000 {
		t.Errorf("nSamples spec = %+v", p)
	}

	if _, ok := r.Get("abmb_c", "2"); ok {
		t.Error("nonexistent version reported as present")
	}
	if _, ok := r.Get("abmu_c", "1"); ok {
		t.Error("nonexistent model reported as present")
	}
}

func TestGetLatestPrefersHighestVersion(t *testing.T) {
	dir := t.TempDir()
	for _, v := range []string{"1", "2", "10"} {
		body := "name: abmb_c\nversion: \"" + v + "\"\nexecutable: /opt/models/abmb\n"
		writeDescriptor(t, dir, "abmb_c_"+v+".yaml", body)
	}

	r, err := New(dir, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	spec, ok := r.GetLatest("abmb_c")
	if !ok {
		t.Fatal("GetLatest found nothing")
	}
	if spec.Version != "10" {
		t.Errorf("latest version = %q, want 10 (numeric ordering)", spec.Version)
	}

	versions := r.Versions()
	want := []string{"1", "2", "10"}
	got := versions["abmb_c"]
	if len(got) != len(want) {
		t.Fatalf("versions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("versions = %v, want %v", got, want)
		}
	}
}

func TestScanRejectsMalformedDescriptor(t *testing.T) {
	dir := t.TempDir()
	writeDescriptor(t, dir, "broken.yaml", "name: x\n") // no version, no executable

	if _, err := New(dir, testLogger()); err == nil {
		t.Fatal("malformed descriptor accepted")
	}
}

func TestRescanKeepsPreviousOnFailure(t *testing.T) {
	dir := t.TempDir()
	writeDescriptor(t, dir, "abmb_c_1.yaml", abmbDescriptor)

	r, err := New(dir, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	writeDescriptor(t, dir, "broken.yaml", "::: not yaml")
	if err := r.Scan(); err == nil {
		t.Fatal("scan over broken descriptor succeeded")
	}

	// The previous registry must survive a failed rescan.
	if _, ok := r.Get("abmb_c", "1"); !ok {
		t.Error("previous registry lost after failed rescan")
	}
}
