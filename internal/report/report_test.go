package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/me/simq/internal/runner"
	"github.com/me/simq/pkg/task"
)

func fp(v float64) *float64 { return &v }

func testSpec() *task.ModelSpec {
	return &task.ModelSpec{
		Name:     "abmb_c",
		Version:  "1",
		FullName: "ABM-B Leaf Optics",
		Parameters: []task.ParameterSpec{
			{Name: "nSamples", Kind: task.KindInteger, Description: "Sample count",
				RangeStart: fp(1000), RangeEnd: fp(100000)},
			{Name: "wavelengths", Kind: task.KindRange, Units: "nm",
				RangeStart: fp(400), RangeEnd: fp(2500)},
		},
		Attachments: []string{"reflectance.csv"},
	}
}

func testTask() *task.Task {
	return task.New("abmb_c", "1", "user@example.org", map[string]task.Value{
		"nSamples":    task.IntValue(10000),
		"wavelengths": task.RangeValue(400, 2500),
	})
}

func TestSuccessMessage(t *testing.T) {
	workDir := t.TempDir()
	csv := filepath.Join(workDir, "reflectance.csv")
	if err := os.WriteFile(csv, []byte("wl,r\n400,0.1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	res := &runner.Result{
		Stdout:      "completed in 4.2s\n",
		Attachments: []runner.Attachment{{Name: "reflectance.csv", Path: csv, Size: 12}},
	}

	msg, err := Success(testSpec(), testTask(), res, workDir)
	if err != nil {
		t.Fatalf("Success: %v", err)
	}

	if msg.To != "user@example.org" {
		t.Errorf("To = %q", msg.To)
	}
	if msg.Subject != "ABM-B Leaf Optics results" {
		t.Errorf("Subject = %q", msg.Subject)
	}
	for _, want := range []string{"Sample count: 10000", "wavelengths: 400 to 2500 nm", "reflectance.csv (12 B)"} {
		if !strings.Contains(msg.Body, want) {
			t.Errorf("body missing %q:\n%s", want, msg.Body)
		}
	}

	// Summary first, model outputs after.
	if len(msg.Attachments) != 2 || msg.Attachments[0].Name != "results.txt" {
		t.Fatalf("attachments = %+v", msg.Attachments)
	}
	data, err := os.ReadFile(msg.Attachments[0].Path)
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	if !strings.Contains(string(data), "completed in 4.2s") {
		t.Errorf("summary missing model output:\n%s", data)
	}
}

func TestFailureMessage(t *testing.T) {
	msg := Failure(testSpec(), testTask(), "model exited with code 3")

	if msg.Subject != "ABM-B Leaf Optics run failed" {
		t.Errorf("Subject = %q", msg.Subject)
	}
	if len(msg.Attachments) != 0 {
		t.Errorf("failure message carries %d attachments", len(msg.Attachments))
	}
	for _, want := range []string{"could not be completed", "model exited with code 3", "Sample count: 10000"} {
		if !strings.Contains(msg.Body, want) {
			t.Errorf("body missing %q:\n%s", want, msg.Body)
		}
	}
}

func TestParameterTableOrder(t *testing.T) {
	table := parameterTable(testSpec(), testTask())
	first := strings.Index(table, "Sample count")
	second := strings.Index(table, "wavelengths")
	if first == -1 || second == -1 || first > second {
		t.Errorf("parameter order wrong:\n%s", table)
	}
}
