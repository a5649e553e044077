package diagnostics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"inbox-analyzer/internal/config"
	"inbox-analyzer/internal/domain"
)

func passingChecker(root string) *Checker {
	return NewCheckerForTests(
		func(string) (string, error) { return filepath.Join(root, "bin", "claude"), nil },
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
	)
}

// TestRunAllChecksPass verifies the healthy-environment report.
func TestRunAllChecksPass(t *testing.T) {
	root := t.TempDir()
	checker := passingChecker(root)

	report := checker.Run(config.DefaultSettings(), filepath.Join(root, "work"))
	if report.HasFailures {
		t.Fatalf("report has failures: %+v", report.Items)
	}
	if len(report.Items) != 3 {
		t.Fatalf("items = %d, want 3", len(report.Items))
	}
	if report.GeneratedAt.IsZero() {
		t.Fatal("expected generated-at timestamp")
	}
}

// TestRunMissingWorkerCommand checks the worker CLI failure path.
func TestRunMissingWorkerCommand(t *testing.T) {
	checker := NewCheckerForTests(
		func(string) (string, error) { return "", errors.New("not found") },
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
	)

	report := checker.Run(config.DefaultSettings(), t.TempDir())
	if !report.HasFailures {
		t.Fatal("expected failure for missing worker CLI")
	}
	item := findItem(t, report, "worker_command")
	if item.Status != domain.DiagnosticStatusFail {
		t.Fatalf("worker_command status = %s, want fail", item.Status)
	}
	if item.Hint == "" {
		t.Fatal("expected remediation hint")
	}
}

// TestRunMissingModelProfiles checks the model configuration guard.
func TestRunMissingModelProfiles(t *testing.T) {
	checker := passingChecker(t.TempDir())
	settings := config.DefaultSettings()
	settings.HeavyModel = " "

	report := checker.Run(settings, t.TempDir())
	item := findItem(t, report, "model_profiles")
	if item.Status != domain.DiagnosticStatusFail {
		t.Fatalf("model_profiles status = %s, want fail", item.Status)
	}
}

// TestRunEmptyWorkingDir checks the workspace selection guard.
func TestRunEmptyWorkingDir(t *testing.T) {
	checker := passingChecker(t.TempDir())

	report := checker.Run(config.DefaultSettings(), "")
	item := findItem(t, report, "working_dir")
	if item.Status != domain.DiagnosticStatusFail {
		t.Fatalf("working_dir status = %s, want fail", item.Status)
	}
}

// TestRunUnwritableWorkingDir checks write-access probing.
func TestRunUnwritableWorkingDir(t *testing.T) {
	checker := NewCheckerForTests(
		func(string) (string, error) { return "/bin/claude", nil },
		os.MkdirAll,
		func(string, string) (*os.File, error) { return nil, errors.New("permission denied") },
		os.Remove,
	)

	report := checker.Run(config.DefaultSettings(), t.TempDir())
	item := findItem(t, report, "working_dir")
	if item.Status != domain.DiagnosticStatusFail {
		t.Fatalf("working_dir status = %s, want fail", item.Status)
	}
}

func findItem(t *testing.T, report domain.DiagnosticReport, id string) domain.DiagnosticItem {
	t.Helper()
	for _, item := range report.Items {
		if item.ID == id {
			return item
		}
	}
	t.Fatalf("diagnostic item %s not in report", id)
	return domain.DiagnosticItem{}
}
