package diagnostics

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"time"

	"inbox-analyzer/internal/domain"
)

// Checker validates the external worker CLI and required filesystem paths.
type Checker struct {
	lookPath   func(string) (string, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker() *Checker {
	return &Checker{
		lookPath:   exec.LookPath,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
	}
}

// Run executes all startup checks and returns a combined report.
// workingDir may be empty before the user has picked a workspace.
func (c *Checker) Run(settings domain.Settings, workingDir string) domain.DiagnosticReport {
	items := []domain.DiagnosticItem{
		c.checkWorkerCommand(settings.WorkerCommand),
		c.checkModels(settings),
		c.checkWorkingDir(workingDir),
	}

	hasFailures := false
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt: time.Now().UTC(),
		HasFailures: hasFailures,
		Items:       items,
	}
}

// checkWorkerCommand verifies the worker CLI is resolvable.
func (c *Checker) checkWorkerCommand(command string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "worker_command",
		Name: "Worker CLI",
	}

	if strings.TrimSpace(command) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Worker command is empty."
		item.Hint = "Set the worker CLI command in settings (for example: claude)."
		return item
	}

	path, err := c.lookPath(command)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Worker CLI not found in PATH: %s", command)
		item.Hint = "Install the CLI and ensure its binary is on PATH before starting an analysis."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Found at %s", path)
	return item
}

// checkModels validates both resource-class model profiles are set.
func (c *Checker) checkModels(settings domain.Settings) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "model_profiles",
		Name: "Model profiles",
	}

	missing := []string{}
	if strings.TrimSpace(settings.LightModel) == "" {
		missing = append(missing, "light")
	}
	if strings.TrimSpace(settings.HeavyModel) == "" {
		missing = append(missing, "heavy")
	}
	if len(missing) > 0 {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Missing model profile for resource class: %s", strings.Join(missing, ", "))
		item.Hint = "Configure a model name for each resource class in settings."
		return item
	}

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("light=%s heavy=%s", settings.LightModel, settings.HeavyModel)
	return item
}

// checkWorkingDir validates workspace existence and write access.
func (c *Checker) checkWorkingDir(workingDir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "working_dir",
		Name: "Working directory",
	}

	if strings.TrimSpace(workingDir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "No working directory selected."
		item.Hint = "Pick the directory containing the mailbox export to analyze."
		return item
	}

	if err := c.mkdirAll(workingDir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create working directory: %s", workingDir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(workingDir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Working directory is not writable: %s", workingDir)
		item.Hint = "Workers write instruction and result files here; pick a writable directory."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", workingDir)
	return item
}

// NewCheckerForTests creates checker with injectable dependencies.
func NewCheckerForTests(
	lookPath func(string) (string, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		lookPath:   lookPath,
		mkdirAll:   mkdirAll,
		createTemp: createTemp,
		remove:     remove,
	}
}

// IsNotExist reports whether error represents file-not-found.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
