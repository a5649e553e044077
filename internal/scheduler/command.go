package scheduler

import (
	"os"
	"os/exec"
	"path/filepath"

	"inbox-analyzer/internal/domain"
	"inbox-analyzer/internal/procexec"
)

// CommandTemplate is the fixed launch contract for worker processes: one
// external executable, a model profile chosen by the worker's resource
// class, and the worker's instruction artifact as the final argument.
type CommandTemplate struct {
	Command    string
	LightModel string
	HeavyModel string
	// ExtraArgs are inserted before the model flag on every invocation.
	ExtraArgs []string
}

// TemplateFromSettings builds the launch contract from user settings.
func TemplateFromSettings(settings domain.Settings) CommandTemplate {
	return CommandTemplate{
		Command:    settings.WorkerCommand,
		LightModel: settings.LightModel,
		HeavyModel: settings.HeavyModel,
	}
}

// Spec builds the process invocation for one worker in a job's working
// directory. The executable's own installation directory is prepended to
// PATH so workers can re-invoke sibling tools shipped next to it.
func (t CommandTemplate) Spec(worker domain.Worker, workingDir string) procexec.Spec {
	model := t.LightModel
	if worker.Class == domain.ResourceClassHeavy {
		model = t.HeavyModel
	}

	args := append([]string(nil), t.ExtraArgs...)
	if model != "" {
		args = append(args, "--model", model)
	}
	args = append(args, worker.InstructionPath)

	return procexec.Spec{
		Command: t.Command,
		Args:    args,
		Dir:     workingDir,
		Env:     commandPathEnv(t.Command),
	}
}

// commandPathEnv prepends the resolved executable's directory to PATH.
func commandPathEnv(command string) []string {
	resolved, err := exec.LookPath(command)
	if err != nil {
		return nil
	}
	binDir := filepath.Dir(resolved)
	current := os.Getenv("PATH")
	if current == "" {
		return []string{"PATH=" + binDir}
	}
	for _, entry := range filepath.SplitList(current) {
		if filepath.Clean(entry) == filepath.Clean(binDir) {
			return nil
		}
	}
	return []string{"PATH=" + binDir + string(os.PathListSeparator) + current}
}
