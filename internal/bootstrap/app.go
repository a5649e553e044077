package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"inbox-analyzer/internal/config"
	"inbox-analyzer/internal/diagnostics"
	"inbox-analyzer/internal/domain"
	"inbox-analyzer/internal/plan"
	"inbox-analyzer/internal/scheduler"
	"inbox-analyzer/internal/sink"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

// ErrAnalysisRunning is returned when starting a second active analysis.
var ErrAnalysisRunning = errors.New("analysis already running")

// ErrNoAnalysis is returned for job queries before any analysis started.
var ErrNoAnalysis = errors.New("no analysis started")

// jobBuilder isolates worker-plan derivation behind an interface.
type jobBuilder interface {
	Build(account, workingDir string, itemCount int) (domain.JobSpec, error)
}

// App wires configuration, the worker engine, and UI runtime callbacks.
type App struct {
	Settings    domain.Settings
	Store       config.Store
	Diagnostics domain.DiagnosticReport

	assets  fs.FS
	checker *diagnostics.Checker
	builder jobBuilder
	// launcher overrides the engine's process executor in tests.
	launcher scheduler.Launcher

	mu         sync.Mutex
	workingDir string
	engine     *scheduler.Scheduler
	events     *scheduler.EventBus
	runtimeCtx context.Context
}

// New builds the application with persisted settings and startup diagnostics.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets builds the application and optionally configures embedded frontend assets.
func NewWithAssets(assets fs.FS) (*App, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve user home: %w", err)
	}
	if err := ensureLocalBinOnPATH(homeDir); err != nil {
		return nil, fmt.Errorf("prepare local tool path: %w", err)
	}

	store := config.NewJSONStore(filepath.Join(homeDir, ".inbox-analyzer", "settings.json"))
	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	checker := diagnostics.NewChecker()
	report := checker.Run(settings, "")

	return &App{
		Settings:    settings,
		Store:       store,
		Diagnostics: report,
		assets:      assets,
		checker:     checker,
		builder:     plan.Builder{},
		events:      scheduler.NewEventBus(2000),
	}, nil
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "Inbox Analyzer",
		Width:       1180,
		Height:      780,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown: func(ctx context.Context) {
			a.mu.Lock()
			defer a.mu.Unlock()
			a.runtimeCtx = nil
		},
		Bind: []interface{}{a},
	})
}

// Startup stores Wails runtime context for push events.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.runtimeCtx = ctx
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Diagnostics
}

// RefreshDiagnostics reloads settings and reruns environment checks.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.Settings = settings
	a.Diagnostics = a.checker.Run(settings, a.workingDir)
	return a.Diagnostics, nil
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = settings
	a.mu.Unlock()

	return settings, nil
}

// SaveSettings normalizes and persists settings, then refreshes diagnostics.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized := normalizeSettings(settings)
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	a.mu.Lock()
	a.Settings = normalized
	if a.checker != nil {
		a.Diagnostics = a.checker.Run(normalized, a.workingDir)
	}
	a.mu.Unlock()

	return normalized, nil
}

// PickWorkingDirectory opens a native directory picker for the workspace
// holding the mailbox export, and remembers the selection.
func (a *App) PickWorkingDirectory() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenDirectoryDialog(ctx, wailsruntime.OpenDialogOptions{
		Title: "Select mailbox working directory",
	})
	if err != nil {
		return "", err
	}

	path = strings.TrimSpace(path)
	if path != "" {
		a.mu.Lock()
		a.workingDir = path
		if a.checker != nil {
			a.Diagnostics = a.checker.Run(a.Settings, path)
		}
		a.mu.Unlock()
	}
	return path, nil
}

// WorkingDirectory returns the currently selected workspace.
func (a *App) WorkingDirectory() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.workingDir
}

// OpenWorkingFolder opens the given path (or the workspace) in the file manager.
func (a *App) OpenWorkingFolder(path string) error {
	target := strings.TrimSpace(path)
	if target == "" {
		a.mu.Lock()
		target = a.workingDir
		a.mu.Unlock()
	}
	if target == "" {
		return fmt.Errorf("working directory is empty")
	}

	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}

	openPath := target
	if !info.IsDir() {
		openPath = filepath.Dir(target)
	}

	return openInFileManager(openPath)
}

// StartAnalysis builds the worker plan for an account and launches the
// engine asynchronously. One analysis runs at a time.
func (a *App) StartAnalysis(account string, itemCount int) (domain.Job, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Job{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	if a.engine != nil {
		if snapshot, ok := a.engine.Snapshot(); ok && snapshot.EndedAt == nil {
			a.mu.Unlock()
			return domain.Job{}, ErrAnalysisRunning
		}
	}
	a.Settings = settings
	workingDir := a.workingDir
	a.mu.Unlock()

	if strings.TrimSpace(workingDir) == "" {
		return domain.Job{}, fmt.Errorf("no working directory selected")
	}

	spec, err := a.builder.Build(account, workingDir, itemCount)
	if err != nil {
		return domain.Job{}, fmt.Errorf("build worker plan: %w", err)
	}
	job, err := domain.NewJob(spec)
	if err != nil {
		return domain.Job{}, fmt.Errorf("build job: %w", err)
	}

	engine := scheduler.New(scheduler.Config{
		Budget:   settings.MaxParallel,
		Template: scheduler.TemplateFromSettings(settings),
		Launcher: a.launcher,
		Reporter: a.reporter(job.ID),
	})

	a.mu.Lock()
	a.engine = engine
	a.mu.Unlock()

	if err := engine.Start(job); err != nil {
		return domain.Job{}, err
	}
	return job.Clone(), nil
}

// CancelAnalysis terminates every live worker of the current analysis.
// Each exit flows through the normal completion path, so the job still
// reaches a terminal summary.
func (a *App) CancelAnalysis() error {
	engine, err := a.currentEngine()
	if err != nil {
		return err
	}
	engine.TerminateAll()
	return nil
}

// CurrentJob returns a snapshot of the active or most recent job.
func (a *App) CurrentJob() (domain.Job, error) {
	engine, err := a.currentEngine()
	if err != nil {
		return domain.Job{}, err
	}
	snapshot, ok := engine.Snapshot()
	if !ok {
		return domain.Job{}, ErrNoAnalysis
	}
	return snapshot, nil
}

// JobEvents returns all events with sequence greater than sinceSeq.
func (a *App) JobEvents(sinceSeq int64) []scheduler.Event {
	return a.events.Since(sinceSeq)
}

// WorkerSinks lists the output sinks of the current analysis in creation order.
func (a *App) WorkerSinks() ([]sink.View, error) {
	engine, err := a.currentEngine()
	if err != nil {
		return nil, err
	}
	return engine.Sinks().Views(), nil
}

// WorkerOutput returns the accumulated output buffer for one worker.
func (a *App) WorkerOutput(workerID string) (string, error) {
	engine, err := a.currentEngine()
	if err != nil {
		return "", err
	}
	out, err := engine.Sinks().Get(workerID)
	if err != nil {
		return "", err
	}
	return out.Text(), nil
}

// SelectWorker marks one worker's sink as the active output panel.
func (a *App) SelectWorker(workerID string) error {
	engine, err := a.currentEngine()
	if err != nil {
		return err
	}
	return engine.Sinks().Select(workerID)
}

// RemoveWorkerSink discards one worker's retained output buffer.
func (a *App) RemoveWorkerSink(workerID string) error {
	engine, err := a.currentEngine()
	if err != nil {
		return err
	}
	engine.Sinks().Remove(workerID)
	return nil
}

// CleanArtifacts removes instruction and result files from the workspace.
func (a *App) CleanArtifacts() error {
	a.mu.Lock()
	workingDir := a.workingDir
	a.mu.Unlock()
	if workingDir == "" {
		return fmt.Errorf("working directory is empty")
	}
	return plan.CleanArtifacts(workingDir)
}

// reporter maps engine callbacks to published UI events.
func (a *App) reporter(jobID string) scheduler.Reporter {
	return scheduler.Reporter{
		WorkerStarted: func(_ domain.Job, w domain.Worker) {
			a.publishEvent(scheduler.Event{
				JobID:    jobID,
				Type:     scheduler.EventTypeWorkerStarted,
				WorkerID: w.ID,
				Status:   w.Status,
				Message:  w.Name + " started",
			})
		},
		WorkerCompleted: func(_ domain.Job, w domain.Worker) {
			event := scheduler.Event{
				JobID:    jobID,
				Type:     scheduler.EventTypeWorkerCompleted,
				WorkerID: w.ID,
				Status:   w.Status,
				ExitCode: w.ExitCode,
				Message:  w.Name + " finished",
			}
			if w.Status == domain.WorkerStatusError {
				event.Type = scheduler.EventTypeError
				event.Message = w.Detail
			}
			a.publishEvent(event)
		},
		JobCompleted: func(_ domain.Job, summary domain.Summary) {
			a.publishEvent(scheduler.Event{
				JobID:   jobID,
				Type:    scheduler.EventTypeJobCompleted,
				Message: completionMessage(summary),
				Summary: &summary,
			})
		},
		WorkerOutput: func(workerID, chunk string) {
			a.publishEvent(scheduler.Event{
				JobID:    jobID,
				Type:     scheduler.EventTypeWorkerOutput,
				WorkerID: workerID,
				Chunk:    chunk,
			})
		},
	}
}

// completionMessage renders the terminal summary, calling out analyses
// that never ran because the indexing phase failed.
func completionMessage(summary domain.Summary) string {
	if summary.Blocked > 0 {
		return fmt.Sprintf(
			"%d of %d analyses completed; %d failed; %d could not run because a foundation step failed",
			summary.Completed, summary.Total, summary.Errored, summary.Blocked,
		)
	}
	if summary.Errored > 0 {
		return fmt.Sprintf("%d of %d analyses completed; %d failed", summary.Completed, summary.Total, summary.Errored)
	}
	return fmt.Sprintf("all %d analyses completed", summary.Total)
}

// publishEvent stores event history and emits runtime push notifications.
func (a *App) publishEvent(event scheduler.Event) {
	published := a.events.Publish(event)

	a.mu.Lock()
	ctx := a.runtimeCtx
	a.mu.Unlock()
	if ctx != nil {
		wailsruntime.EventsEmit(ctx, "job:event", published)
	}
}

// currentEngine returns the engine for the active or most recent job.
func (a *App) currentEngine() (*scheduler.Scheduler, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.engine == nil {
		return nil, ErrNoAnalysis
	}
	return a.engine, nil
}

// runtimeContext returns current Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}

// normalizeSettings trims user inputs and applies defaults for empty fields.
func normalizeSettings(settings domain.Settings) domain.Settings {
	defaults := config.DefaultSettings()
	settings.WorkerCommand = strings.TrimSpace(settings.WorkerCommand)
	settings.LightModel = strings.TrimSpace(settings.LightModel)
	settings.HeavyModel = strings.TrimSpace(settings.HeavyModel)
	if settings.WorkerCommand == "" {
		settings.WorkerCommand = defaults.WorkerCommand
	}
	if settings.LightModel == "" {
		settings.LightModel = defaults.LightModel
	}
	if settings.HeavyModel == "" {
		settings.HeavyModel = defaults.HeavyModel
	}
	if settings.MaxParallel < 0 {
		settings.MaxParallel = 0
	}
	return settings
}

// ensureLocalBinOnPATH prepends the app's private bin directory so locally
// installed worker CLIs resolve without shell profile changes.
func ensureLocalBinOnPATH(homeDir string) error {
	binDir := localBinDir(homeDir)
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return err
	}

	current := os.Getenv("PATH")
	entries := filepath.SplitList(current)
	for _, entry := range entries {
		if filepath.Clean(entry) == filepath.Clean(binDir) {
			return nil
		}
	}

	if current == "" {
		return os.Setenv("PATH", binDir)
	}
	return os.Setenv("PATH", binDir+string(os.PathListSeparator)+current)
}

func localBinDir(homeDir string) string {
	return filepath.Join(homeDir, ".inbox-analyzer", "bin")
}

// openInFileManager launches the platform file explorer for the provided path.
func openInFileManager(path string) error {
	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", filepath.Clean(path))
	default:
		cmd = exec.Command("xdg-open", path)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch file manager: %w", err)
	}
	return nil
}
