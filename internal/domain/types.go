package domain

// WorkerStatus tracks one worker's lifecycle inside a job.
type WorkerStatus string

const (
	WorkerStatusPending  WorkerStatus = "pending"
	WorkerStatusRunning  WorkerStatus = "running"
	WorkerStatusComplete WorkerStatus = "complete"
	WorkerStatusError    WorkerStatus = "error"
)

// IsTerminal reports whether a status permits no further transitions.
func (s WorkerStatus) IsTerminal() bool {
	return s == WorkerStatusComplete || s == WorkerStatusError
}

// ValidWorkerTransition enforces the allowed worker state machine edges.
// A worker moves pending -> running -> {complete, error} exactly once.
func ValidWorkerTransition(from, to WorkerStatus) bool {
	switch from {
	case WorkerStatusPending:
		return to == WorkerStatusRunning
	case WorkerStatusRunning:
		return to == WorkerStatusComplete || to == WorkerStatusError
	default:
		return false
	}
}

// ResourceClass selects the model profile an external worker runs with.
type ResourceClass string

const (
	ResourceClassLight ResourceClass = "light"
	ResourceClassHeavy ResourceClass = "heavy"
)

// Settings contains user-selectable runtime configuration.
type Settings struct {
	WorkerCommand string `json:"workerCommand"`
	LightModel    string `json:"lightModel"`
	HeavyModel    string `json:"heavyModel"`
	MaxParallel   int    `json:"maxParallel"`
}

// ModelFor maps a resource class to its configured model profile.
func (s Settings) ModelFor(class ResourceClass) string {
	if class == ResourceClassHeavy {
		return s.HeavyModel
	}
	return s.LightModel
}
