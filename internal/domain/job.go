package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// WorkerSpec declares one worker of a job before execution starts.
type WorkerSpec struct {
	ID              string        `json:"id" yaml:"id"`
	Name            string        `json:"name" yaml:"name"`
	Phase           int           `json:"phase" yaml:"phase"`
	Class           ResourceClass `json:"class" yaml:"class"`
	InstructionPath string        `json:"instructionPath" yaml:"instruction"`
	OutputPath      string        `json:"outputPath,omitempty" yaml:"output,omitempty"`
}

// JobSpec is the declarative input used to build a job. The worker plan is
// static: every worker is declared up front.
type JobSpec struct {
	Account    string       `json:"account" yaml:"account"`
	WorkingDir string       `json:"workingDir" yaml:"workdir"`
	ItemCount  int          `json:"itemCount" yaml:"items"`
	Workers    []WorkerSpec `json:"workers" yaml:"workers"`
}

// Worker is one unit of work bound to an external process invocation.
// Status and timestamps are mutated only by the scheduler.
type Worker struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Phase           int           `json:"phase"`
	Class           ResourceClass `json:"class"`
	InstructionPath string        `json:"instructionPath"`
	OutputPath      string        `json:"outputPath,omitempty"`
	Status          WorkerStatus  `json:"status"`
	Detail          string        `json:"detail,omitempty"`
	ExitCode        int           `json:"exitCode,omitempty"`
	StartedAt       *time.Time    `json:"startedAt,omitempty"`
	EndedAt         *time.Time    `json:"endedAt,omitempty"`
}

// Job is one orchestration run over a declared set of workers for a single
// account. Workers keep their declaration order for the life of the job.
type Job struct {
	ID         string     `json:"id"`
	Account    string     `json:"account"`
	WorkingDir string     `json:"workingDir"`
	ItemCount  int        `json:"itemCount"`
	Workers    []Worker   `json:"workers"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	EndedAt    *time.Time `json:"endedAt,omitempty"`
}

// NewJob validates a spec and builds a job with every worker pending.
func NewJob(spec JobSpec) (*Job, error) {
	if strings.TrimSpace(spec.WorkingDir) == "" {
		return nil, fmt.Errorf("job working directory is required")
	}
	if len(spec.Workers) == 0 {
		return nil, fmt.Errorf("job declares no workers")
	}

	seen := make(map[string]struct{}, len(spec.Workers))
	workers := make([]Worker, 0, len(spec.Workers))
	for i, ws := range spec.Workers {
		id := strings.TrimSpace(ws.ID)
		if id == "" {
			return nil, fmt.Errorf("worker %d has an empty id", i)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("duplicate worker id: %s", id)
		}
		seen[id] = struct{}{}
		if ws.Phase < 0 {
			return nil, fmt.Errorf("worker %s has negative phase %d", id, ws.Phase)
		}
		class := ws.Class
		if class == "" {
			class = ResourceClassLight
		}
		if class != ResourceClassLight && class != ResourceClassHeavy {
			return nil, fmt.Errorf("worker %s has unknown resource class %q", id, ws.Class)
		}
		name := strings.TrimSpace(ws.Name)
		if name == "" {
			name = id
		}
		workers = append(workers, Worker{
			ID:              id,
			Name:            name,
			Phase:           ws.Phase,
			Class:           class,
			InstructionPath: ws.InstructionPath,
			OutputPath:      ws.OutputPath,
			Status:          WorkerStatusPending,
		})
	}

	return &Job{
		ID:         uuid.NewString(),
		Account:    strings.TrimSpace(spec.Account),
		WorkingDir: spec.WorkingDir,
		ItemCount:  spec.ItemCount,
		Workers:    workers,
	}, nil
}

// MinPhase returns the lowest phase declared in the job. Workers at this
// phase are the foundation workers.
func (j *Job) MinPhase() int {
	min := j.Workers[0].Phase
	for _, w := range j.Workers[1:] {
		if w.Phase < min {
			min = w.Phase
		}
	}
	return min
}

// Worker returns a pointer to the worker with the given id, or nil.
func (j *Job) Worker(id string) *Worker {
	for i := range j.Workers {
		if j.Workers[i].ID == id {
			return &j.Workers[i]
		}
	}
	return nil
}

// Clone returns a deep copy safe to hand to callers while the scheduler
// keeps mutating the original.
func (j *Job) Clone() Job {
	out := *j
	out.Workers = append([]Worker(nil), j.Workers...)
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.EndedAt != nil {
		t := *j.EndedAt
		out.EndedAt = &t
	}
	return out
}

// Summary is a job's aggregate outcome. Blocked counts workers that are
// still pending; it is meaningful once the job is terminal, where pending
// means permanently ineligible because a foundation worker failed.
type Summary struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Errored   int `json:"errored"`
	Blocked   int `json:"blocked"`
}

// Summarize counts worker outcomes for the job's current state.
func (j *Job) Summarize() Summary {
	s := Summary{Total: len(j.Workers)}
	for _, w := range j.Workers {
		switch w.Status {
		case WorkerStatusComplete:
			s.Completed++
		case WorkerStatusError:
			s.Errored++
		case WorkerStatusPending:
			s.Blocked++
		}
	}
	return s
}
