package domain

import "testing"

func specWithWorkers(workers ...WorkerSpec) JobSpec {
	return JobSpec{
		Account:    "user@example.com",
		WorkingDir: "/tmp/work",
		ItemCount:  100,
		Workers:    workers,
	}
}

// TestNewJobBuildsPendingWorkers verifies construction defaults.
func TestNewJobBuildsPendingWorkers(t *testing.T) {
	job, err := NewJob(specWithWorkers(
		WorkerSpec{ID: "index", Phase: 0, Class: ResourceClassHeavy},
		WorkerSpec{ID: "classify-1", Name: "Classify 1", Phase: 1},
	))
	if err != nil {
		t.Fatalf("NewJob() error = %v", err)
	}

	if job.ID == "" {
		t.Fatal("expected generated job id")
	}
	if len(job.Workers) != 2 {
		t.Fatalf("workers = %d, want 2", len(job.Workers))
	}
	for _, w := range job.Workers {
		if w.Status != WorkerStatusPending {
			t.Fatalf("worker %s status = %s, want pending", w.ID, w.Status)
		}
	}
	if job.Workers[0].Name != "index" {
		t.Fatalf("empty name should default to id, got %q", job.Workers[0].Name)
	}
	if job.Workers[1].Class != ResourceClassLight {
		t.Fatalf("empty class should default to light, got %q", job.Workers[1].Class)
	}
}

// TestNewJobRejectsInvalidSpecs checks construction guard rails.
func TestNewJobRejectsInvalidSpecs(t *testing.T) {
	cases := []struct {
		name string
		spec JobSpec
	}{
		{"no workers", specWithWorkers()},
		{"empty workdir", JobSpec{Workers: []WorkerSpec{{ID: "a"}}}},
		{"empty worker id", specWithWorkers(WorkerSpec{ID: "  "})},
		{"duplicate worker id", specWithWorkers(WorkerSpec{ID: "a"}, WorkerSpec{ID: "a"})},
		{"negative phase", specWithWorkers(WorkerSpec{ID: "a", Phase: -1})},
		{"unknown class", specWithWorkers(WorkerSpec{ID: "a", Class: "enormous"})},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewJob(tc.spec); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

// TestValidWorkerTransition checks that no edge skips or reverses.
func TestValidWorkerTransition(t *testing.T) {
	cases := []struct {
		from, to WorkerStatus
		want     bool
	}{
		{WorkerStatusPending, WorkerStatusRunning, true},
		{WorkerStatusRunning, WorkerStatusComplete, true},
		{WorkerStatusRunning, WorkerStatusError, true},
		{WorkerStatusPending, WorkerStatusComplete, false},
		{WorkerStatusPending, WorkerStatusError, false},
		{WorkerStatusComplete, WorkerStatusRunning, false},
		{WorkerStatusError, WorkerStatusPending, false},
		{WorkerStatusRunning, WorkerStatusPending, false},
	}

	for _, tc := range cases {
		if got := ValidWorkerTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("ValidWorkerTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

// TestMinPhase verifies the foundation phase is the declared minimum.
func TestMinPhase(t *testing.T) {
	job, err := NewJob(specWithWorkers(
		WorkerSpec{ID: "a", Phase: 2},
		WorkerSpec{ID: "b", Phase: 1},
		WorkerSpec{ID: "c", Phase: 3},
	))
	if err != nil {
		t.Fatalf("NewJob() error = %v", err)
	}
	if got := job.MinPhase(); got != 1 {
		t.Fatalf("MinPhase() = %d, want 1", got)
	}
}

// TestSummarizeCountsOutcomes checks aggregate counters per status.
func TestSummarizeCountsOutcomes(t *testing.T) {
	job, err := NewJob(specWithWorkers(
		WorkerSpec{ID: "a"},
		WorkerSpec{ID: "b"},
		WorkerSpec{ID: "c", Phase: 1},
		WorkerSpec{ID: "d", Phase: 1},
	))
	if err != nil {
		t.Fatalf("NewJob() error = %v", err)
	}
	job.Workers[0].Status = WorkerStatusComplete
	job.Workers[1].Status = WorkerStatusError

	got := job.Summarize()
	want := Summary{Total: 4, Completed: 1, Errored: 1, Blocked: 2}
	if got != want {
		t.Fatalf("Summarize() = %+v, want %+v", got, want)
	}
}

// TestCloneIsIndependent verifies snapshots do not alias scheduler state.
func TestCloneIsIndependent(t *testing.T) {
	job, err := NewJob(specWithWorkers(WorkerSpec{ID: "a"}))
	if err != nil {
		t.Fatalf("NewJob() error = %v", err)
	}

	snapshot := job.Clone()
	job.Workers[0].Status = WorkerStatusRunning

	if snapshot.Workers[0].Status != WorkerStatusPending {
		t.Fatal("clone should not observe later mutation")
	}
}
