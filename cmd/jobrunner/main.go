package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/charmbracelet/lipgloss"

	"inbox-analyzer/internal/domain"
	"inbox-analyzer/internal/plan"
	"inbox-analyzer/internal/scheduler"
	"inbox-analyzer/internal/sink"
)

func main() {
	planPath := flag.String("plan", "", "path to a YAML worker plan (required)")
	parallel := flag.Int("parallel", 0, "max concurrent workers (0 uses the CPU-based default)")
	command := flag.String("command", "claude", "worker command to launch")
	lightModel := flag.String("light", "sonnet", "model profile for light workers")
	heavyModel := flag.String("heavy", "opus", "model profile for heavy workers")
	quiet := flag.Bool("quiet", false, "suppress streamed worker output")
	flag.Parse()

	if strings.TrimSpace(*planPath) == "" {
		die("--plan is required")
	}

	spec, err := plan.LoadPlan(*planPath)
	if err != nil {
		die("load plan: %v", err)
	}
	job, err := domain.NewJob(spec)
	if err != nil {
		die("build job: %v", err)
	}

	sinks := sink.NewMultiplexer()
	printer := newPrinter(sinks, *quiet)
	engine := scheduler.New(scheduler.Config{
		Budget: *parallel,
		Sinks:  sinks,
		Template: scheduler.CommandTemplate{
			Command:    *command,
			LightModel: *lightModel,
			HeavyModel: *heavyModel,
		},
		Reporter: scheduler.Reporter{
			WorkerStarted:   printer.workerStarted,
			WorkerCompleted: printer.workerCompleted,
			WorkerOutput:    printer.workerOutput,
		},
	})

	if err := engine.Start(job); err != nil {
		die("start job: %v", err)
	}

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-interrupts
		fmt.Fprintln(os.Stderr, "interrupt received, terminating workers")
		engine.TerminateAll()
	}()

	<-engine.Done()

	snapshot, _ := engine.Snapshot()
	summary := snapshot.Summarize()
	printer.printSummary(summary)
	if summary.Errored > 0 || summary.Blocked > 0 {
		os.Exit(1)
	}
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// printer renders engine events, coloring each worker's lines with the
// tag its output sink was assigned.
type printer struct {
	mu     sync.Mutex
	sinks  *sink.Multiplexer
	styles map[string]lipgloss.Style
	quiet  bool
}

func newPrinter(sinks *sink.Multiplexer, quiet bool) *printer {
	return &printer{
		sinks:  sinks,
		styles: make(map[string]lipgloss.Style),
		quiet:  quiet,
	}
}

func (p *printer) style(workerID string) lipgloss.Style {
	p.mu.Lock()
	defer p.mu.Unlock()
	if style, ok := p.styles[workerID]; ok {
		return style
	}
	style := lipgloss.NewStyle()
	if s, err := p.sinks.Get(workerID); err == nil {
		style = style.Foreground(lipgloss.Color(s.ColorTag()))
	}
	p.styles[workerID] = style
	return style
}

func (p *printer) workerStarted(_ domain.Job, w domain.Worker) {
	label := p.style(w.ID).Render(w.Name)
	fmt.Printf("%s started (phase %d, %s)\n", label, w.Phase, w.Class)
}

func (p *printer) workerCompleted(_ domain.Job, w domain.Worker) {
	label := p.style(w.ID).Render(w.Name)
	if w.Status == domain.WorkerStatusError {
		fmt.Printf("%s failed: %s\n", label, w.Detail)
		return
	}
	fmt.Printf("%s completed\n", label)
}

func (p *printer) workerOutput(workerID string, chunk string) {
	if p.quiet {
		return
	}
	prefix := p.style(workerID).Render(workerID + " |")
	for _, line := range strings.Split(strings.TrimRight(chunk, "\n"), "\n") {
		fmt.Printf("%s %s\n", prefix, line)
	}
}

func (p *printer) printSummary(summary domain.Summary) {
	head := lipgloss.NewStyle().Bold(true)
	fmt.Println(head.Render("run summary"))
	fmt.Printf("  total:     %d\n", summary.Total)
	fmt.Printf("  completed: %d\n", summary.Completed)
	fmt.Printf("  errored:   %d\n", summary.Errored)
	if summary.Blocked > 0 {
		fmt.Printf("  blocked:   %d (foundation phase did not complete)\n", summary.Blocked)
	}
}
