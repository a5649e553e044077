// Package plan derives the worker descriptor set for a mailbox analysis job
// and writes each worker's instruction artifact before the scheduler runs.
package plan

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"inbox-analyzer/internal/domain"
)

// ArtifactDir is the working-directory subfolder holding instruction and
// result files exchanged with worker processes.
const ArtifactDir = ".processing"

// defaultChunkSize is how many mailbox items one classify worker handles.
const defaultChunkSize = 200

// Builder shapes jobs from an account descriptor and item-count hint: one
// heavy indexing worker first, a fan-out of light classify workers over the
// index, and a final report worker over the classify shards.
type Builder struct {
	ChunkSize int
}

// Build derives the worker set, writes every instruction artifact under
// the working directory, and returns the job spec ready for the scheduler.
func (b Builder) Build(account, workingDir string, itemCount int) (domain.JobSpec, error) {
	if strings.TrimSpace(workingDir) == "" {
		return domain.JobSpec{}, fmt.Errorf("working directory is required")
	}
	chunk := b.ChunkSize
	if chunk <= 0 {
		chunk = defaultChunkSize
	}

	dir := filepath.Join(workingDir, ArtifactDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.JobSpec{}, fmt.Errorf("create artifact directory: %w", err)
	}

	shards := itemCount / chunk
	if itemCount%chunk != 0 || shards == 0 {
		shards++
	}

	spec := domain.JobSpec{
		Account:    account,
		WorkingDir: workingDir,
		ItemCount:  itemCount,
	}

	indexOut := artifactPath("index.json")
	spec.Workers = append(spec.Workers, domain.WorkerSpec{
		ID:              "index",
		Name:            "Index mailbox",
		Phase:           0,
		Class:           domain.ResourceClassHeavy,
		InstructionPath: artifactPath("index.md"),
		OutputPath:      indexOut,
	})
	if err := writeArtifact(workingDir, "index.md", indexPrompt(account, itemCount, indexOut)); err != nil {
		return domain.JobSpec{}, err
	}

	resultPaths := make([]string, 0, shards)
	for i := 0; i < shards; i++ {
		id := fmt.Sprintf("classify-%d", i+1)
		instruction := fmt.Sprintf("classify-%d.md", i+1)
		output := artifactPath(fmt.Sprintf("results-%d.json", i+1))
		resultPaths = append(resultPaths, output)

		spec.Workers = append(spec.Workers, domain.WorkerSpec{
			ID:              id,
			Name:            fmt.Sprintf("Classify shard %d/%d", i+1, shards),
			Phase:           1,
			Class:           domain.ResourceClassLight,
			InstructionPath: artifactPath(instruction),
			OutputPath:      output,
		})
		if err := writeArtifact(workingDir, instruction, classifyPrompt(i+1, shards, indexOut, output)); err != nil {
			return domain.JobSpec{}, err
		}
	}

	reportOut := artifactPath("report.md")
	spec.Workers = append(spec.Workers, domain.WorkerSpec{
		ID:              "report",
		Name:            "Summary report",
		Phase:           2,
		Class:           domain.ResourceClassLight,
		InstructionPath: artifactPath("report-task.md"),
		OutputPath:      reportOut,
	})
	if err := writeArtifact(workingDir, "report-task.md", reportPrompt(account, resultPaths, reportOut)); err != nil {
		return domain.JobSpec{}, err
	}

	return spec, nil
}

// CleanArtifacts removes all instruction and result files for a working
// directory. Called when the user dismisses a finished job's results.
func CleanArtifacts(workingDir string) error {
	dir := filepath.Join(workingDir, ArtifactDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read artifact directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			return fmt.Errorf("remove artifact %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// artifactPath returns a path relative to the job's working directory, the
// directory every worker process runs in.
func artifactPath(name string) string {
	return filepath.Join(ArtifactDir, name)
}

// writeArtifact writes one instruction file under the artifact directory.
func writeArtifact(workingDir, name, content string) error {
	path := filepath.Join(workingDir, ArtifactDir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write instruction artifact %s: %w", name, err)
	}
	return nil
}

func indexPrompt(account string, itemCount int, outputPath string) string {
	var sb strings.Builder
	sb.WriteString("# Mailbox Indexing Task\n\n")
	fmt.Fprintf(&sb, "Account under analysis: %s\n", account)
	fmt.Fprintf(&sb, "Approximate item count: %d\n\n", itemCount)
	sb.WriteString("Read the mailbox export in this directory and build a compact index\n")
	sb.WriteString("of every message: id, sender, subject, and date.\n\n")
	fmt.Fprintf(&sb, "Write the index as a JSON array to `%s`.\n", outputPath)
	sb.WriteString("The output must be valid JSON; later workers depend on it.\n")
	return sb.String()
}

func classifyPrompt(shard, total int, indexPath, outputPath string) string {
	var sb strings.Builder
	sb.WriteString("# Email Classification Task\n\n")
	fmt.Fprintf(&sb, "You are shard %d of %d.\n\n", shard, total)
	fmt.Fprintf(&sb, "Read the message index from `%s` and classify your shard's\n", indexPath)
	fmt.Fprintf(&sb, "slice: messages where `index %% %d == %d`.\n\n", total, shard-1)
	sb.WriteString("Classify each message into a category using only the sender and\n")
	sb.WriteString("subject fields. Emit one record per message:\n\n")
	sb.WriteString("```json\n[{\"id\": \"...\", \"category\": \"...\", \"confidence\": 0.95}]\n```\n\n")
	fmt.Fprintf(&sb, "Write the JSON array to `%s`.\n", outputPath)
	return sb.String()
}

func reportPrompt(account string, resultPaths []string, outputPath string) string {
	var sb strings.Builder
	sb.WriteString("# Analysis Report Task\n\n")
	fmt.Fprintf(&sb, "Account: %s\n\n", account)
	sb.WriteString("Merge the classification shards:\n\n")
	for _, p := range resultPaths {
		fmt.Fprintf(&sb, "- `%s`\n", p)
	}
	sb.WriteString("\nSummarize category counts, notable senders, and suggested\n")
	fmt.Fprintf(&sb, "cleanup actions. Write the report as Markdown to `%s`.\n", outputPath)
	return sb.String()
}
