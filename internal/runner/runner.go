// Package runner executes a model binary for one task inside a scratch
// directory and collects the files the model declares as outputs.
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/me/simq/pkg/task"
)

// paramsFileName is the file the model reads its inputs from, written
// into the working directory before launch.
const paramsFileName = "params.json"

// ExecutionError is a model-level failure: nonzero exit or a declared
// output file the run did not produce. These are deterministic for a
// given task, so callers treat them as terminal rather than retrying.
type ExecutionError struct {
	TaskID   string
	ExitCode int
	Stderr   string
	Reason   string
}

func (e *ExecutionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("task %s: %s", e.TaskID, e.Reason)
	}
	return fmt.Sprintf("task %s: model exited with code %d", e.TaskID, e.ExitCode)
}

// Attachment is one output file produced by the model.
type Attachment struct {
	Name string
	Path string
	Size int64
}

// Result captures a completed model run.
type Result struct {
	ExitCode    int
	Stdout      string
	Stderr      string
	Attachments []Attachment
}

// Runner launches model executables.
type Runner struct {
	logger *slog.Logger
}

// New creates a Runner.
func New(logger *slog.Logger) *Runner {
	return &Runner{logger: logger.With("component", "runner")}
}

// Run writes the task's parameters into workDir, executes the model
// binary with workDir as its working directory, and collects the
// declared attachments. Infrastructure failures (binary missing,
// workdir unwritable) return plain errors; model failures return an
// *ExecutionError.
func (r *Runner) Run(ctx context.Context, spec *task.ModelSpec, t *task.Task, workDir string) (*Result, error) {
	if err := r.writeParams(t, workDir); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, spec.Executable)
	cmd.Dir = workDir

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	r.logger.Info("launching model", "task_id", t.ID, "model", t.Ref(), "executable", spec.Executable)
	runErr := cmd.Run()

	result := &Result{
		Stdout: stdoutBuf.String(),
		Stderr: stderrBuf.String(),
	}

	switch e := runErr.(type) {
	case nil:
		result.ExitCode = 0
	case *exec.ExitError:
		result.ExitCode = e.ExitCode()
		return result, &ExecutionError{TaskID: t.ID, ExitCode: result.ExitCode, Stderr: result.Stderr}
	default:
		return result, fmt.Errorf("launch %s: %w", spec.Executable, runErr)
	}

	attachments, err := collectAttachments(spec, t, workDir)
	if err != nil {
		return result, err
	}
	result.Attachments = attachments
	return result, nil
}

// writeParams serializes the task's parameters as a flat name to value
// object, the format model binaries read.
func (r *Runner) writeParams(t *task.Task, workDir string) error {
	flat := make(map[string]any, len(t.Parameters))
	for name, v := range t.Parameters {
		flat[name] = v.Native()
	}
	data, err := json.MarshalIndent(flat, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}
	path := filepath.Join(workDir, paramsFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// collectAttachments resolves every output file the model declares.
// A missing declared file is a model failure, not a partial success.
func collectAttachments(spec *task.ModelSpec, t *task.Task, workDir string) ([]Attachment, error) {
	attachments := make([]Attachment, 0, len(spec.Attachments))
	for _, name := range spec.Attachments {
		path := filepath.Join(workDir, name)
		info, err := os.Stat(path)
		if err != nil {
			return nil, &ExecutionError{
				TaskID: t.ID,
				Reason: fmt.Sprintf("model did not produce declared output %q", name),
			}
		}
		attachments = append(attachments, Attachment{Name: name, Path: path, Size: info.Size()})
	}
	return attachments, nil
}
