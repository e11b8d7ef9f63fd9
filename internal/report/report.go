// Package report assembles the notification emails sent to submitters
// when their model run finishes.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/me/simq/internal/mailer"
	"github.com/me/simq/internal/runner"
	"github.com/me/simq/pkg/task"
)

// summaryFileName is the run transcript attached to success emails.
const summaryFileName = "results.txt"

// Success builds the results email for a completed run. The model's
// stdout is written to a summary file in workDir and attached alongside
// the model's declared outputs.
func Success(spec *task.ModelSpec, t *task.Task, res *runner.Result, workDir string) (*mailer.Message, error) {
	summaryPath := filepath.Join(workDir, summaryFileName)
	if err := os.WriteFile(summaryPath, []byte(summary(spec, t, res)), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", summaryPath, err)
	}

	attachments := []mailer.Attachment{{Name: summaryFileName, Path: summaryPath}}
	for _, a := range res.Attachments {
		attachments = append(attachments, mailer.Attachment{Name: a.Name, Path: a.Path})
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Your %s run has completed.\n\n", spec.Title())
	b.WriteString("Parameters:\n")
	b.WriteString(parameterTable(spec, t))
	b.WriteString("\nResult files:\n")
	fmt.Fprintf(&b, "  %s\n", summaryFileName)
	for _, a := range res.Attachments {
		fmt.Fprintf(&b, "  %s (%s)\n", a.Name, humanize.Bytes(uint64(a.Size)))
	}

	return &mailer.Message{
		To:          t.EmailAddress,
		Subject:     fmt.Sprintf("%s results", spec.Title()),
		Body:        b.String(),
		Attachments: attachments,
	}, nil
}

// Failure builds the notification for a run that could not complete.
func Failure(spec *task.ModelSpec, t *task.Task, reason string) *mailer.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Your %s run could not be completed.\n\n", spec.Title())
	if reason != "" {
		fmt.Fprintf(&b, "Reason: %s\n\n", reason)
	}
	b.WriteString("Parameters:\n")
	b.WriteString(parameterTable(spec, t))
	b.WriteString("\nYou may resubmit the request; if the problem persists, contact the service operators.\n")

	return &mailer.Message{
		To:      t.EmailAddress,
		Subject: fmt.Sprintf("%s run failed", spec.Title()),
		Body:    b.String(),
	}
}

// summary renders the plain-text transcript attached to success
// emails: the parameters followed by the model's own output.
func summary(spec *task.ModelSpec, t *task.Task, res *runner.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s, version %s)\n\n", spec.Title(), t.ModelName, t.ModelVersion)
	b.WriteString("Parameters:\n")
	b.WriteString(parameterTable(spec, t))
	if res.Stdout != "" {
		b.WriteString("\nModel output:\n")
		b.WriteString(res.Stdout)
	}
	return b.String()
}

// parameterTable renders one line per parameter in the order the model
// declares them, with units where the model gives them.
func parameterTable(spec *task.ModelSpec, t *task.Task) string {
	var b strings.Builder
	for i := range spec.Parameters {
		p := &spec.Parameters[i]
		v, ok := t.Parameters[p.Name]
		if !ok {
			continue
		}
		label := p.Name
		if p.Description != "" {
			label = p.Description
		}
		if p.Units != "" {
			fmt.Fprintf(&b, "  %s: %s %s\n", label, v.Display(), p.Units)
		} else {
			fmt.Fprintf(&b, "  %s: %s\n", label, v.Display())
		}
	}
	return b.String()
}
