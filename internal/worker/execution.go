package worker

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/numerus/internal/common"
	"github.com/ternarybob/numerus/internal/mailer"
	"github.com/ternarybob/numerus/internal/model"
	"github.com/ternarybob/numerus/internal/task"
)

// textExtensions ride in the results email as inline text parts.
var textExtensions = map[string]bool{
	".txt": true,
	".csv": true,
	".log": true,
	".dat": true,
	".tex": true,
}

// Execution is one model run inside a private working directory.
type Execution struct {
	task   *task.Task
	dir    string
	logger arbor.ILogger
}

func newExecution(root string, t *task.Task, logger arbor.ILogger) (*Execution, error) {
	dir := filepath.Join(root, common.NewWorkDirID())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create working directory: %w", err)
	}
	return &Execution{task: t, dir: dir, logger: logger}, nil
}

// Close removes the working directory and everything the model wrote.
func (e *Execution) Close() {
	if err := os.RemoveAll(e.dir); err != nil {
		e.logger.Warn().Err(err).Str("dir", e.dir).Msg("Failed to remove working directory")
	}
}

// parameterCode renders the interpreter assignments for every parameter
// value, in declaration order.
func (e *Execution) parameterCode() string {
	var b strings.Builder
	for _, v := range e.task.Parameters {
		b.WriteString(v.AsCode())
		b.WriteByte('\n')
	}
	return b.String()
}

// Run launches the model subprocess and waits for it. Interpreter models
// get the parameter assignments followed by the script over stdin;
// executable models find the assignments in parameters.m next to them.
// Combined output lands in run.log either way.
func (e *Execution) Run(ctx context.Context) error {
	inv := e.task.Definition.Invocation

	var cmd *exec.Cmd
	switch inv.Mode {
	case model.ModeInterpreter:
		cmd = exec.CommandContext(ctx, inv.Interpreter, inv.Arguments...)
		cmd.Stdin = strings.NewReader(e.parameterCode() + "\n" + inv.Script + "\n")
	default:
		code := filepath.Join(e.dir, "parameters.m")
		if err := os.WriteFile(code, []byte(e.parameterCode()), 0644); err != nil {
			return fmt.Errorf("failed to write parameter file: %w", err)
		}
		cmd = exec.CommandContext(ctx, inv.Executable, inv.Arguments...)
	}
	cmd.Dir = e.dir

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	e.logger.Info().
		Str("model", e.task.Definition.ShortName).
		Int64("task_id", int64(e.task.TaskID)).
		Str("dir", e.dir).
		Msg("Running model")

	runErr := cmd.Run()
	if err := os.WriteFile(filepath.Join(e.dir, "run.log"), output.Bytes(), 0644); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to write run log")
	}

	if runErr != nil {
		e.logger.Error().
			Err(runErr).
			Str("model", e.task.Definition.ShortName).
			Int64("task_id", int64(e.task.TaskID)).
			Str("output", tail(output.String(), 2000)).
			Msg("Model run failed")
		return fmt.Errorf("model run failed: %w", runErr)
	}
	return nil
}

// Attachments collects the output files the definition declares. A
// declared file the model did not produce fails the run.
func (e *Execution) Attachments() (text, binary []mailer.Attachment, err error) {
	for _, name := range e.task.Definition.Attachments {
		data, err := os.ReadFile(filepath.Join(e.dir, name))
		if err != nil {
			return nil, nil, fmt.Errorf("model did not produce %s: %w", name, err)
		}

		att := mailer.Attachment{Name: name, Data: data}
		if textExtensions[strings.ToLower(filepath.Ext(name))] {
			text = append(text, att)
		} else {
			binary = append(binary, att)
		}
	}
	return text, binary, nil
}

// resultsTex returns the optional LaTeX fragment a model may emit for
// inclusion in the report body.
func (e *Execution) resultsTex() string {
	data, err := os.ReadFile(filepath.Join(e.dir, "results.tex"))
	if err != nil {
		return ""
	}
	return string(data)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
