package disk

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultToolTimeout bounds each external tool invocation.
const DefaultToolTimeout = 30 * time.Minute

// ErrToolTimeout is returned when a tool exceeds its timeout.
var ErrToolTimeout = errors.New("command timed out")

// Runner executes external tools and returns their stdout.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// CommandError is a failed tool invocation.
type CommandError struct {
	Command string
	Stdout  string
	Stderr  string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s failed: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("%s failed: %v (stderr: %s)", e.Command, e.Err, e.Stderr)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ExecRunner runs tools with os/exec, each bounded by Timeout.
type ExecRunner struct {
	Timeout time.Duration
	Log     logrus.FieldLogger
}

// NewExecRunner returns an ExecRunner. A non-positive timeout selects
// DefaultToolTimeout.
func NewExecRunner(timeout time.Duration, log logrus.FieldLogger) *ExecRunner {
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ExecRunner{Timeout: timeout, Log: log}
}

// Run executes name with args.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	command := strings.Join(append([]string{name}, args...), " ")
	r.Log.WithField("command", command).Debug("running tool")

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	if err == nil {
		r.Log.WithFields(logrus.Fields{
			"command":  command,
			"duration": time.Since(start).Round(time.Millisecond),
		}).Debug("tool finished")
		return stdout.Bytes(), nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%s: %w after %s", command, ErrToolTimeout, r.Timeout)
	}

	return nil, &CommandError{
		Command: command,
		Stdout:  strings.TrimSpace(stdout.String()),
		Stderr:  strings.TrimSpace(stderr.String()),
		Err:     err,
	}
}
