package strategy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// Command is one external tool invocation.
type Command struct {
	Name  string
	Args  []string
	Env   []string
	Stdin io.Reader
}

// Runner executes external tools. A non-zero exit is reported as *ToolError.
type Runner interface {
	Run(ctx context.Context, cmd Command) error
}

// ToolError is a non-zero exit of a vendor tool.
type ToolError struct {
	Tool     string
	ExitCode int
	Stderr   string
}

func (e *ToolError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s failed with exit code %d", e.Tool, e.ExitCode)
	}
	return fmt.Sprintf("%s failed with exit code %d: %s", e.Tool, e.ExitCode, e.Stderr)
}

// ExecRunner runs commands with os/exec. The process is killed if ctx is
// cancelled.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, c Command) error {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.Stdin = c.Stdin

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", c.Name, ctxErr)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ToolError{Tool: c.Name, ExitCode: exitErr.ExitCode(), Stderr: strings.TrimSpace(stderr.String())}
	}
	return fmt.Errorf("run %s: %w", c.Name, err)
}
