// Package ciao drives the CIAO command-line tools that simulate, transform,
// smooth and measure PSF images.
package ciao

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"psfcontour/pkg/logger"
)

// Runner runs a tool with key=value arguments and returns its stdout.
type Runner interface {
	Run(ctx context.Context, tool string, args ...string) (string, error)
}

// ToolError reports a tool that could not be started or exited non-zero.
type ToolError struct {
	Tool   string
	Args   []string
	Stderr string
	Err    error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s failed: %v", e.Tool, e.Err)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *ToolError) Unwrap() error {
	return e.Err
}

// ExecRunner runs tools as child processes.
type ExecRunner struct {
	// BinDir is prepended to the tool name when set
	BinDir string

	// Timeout bounds each invocation, zero means none
	Timeout time.Duration

	Log logger.ILogger
}

// NewExecRunner creates a runner logging through log.
func NewExecRunner(binDir string, timeout time.Duration, log logger.ILogger) *ExecRunner {
	if log == nil {
		log = &logger.NullLogger{}
	}
	return &ExecRunner{BinDir: binDir, Timeout: timeout, Log: log}
}

func (r *ExecRunner) Run(ctx context.Context, tool string, args ...string) (string, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	name := tool
	if r.BinDir != "" {
		name = filepath.Join(r.BinDir, tool)
	}

	r.Log.Debugf("Running %s %s", tool, strings.Join(args, " "))
	start := time.Now()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.String(), &ToolError{Tool: tool, Args: args, Stderr: stderr.String(), Err: err}
	}

	r.Log.Debugf("%s finished in %v", tool, time.Since(start).Round(time.Millisecond))
	return stdout.String(), nil
}

// param renders one key=value tool argument.
func param(key string, value interface{}) string {
	switch v := value.(type) {
	case float64:
		return key + "=" + strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		if v {
			return key + "=yes"
		}
		return key + "=no"
	default:
		return fmt.Sprintf("%s=%v", key, v)
	}
}

// parseValues splits pget output into one float per line.
func parseValues(out string, want int) ([]float64, error) {
	fields := strings.Fields(out)
	if len(fields) < want {
		return nil, fmt.Errorf("expected %d values, got %d in %q", want, len(fields), strings.TrimSpace(out))
	}
	vals := make([]float64, want)
	for i := 0; i < want; i++ {
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return nil, fmt.Errorf("bad value %q: %w", fields[i], err)
		}
		vals[i] = v
	}
	return vals, nil
}
