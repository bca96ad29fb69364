// SPDX-License-Identifier: MPL-2.0

// Package format runs op source through a code formatter or linter before
// it is written to a new location.
package format

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

type (
	// Result is the outcome of formatting one source text.
	Result struct {
		Formatted []byte
		// HasFatalError is set when the formatter rejected the source.
		HasFatalError bool
		// FirstDiagnostic is the formatter's first complaint, if any.
		FirstDiagnostic string
	}

	// Formatter formats source text. An error means the formatter itself
	// could not run; a rejected source is reported through Result.
	Formatter interface {
		Format(ctx context.Context, src []byte) (Result, error)
	}

	// Noop returns every source unchanged.
	Noop struct{}

	// Command pipes the source through a shell command line and reads the
	// formatted text from its stdout. A non-zero exit status is a fatal
	// diagnostic whose text is the first non-empty stderr line.
	Command struct {
		prog *syntax.File
		line string
		dir  string
	}
)

// Format implements Formatter.
func (Noop) Format(_ context.Context, src []byte) (Result, error) {
	return Result{Formatted: src}, nil
}

// NewCommand parses line (e.g. `prettier --stdin-filepath op.js`) with POSIX
// shell syntax. dir is the working directory; empty means the current one.
func NewCommand(line, dir string) (*Command, error) {
	if strings.TrimSpace(line) == "" {
		return nil, errors.New("format: empty formatter command")
	}
	prog, err := syntax.NewParser().Parse(strings.NewReader(line), "formatter")
	if err != nil {
		return nil, fmt.Errorf("format: parse formatter command: %w", err)
	}
	return &Command{prog: prog, line: line, dir: dir}, nil
}

// String returns the command line.
func (c *Command) String() string { return c.line }

// Format implements Formatter.
func (c *Command) Format(ctx context.Context, src []byte) (Result, error) {
	var stdout, stderr bytes.Buffer

	opts := []interp.RunnerOption{
		interp.Env(expand.ListEnviron(os.Environ()...)),
		interp.StdIO(bytes.NewReader(src), &stdout, &stderr),
	}
	if c.dir != "" {
		opts = append(opts, interp.Dir(c.dir))
	}
	runner, err := interp.New(opts...)
	if err != nil {
		return Result{}, fmt.Errorf("format: create interpreter: %w", err)
	}

	err = runner.Run(ctx, c.prog)
	if err != nil {
		var exitStatus interp.ExitStatus
		if !errors.As(err, &exitStatus) {
			return Result{}, fmt.Errorf("format: run %q: %w", c.line, err)
		}
		diag := firstLine(stderr.Bytes())
		if diag == "" {
			diag = firstLine(stdout.Bytes())
		}
		if diag == "" {
			diag = fmt.Sprintf("formatter exited with status %d", int(exitStatus))
		}
		return Result{Formatted: src, HasFatalError: true, FirstDiagnostic: diag}, nil
	}

	return Result{Formatted: stdout.Bytes(), FirstDiagnostic: firstLine(stderr.Bytes())}, nil
}

func firstLine(b []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			return line
		}
	}
	return ""
}
