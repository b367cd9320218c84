// Package rscript runs the statistical analysis scripts in an external R
// interpreter. The engine is a black box: it is given an input file and an
// output directory and prints the path of the artifact it produced.
package rscript

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const stderrTailBytes = 4096

type Config struct {
	Binary       string
	ScriptsDir   string
	HelperScript string
	MainScript   string
	Function     string
	Timeout      time.Duration
}

// ExecError carries the interpreter's stderr so failures reach the user
// with the engine's own message.
type ExecError struct {
	Err    error
	Stderr string
}

func (e *ExecError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("rscript: %v", e.Err)
	}
	return fmt.Sprintf("rscript: %v\n%s", e.Err, e.Stderr)
}

func (e *ExecError) Unwrap() error { return e.Err }

type runFunc func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

type Engine struct {
	cfg Config
	run runFunc
}

func New(cfg Config) *Engine {
	if strings.TrimSpace(cfg.Binary) == "" {
		cfg.Binary = "Rscript"
	}
	if cfg.Function == "" {
		cfg.Function = "analyze_data"
	}
	return &Engine{cfg: cfg, run: runCommand}
}

// Analyze sources the helper and main scripts, calls the entry function with
// (inputPath, outputDir) and returns the last line the interpreter printed,
// which by contract holds the quoted artifact path.
func (e *Engine) Analyze(ctx context.Context, inputPath, outputDir string) (string, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	stdout, stderr, err := e.run(ctx, e.cfg.Binary, "--vanilla", "-e", e.expression(inputPath, outputDir))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("analysis timed out after %s: %w", e.cfg.Timeout, err)
		}
		return "", &ExecError{Err: err, Stderr: tail(stderr, stderrTailBytes)}
	}

	line := lastLine(stdout)
	if line == "" {
		return "", &ExecError{Err: errors.New("engine printed no result"), Stderr: tail(stderr, stderrTailBytes)}
	}
	return line, nil
}

func (e *Engine) expression(inputPath, outputDir string) string {
	var b strings.Builder
	for _, script := range []string{e.cfg.HelperScript, e.cfg.MainScript} {
		if script == "" {
			continue
		}
		fmt.Fprintf(&b, "source(%s); ", rString(filepath.Join(e.cfg.ScriptsDir, script)))
	}
	fmt.Fprintf(&b, "print(%s(%s, %s))", e.cfg.Function, rString(inputPath), rString(outputDir))
	return b.String()
}

var rEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func rString(s string) string {
	return `"` + rEscaper.Replace(s) + `"`
}

func lastLine(out []byte) string {
	lines := strings.Split(strings.ReplaceAll(string(out), "\r\n", "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

func tail(b []byte, n int) string {
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return strings.TrimSpace(string(b))
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}
