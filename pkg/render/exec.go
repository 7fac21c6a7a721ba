package render

import (
	"bytes"
	"context"
	stderrors "errors"
	"os/exec"
	"strings"
	"time"

	"github.com/siostam/siostam/pkg/errors"
)

// ExecRenderer invokes a system-installed Graphviz layout binary as an
// isolated subprocess: DOT text on stdin, diagram bytes on stdout.
// Each invocation is bounded by the configured timeout; the engine's
// stderr is attached to the returned error for diagnosis.
type ExecRenderer struct {
	engine  string
	args    []string
	timeout time.Duration
}

// NewExecRenderer creates a subprocess renderer for the given engine
// binary (e.g. "dot", "fdp") and arguments (e.g. "-Tsvg").
func NewExecRenderer(engine string, args []string, timeout time.Duration) *ExecRenderer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ExecRenderer{engine: engine, args: args, timeout: timeout}
}

// Render runs the engine on the DOT input and captures stdout.
func (r *ExecRenderer) Render(ctx context.Context, dot []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, r.engine, r.args...)
	cmd.Stdin = bytes.NewReader(dot)

	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf

	if err := cmd.Run(); err != nil {
		if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errors.Wrap(errors.ErrCodeRenderTimeout, err,
				"%s exceeded %s", r.engine, r.timeout)
		}
		return nil, errors.Wrap(errors.ErrCodeRenderFailed, err,
			"%s: %s", r.engine, strings.TrimSpace(errBuf.String()))
	}

	if out.Len() == 0 {
		return nil, errors.New(errors.ErrCodeRenderFailed,
			"%s produced no output: %s", r.engine, strings.TrimSpace(errBuf.String()))
	}
	return out.Bytes(), nil
}

// Probe checks that the engine binary exists and answers a version
// query. A missing or broken engine is a startup-fatal condition.
func (r *ExecRenderer) Probe(ctx context.Context) error {
	if _, err := exec.LookPath(r.engine); err != nil {
		return errors.Wrap(errors.ErrCodeRenderEngineMissing, err,
			"layout engine %q not found in PATH", r.engine)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// Graphviz prints its version on stderr and exits zero.
	cmd := exec.CommandContext(ctx, r.engine, "-V")
	var errBuf bytes.Buffer
	cmd.Stderr = &errBuf
	if err := cmd.Run(); err != nil {
		return errors.Wrap(errors.ErrCodeRenderEngineMissing, err,
			"layout engine %q failed version probe: %s", r.engine, strings.TrimSpace(errBuf.String()))
	}
	return nil
}

// Ensure ExecRenderer implements Renderer.
var _ Renderer = (*ExecRenderer)(nil)
