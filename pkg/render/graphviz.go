package render

import (
	"bytes"
	"context"
	stderrors "errors"
	"time"

	"github.com/goccy/go-graphviz"

	"github.com/siostam/siostam/pkg/errors"
)

// GraphvizRenderer lays out graphs with the embedded Graphviz engine.
// It needs no external binary, which makes it the default for the
// one-shot mapper and for environments without a system Graphviz.
type GraphvizRenderer struct {
	timeout time.Duration
}

// NewGraphvizRenderer creates an embedded renderer.
func NewGraphvizRenderer(timeout time.Duration) *GraphvizRenderer {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &GraphvizRenderer{timeout: timeout}
}

// Render lays out the DOT text and returns SVG bytes.
func (r *GraphvizRenderer) Render(ctx context.Context, dot []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	gv, err := graphviz.New(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeRenderFailed, err, "init graphviz")
	}
	defer gv.Close()

	g, err := graphviz.ParseBytes(dot)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeRenderFailed, err, "parse DOT")
	}
	defer g.Close()

	var buf bytes.Buffer
	if err := gv.Render(ctx, g, graphviz.SVG, &buf); err != nil {
		if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errors.Wrap(errors.ErrCodeRenderTimeout, err,
				"embedded engine exceeded %s", r.timeout)
		}
		return nil, errors.Wrap(errors.ErrCodeRenderFailed, err, "render SVG")
	}
	return buf.Bytes(), nil
}

// Probe verifies the embedded engine initializes. It cannot be missing
// from PATH, but a broken cgo-free build surfaces here instead of on
// the first refresh cycle.
func (r *GraphvizRenderer) Probe(ctx context.Context) error {
	gv, err := graphviz.New(ctx)
	if err != nil {
		return errors.Wrap(errors.ErrCodeRenderEngineMissing, err, "embedded graphviz unavailable")
	}
	return gv.Close()
}

var _ Renderer = (*GraphvizRenderer)(nil)
