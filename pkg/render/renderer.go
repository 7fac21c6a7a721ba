package render

import (
	"context"
	"time"

	"github.com/siostam/siostam/pkg/cache"
)

// ContentTypeSVG is the media type of rendered diagrams.
const ContentTypeSVG = "image/svg+xml"

// DefaultTimeout bounds one layout engine invocation when the config
// does not specify a ceiling.
const DefaultTimeout = 30 * time.Second

// Renderer is the capability interface over a graph layout engine.
// The production implementation shells out to system Graphviz
// ([ExecRenderer]); [GraphvizRenderer] embeds the engine, and tests use
// in-memory stubs.
type Renderer interface {
	// Render lays out the DOT text and returns the diagram bytes (SVG).
	// Implementations must honor ctx cancellation and bound their own
	// execution time.
	Render(ctx context.Context, dot []byte) ([]byte, error)

	// Probe verifies the engine is available and compatible.
	// It runs once at boot; failure is startup-fatal.
	Probe(ctx context.Context) error
}

// Artifact is the cached render output tied to one snapshot generation.
type Artifact struct {
	Generation  uint64    `json:"generation"`
	Hash        string    `json:"hash"` // SHA-256 of Bytes
	ContentType string    `json:"content_type"`
	RenderedAt  time.Time `json:"rendered_at"`
	Bytes       []byte    `json:"bytes"`
}

func newArtifact(generation uint64, data []byte, at time.Time) *Artifact {
	return &Artifact{
		Generation:  generation,
		Hash:        cache.Hash(data),
		ContentType: ContentTypeSVG,
		RenderedAt:  at,
		Bytes:       data,
	}
}
