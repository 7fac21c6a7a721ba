package source

import (
	"context"
	"encoding/json"
	"os"

	"github.com/siostam/siostam/pkg/errors"
)

// FileOrigin reads service descriptions from a local JSON file. It is
// the quick-feedback counterpart to [HTTPOrigin]: useful for trying a
// topology without running any services, at the cost of the file being
// only as fresh as whoever writes it.
type FileOrigin struct {
	name string
	path string
}

// NewFileOrigin creates an origin backed by the given file path.
func NewFileOrigin(name, path string) *FileOrigin {
	return &FileOrigin{name: name, path: path}
}

// Name identifies the origin.
func (o *FileOrigin) Name() string { return o.name }

// Fetch reads and decodes the file.
func (o *FileOrigin) Fetch(ctx context.Context) ([]Description, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(o.path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFetchFailed, err, "origin %s: read %s", o.name, o.path)
	}
	var payload Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, errors.Wrap(errors.ErrCodeFetchMalformed, err, "origin %s: malformed payload in %s", o.name, o.path)
	}
	return payload.Services, nil
}

// Ensure FileOrigin implements Origin.
var _ Origin = (*FileOrigin)(nil)
