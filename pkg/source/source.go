// Package source fetches raw service descriptions from configured origins.
//
// An origin is anything that can produce a set of self-describing service
// documents: an HTTP endpoint exposing its own metadata, or a local JSON
// file. Origins are queried independently; a failing origin never aborts
// the others - the fetcher records the error and falls back to the
// origin's last successful payload (stale-but-available).
//
// The wire schema is deliberately tolerant: both singular and plural
// spellings of the list keys are accepted, and unknown fields are ignored.
package source

import (
	"context"
	"encoding/json"

	"github.com/siostam/siostam/pkg/topo"
)

// Service describes one service as reported by an origin.
type Service struct {
	ID    string            `json:"id"`
	Label string            `json:"label,omitempty"`
	Kind  string            `json:"kind,omitempty"`
	Attrs map[string]string `json:"attrs,omitempty"`
}

// Dependency is a declared relationship from the describing service to
// another service, referenced by ID.
type Dependency struct {
	ID   string `json:"id"`
	Kind string `json:"kind,omitempty"` // Defaults to "depends-on"
	Why  string `json:"why,omitempty"`  // Free-form justification
}

// RelationshipKind returns the declared kind, defaulting to depends-on.
func (d Dependency) RelationshipKind() string {
	if d.Kind == "" {
		return topo.KindDependsOn
	}
	return d.Kind
}

// Description pairs a service with its declared dependencies.
type Description struct {
	Service      Service      `json:"service"`
	Dependencies []Dependency `json:"dependencies,omitempty"`
}

// UnmarshalJSON accepts both "dependencies" and "dependency" as the list
// key, mirroring the tolerance the original subsystem files required.
func (d *Description) UnmarshalJSON(data []byte) error {
	var raw struct {
		Service      Service      `json:"service"`
		Dependencies []Dependency `json:"dependencies"`
		Dependency   []Dependency `json:"dependency"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d.Service = raw.Service
	d.Dependencies = append(raw.Dependencies, raw.Dependency...)
	return nil
}

// Payload is the top-level document an origin serves.
type Payload struct {
	Services []Description `json:"services"`
}

// UnmarshalJSON accepts three spellings of the same document: an object
// with "services", an object with "service", or a bare array.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var bare []Description
	if err := json.Unmarshal(data, &bare); err == nil {
		p.Services = bare
		return nil
	}

	var raw struct {
		Services []Description `json:"services"`
		Service  []Description `json:"service"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.Services = append(raw.Services, raw.Service...)
	return nil
}

// Origin is a configured source of service-topology metadata.
type Origin interface {
	// Name identifies the origin in logs, batches and stale-cache keys.
	Name() string

	// Fetch retrieves the current set of service descriptions.
	// Implementations must honor ctx cancellation and apply their own
	// per-origin timeout.
	Fetch(ctx context.Context) ([]Description, error)
}
