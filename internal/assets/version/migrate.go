package version

import (
	"fmt"
	"sync"
)

// MigrationFunc rewrites a decoded asset from one version's shape to the next.
type MigrationFunc func(asset any) (any, error)

type migrationStep struct {
	to string
	fn MigrationFunc
}

// Migrations is a registry of version-to-version asset transforms.
//
// Registered migrations are never applied automatically by the version-change
// path: bumping a version invalidates cache entries, and the next load decodes
// the new bytes directly, so an automatic migration would have nothing to act
// on. Callers that keep long-lived handles apply chains explicitly through
// Apply.
type Migrations struct {
	mu    sync.Mutex
	steps map[string][]migrationStep
}

// NewMigrations returns an empty registry.
func NewMigrations() *Migrations {
	return &Migrations{steps: make(map[string][]migrationStep)}
}

// Register records a transform from one version label to another. Registering
// the same edge twice replaces the earlier transform.
func (m *Migrations) Register(from, to string, fn MigrationFunc) error {
	if from == "" || to == "" {
		return fmt.Errorf("version: migration endpoints required (from=%q to=%q)", from, to)
	}
	if from == to {
		return fmt.Errorf("version: migration from %q to itself", from)
	}
	if fn == nil {
		return fmt.Errorf("version: migration %s->%s requires a transform", from, to)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	edges := m.steps[from]
	for i, edge := range edges {
		if edge.to == to {
			edges[i].fn = fn
			return nil
		}
	}
	m.steps[from] = append(edges, migrationStep{to: to, fn: fn})
	return nil
}

// Apply walks registered transforms from one version label to another,
// following the first registered edge at each hop. It fails when no chain
// connects the two labels or when a transform errors.
func (m *Migrations) Apply(asset any, from, to string) (any, error) {
	if from == to {
		return asset, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current := from
	visited := map[string]bool{from: true}
	for current != to {
		edges := m.steps[current]
		if len(edges) == 0 {
			return nil, fmt.Errorf("version: no migration path from %q to %q", from, to)
		}
		step := edges[0]
		if visited[step.to] {
			return nil, fmt.Errorf("version: migration cycle at %q", step.to)
		}
		visited[step.to] = true

		migrated, err := step.fn(asset)
		if err != nil {
			return nil, fmt.Errorf("version: migrate %s->%s: %w", current, step.to, err)
		}
		asset = migrated
		current = step.to
	}
	return asset, nil
}
