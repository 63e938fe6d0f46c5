package persist

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryProvider is an in-memory Provider for testing and
// single-process use. All data is lost when the process exits.
//
// Thread-safe.
type MemoryProvider struct {
	mu          sync.RWMutex
	versions    map[uuid.UUID][]Snapshot
	maxVersions int
}

// NewMemoryProvider creates an in-memory snapshot store.
// maxVersions bounds retained history per execution; 0 = unlimited.
func NewMemoryProvider(maxVersions int) *MemoryProvider {
	return &MemoryProvider{
		versions:    make(map[uuid.UUID][]Snapshot),
		maxVersions: maxVersions,
	}
}

// Save implements Provider.
func (m *MemoryProvider) Save(ctx context.Context, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// Copy the property map so later foundry writes do not mutate the
	// stored version.
	props := make(map[string]any, len(snap.Properties))
	for k, v := range snap.Properties {
		props[k] = v
	}
	snap.Properties = props

	m.mu.Lock()
	defer m.mu.Unlock()

	history := append(m.versions[snap.ExecutionID], snap)
	if m.maxVersions > 0 && len(history) > m.maxVersions {
		history = history[len(history)-m.maxVersions:]
	}
	m.versions[snap.ExecutionID] = history
	return nil
}

// TryLoad implements Provider.
func (m *MemoryProvider) TryLoad(ctx context.Context, executionID uuid.UUID) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	history := m.versions[executionID]
	if len(history) == 0 {
		return Snapshot{}, ErrNotFound
	}

	snap := history[len(history)-1]
	props := make(map[string]any, len(snap.Properties))
	for k, v := range snap.Properties {
		props[k] = v
	}
	snap.Properties = props
	return snap, nil
}

// Delete implements Provider.
func (m *MemoryProvider) Delete(ctx context.Context, executionID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.versions, executionID)
	return nil
}

// ListPending implements Catalog. Snapshots are returned oldest first
// by SavedAt so resume order is stable.
func (m *MemoryProvider) ListPending(ctx context.Context) ([]Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Snapshot, 0, len(m.versions))
	for _, history := range m.versions {
		if len(history) == 0 {
			continue
		}
		out = append(out, history[len(history)-1])
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SavedAt.Before(out[j].SavedAt)
	})
	return out, nil
}

// VersionCount returns the number of retained versions for an
// execution. Useful in tests asserting MaxVersions purging.
func (m *MemoryProvider) VersionCount(executionID uuid.UUID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.versions[executionID])
}
