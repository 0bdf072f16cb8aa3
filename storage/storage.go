package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"skinroutine"
)

// ErrNotFound is returned by routine stores when no routine exists for a session.
var ErrNotFound = errors.New("not found")

func matchesCategory(item skinroutine.CatalogItem, category string) bool {
	want := strings.ToLower(strings.TrimSpace(category))
	return want == "" || strings.ToLower(strings.TrimSpace(item.Category)) == want
}

func filterCategory(items []skinroutine.CatalogItem, category string) []skinroutine.CatalogItem {
	out := make([]skinroutine.CatalogItem, 0, len(items))
	for _, it := range items {
		if matchesCategory(it, category) {
			out = append(out, it)
		}
	}
	return out
}

func validSessionID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("session id is required")
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return fmt.Errorf("invalid session id %q", id)
	}
	return nil
}

// MemoryCatalogStore is an in-memory catalog, used by tests and demos.
type MemoryCatalogStore struct {
	items []skinroutine.CatalogItem
	err   error
}

func NewMemoryCatalogStore(items []skinroutine.CatalogItem) *MemoryCatalogStore {
	return &MemoryCatalogStore{items: items}
}

func NewMemoryCatalogStoreWithError(err error) *MemoryCatalogStore {
	return &MemoryCatalogStore{err: err}
}

func (m *MemoryCatalogStore) ListItems(ctx context.Context, category string) ([]skinroutine.CatalogItem, error) {
	if m.err != nil {
		return nil, m.err
	}
	return filterCategory(m.items, category), nil
}

// MemoryRoutineStore keeps saved routines in a map.
type MemoryRoutineStore struct {
	mu       sync.RWMutex
	routines map[string]skinroutine.SavedRoutine
}

func NewMemoryRoutineStore() *MemoryRoutineStore {
	return &MemoryRoutineStore{routines: map[string]skinroutine.SavedRoutine{}}
}

func (m *MemoryRoutineStore) Upsert(ctx context.Context, routine skinroutine.SavedRoutine) error {
	if err := validSessionID(routine.SessionID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routines[routine.SessionID] = routine
	return nil
}

func (m *MemoryRoutineStore) Get(ctx context.Context, sessionID string) (skinroutine.SavedRoutine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.routines[sessionID]
	if !ok {
		return skinroutine.SavedRoutine{}, fmt.Errorf("routine %q: %w", sessionID, ErrNotFound)
	}
	return r, nil
}
