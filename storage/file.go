package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"skinroutine"
)

// FileCatalogStore reads a JSONL catalog from disk on every call, so the
// file can be regenerated between sessions.
type FileCatalogStore struct {
	FilePath string
}

func NewFileCatalogStore(filePath string) *FileCatalogStore {
	return &FileCatalogStore{FilePath: filePath}
}

func (f *FileCatalogStore) ListItems(ctx context.Context, category string) ([]skinroutine.CatalogItem, error) {
	fh, err := os.Open(f.FilePath)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	items, err := ReadCatalogJSONL(fh)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.FilePath, err)
	}
	return filterCategory(items, category), nil
}

// FileRoutineStore writes one JSON document per session into Dir.
type FileRoutineStore struct {
	Dir string
}

func NewFileRoutineStore(dir string) *FileRoutineStore {
	return &FileRoutineStore{Dir: dir}
}

func (f *FileRoutineStore) path(sessionID string) string {
	return filepath.Join(f.Dir, sessionID+".json")
}

func (f *FileRoutineStore) Upsert(ctx context.Context, routine skinroutine.SavedRoutine) error {
	if err := validSessionID(routine.SessionID); err != nil {
		return err
	}
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return fmt.Errorf("create routines dir: %w", err)
	}

	data, err := json.MarshalIndent(routine, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal routine: %w", err)
	}

	// Write then rename so readers never see a partial document.
	tmp, err := os.CreateTemp(f.Dir, routine.SessionID+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write routine: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close routine: %w", err)
	}
	return os.Rename(tmp.Name(), f.path(routine.SessionID))
}

func (f *FileRoutineStore) Get(ctx context.Context, sessionID string) (skinroutine.SavedRoutine, error) {
	if err := validSessionID(sessionID); err != nil {
		return skinroutine.SavedRoutine{}, err
	}
	data, err := os.ReadFile(f.path(sessionID))
	if errors.Is(err, os.ErrNotExist) {
		return skinroutine.SavedRoutine{}, fmt.Errorf("routine %q: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return skinroutine.SavedRoutine{}, err
	}

	var routine skinroutine.SavedRoutine
	if err := json.Unmarshal(data, &routine); err != nil {
		return skinroutine.SavedRoutine{}, fmt.Errorf("decode routine %q: %w", sessionID, err)
	}
	return routine, nil
}
