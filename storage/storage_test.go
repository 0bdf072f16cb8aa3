package storage

import (
	"context"
	"errors"
	"testing"

	"skinroutine"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var catalog = []skinroutine.CatalogItem{
	{Key: "c1", Category: "Cleanser", Name: "Gel Wash"},
	{Key: "s1", Category: "serum", Name: "Niacinamide 10%"},
	{Key: "c2", Category: " cleanser ", Name: "Cream Wash"},
}

func TestMemoryCatalogStore(t *testing.T) {
	tests := []struct {
		name     string
		category string
		wantKeys []string
	}{
		{name: "all items", category: "", wantKeys: []string{"c1", "s1", "c2"}},
		{name: "category is case and space insensitive", category: "CLEANSER", wantKeys: []string{"c1", "c2"}},
		{name: "unknown category", category: "toner", wantKeys: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := NewMemoryCatalogStore(catalog).ListItems(context.Background(), tt.category)
			require.NoError(t, err)
			keys := make([]string, 0, len(items))
			for _, it := range items {
				keys = append(keys, it.Key)
			}
			assert.Equal(t, tt.wantKeys, keys)
		})
	}

	t.Run("error", func(t *testing.T) {
		boom := errors.New("unavailable")
		_, err := NewMemoryCatalogStoreWithError(boom).ListItems(context.Background(), "")
		assert.ErrorIs(t, err, boom)
	})
}

func TestMemoryRoutineStore(t *testing.T) {
	store := NewMemoryRoutineStore()
	ctx := context.Background()

	_, err := store.Get(ctx, "s-1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Upsert(ctx, skinroutine.SavedRoutine{SessionID: "s-1", Attempts: 1}))
	require.NoError(t, store.Upsert(ctx, skinroutine.SavedRoutine{SessionID: "s-1", Attempts: 2}))

	got, err := store.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Attempts, "upsert replaces")

	assert.Error(t, store.Upsert(ctx, skinroutine.SavedRoutine{}))
}

func TestValidSessionID(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{id: "9b2c6a4e-1f0d-4a8e-b1a3-3c2d1e0f9a8b"},
		{id: "", wantErr: true},
		{id: "   ", wantErr: true},
		{id: "../etc/passwd", wantErr: true},
		{id: `a\b`, wantErr: true},
		{id: "..", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			err := validSessionID(tt.id)
			assert.Equal(t, tt.wantErr, err != nil)
		})
	}
}
