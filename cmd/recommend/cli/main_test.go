package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func offlineEnv(t *testing.T, catalogPath string) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)

	t.Setenv("MODEL_PROVIDER", "mock")
	t.Setenv("EMBEDDING_PROVIDER", "mock")
	t.Setenv("EMBEDDING_DIMENSIONS", "64")
	t.Setenv("MAX_RETRIES", "3")
	t.Setenv("CATALOG_SOURCE", "file")
	t.Setenv("CATALOG_PATH", catalogPath)
	t.Setenv("ROUTINES_DIR", filepath.Join(dir, "routines"))
	t.Setenv("SLACK_WEBHOOK_URL", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")

	analysisPath := filepath.Join(dir, "analysis.json")
	require.NoError(t, os.WriteFile(analysisPath, []byte(`{"skin_type":"oily","top_concerns":["acne"]}`), 0644))
	return analysisPath
}

func writeCatalog(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "products.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(
		`{"key":"cl-1","category":"cleanser","name":"Gel Wash","ingredients":["Salicylic Acid"]}`+"\n"+
			`{"key":"mo-1","category":"moisturizer","name":"Gel Cream","ingredients":["Niacinamide"]}`+"\n",
	), 0644))
	return path
}

func TestRun_ExitCodes(t *testing.T) {
	tests := []struct {
		name     string
		catalog  func(t *testing.T) string
		analysis func(analysisPath string) string
		want     int
	}{
		{
			name:     "approved session",
			catalog:  writeCatalog,
			analysis: func(p string) string { return p },
			want:     0,
		},
		{
			name:     "session fails reading catalog",
			catalog:  func(t *testing.T) string { return filepath.Join(t.TempDir(), "missing.jsonl") },
			analysis: func(p string) string { return p },
			want:     1,
		},
		{
			name:     "analysis file missing",
			catalog:  writeCatalog,
			analysis: func(p string) string { return p + ".missing" },
			want:     1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			analysisPath := offlineEnv(t, tt.catalog(t))
			assert.Equal(t, tt.want, run([]string{tt.analysis(analysisPath), "cli-session"}))
		})
	}
}

func TestArgOr(t *testing.T) {
	assert.Equal(t, "a.json", argOr([]string{"a.json"}, 0, "default.json"))
	assert.Equal(t, "default-id", argOr([]string{"a.json"}, 1, "default-id"))
	assert.Equal(t, "default.json", argOr(nil, 0, "default.json"))
}
