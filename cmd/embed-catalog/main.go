package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"skinroutine"
	"skinroutine/internal/wire"
	"skinroutine/storage"
)

const defaultBatchSize = 32

// Usage: embed-catalog [in.jsonl] [out.jsonl] [batch-size]
func main() {
	ctx := context.Background()

	cfg, err := wire.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to decode: %s", err)
	}

	in := argOr(1, cfg.Storage.CatalogPath)
	out := argOr(2, in)
	batchSize, err := strconv.Atoi(argOr(3, strconv.Itoa(defaultBatchSize)))
	if err != nil || batchSize <= 0 {
		log.Fatalf("Invalid batch size %q", argOr(3, ""))
	}

	embedder, err := wire.NewFactory(cfg).Embedder(ctx)
	if err != nil {
		slog.Error("SETUP: Failed to create embedder", "error", err)
		os.Exit(1)
	}

	items, err := storage.NewFileCatalogStore(in).ListItems(ctx, "")
	if err != nil {
		slog.Error("SETUP: Failed to read catalog", "path", in, "error", err)
		os.Exit(1)
	}

	stats := embedCatalog(ctx, embedder, items, batchSize)
	slog.Info("EMBED: Finished", "items", len(items), "embedded", stats.embedded, "already_embedded", stats.skipped, "failed", stats.failed)

	if err := writeCatalog(out, items); err != nil {
		slog.Error("EMBED: Failed to write catalog", "path", out, "error", err)
		os.Exit(1)
	}
}

type embedStats struct {
	embedded int
	skipped  int
	failed   int
}

// embedCatalog fills in missing vectors in place. A failed batch is retried
// item by item so one bad item does not cost the whole batch.
func embedCatalog(ctx context.Context, embedder skinroutine.Embedder, items []skinroutine.CatalogItem, batchSize int) embedStats {
	var stats embedStats
	pending := make([]int, 0, len(items))
	for i := range items {
		if len(items[i].Embedding) > 0 {
			stats.skipped++
			continue
		}
		pending = append(pending, i)
	}

	for start := 0; start < len(pending); start += batchSize {
		batch := pending[start:min(start+batchSize, len(pending))]
		texts := make([]string, len(batch))
		for j, idx := range batch {
			texts[j] = items[idx].EmbeddingText()
		}

		vecs, err := embedder.EmbedBatch(ctx, texts)
		if err == nil && len(vecs) == len(batch) {
			for j, idx := range batch {
				items[idx].Embedding = vecs[j]
			}
			stats.embedded += len(batch)
			slog.Info("EMBED: Batch embedded", "from", start, "size", len(batch))
			continue
		}

		slog.Warn("EMBED: Batch failed, falling back to single items", "from", start, "error", err)
		for j, idx := range batch {
			vec, err := embedder.Embed(ctx, texts[j])
			if err != nil {
				slog.Warn("EMBED: Item failed", "key", items[idx].Key, "error", err)
				stats.failed++
				continue
			}
			items[idx].Embedding = vec
			stats.embedded++
		}
	}
	return stats
}

// writeCatalog replaces path atomically.
func writeCatalog(path string, items []skinroutine.CatalogItem) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := storage.WriteCatalogJSONL(tmp, items); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	return os.Rename(tmp.Name(), path)
}

func argOr(i int, def string) string {
	if len(os.Args) > i {
		return os.Args[i]
	}
	return def
}
