package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"skinroutine"
)

// Lines carrying 1024-dim embeddings run to tens of kilobytes.
const maxLineSize = 16 * 1024 * 1024

// ReadCatalogJSONL parses one CatalogItem per line. Blank lines are skipped.
func ReadCatalogJSONL(r io.Reader) ([]skinroutine.CatalogItem, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	items := make([]skinroutine.CatalogItem, 0)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var item skinroutine.CatalogItem
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("catalog line %d: %w", line, err)
		}
		if item.Key == "" {
			return nil, fmt.Errorf("catalog line %d: missing key", line)
		}
		items = append(items, item)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return items, nil
}

// WriteCatalogJSONL writes one CatalogItem per line.
func WriteCatalogJSONL(w io.Writer, items []skinroutine.CatalogItem) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	for _, item := range items {
		if err := enc.Encode(item); err != nil {
			return fmt.Errorf("write catalog item %q: %w", item.Key, err)
		}
	}
	return bw.Flush()
}
