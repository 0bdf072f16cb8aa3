package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"skinroutine"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
)

// listProductsQuery reads the products table. ingredients is a jsonb array and
// embedding a pgvector or jsonb column; both text forms are JSON arrays.
const listProductsQuery = `SELECT product_key, category, brand, name, description, ingredients::text, embedding::text
FROM products
WHERE $1 = '' OR lower(category) = lower($1)
ORDER BY product_key`

// PGCatalogStore reads the catalog from Postgres.
type PGCatalogStore struct {
	db *sql.DB
}

func NewPGCatalogStore(db *sql.DB) *PGCatalogStore {
	return &PGCatalogStore{db: db}
}

// OpenPGCatalogStore connects through the pgx driver and checks the connection.
func OpenPGCatalogStore(ctx context.Context, dsn string) (*PGCatalogStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPGCatalogStore(db), nil
}

func (p *PGCatalogStore) Close() error {
	return p.db.Close()
}

func (p *PGCatalogStore) ListItems(ctx context.Context, category string) ([]skinroutine.CatalogItem, error) {
	rows, err := p.db.QueryContext(ctx, listProductsQuery, category)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	items := make([]skinroutine.CatalogItem, 0)
	for rows.Next() {
		var (
			item                       skinroutine.CatalogItem
			brand, name, description   sql.NullString
			ingredientsJSON, embedding sql.NullString
		)
		if err := rows.Scan(&item.Key, &item.Category, &brand, &name, &description, &ingredientsJSON, &embedding); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		item.Brand, item.Name, item.Description = brand.String, name.String, description.String

		if ingredientsJSON.Valid && ingredientsJSON.String != "" {
			if err := json.Unmarshal([]byte(ingredientsJSON.String), &item.Ingredients); err != nil {
				return nil, fmt.Errorf("product %q ingredients: %w", item.Key, err)
			}
		}
		if embedding.Valid && embedding.String != "" {
			if err := json.Unmarshal([]byte(embedding.String), &item.Embedding); err != nil {
				return nil, fmt.Errorf("product %q embedding: %w", item.Key, err)
			}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return items, nil
}
