package pipeline

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-catalogue/models"

	_ "modernc.org/sqlite"
)

const createProductsTableSQL = `
CREATE TABLE IF NOT EXISTS products (
	"upc" TEXT NOT NULL PRIMARY KEY,
	"product_name" TEXT,
	"price_excluding_tax" REAL,
	"tax" REAL,
	"availability" INTEGER NOT NULL DEFAULT 0,
	"run_id" TEXT,
	"scraped_at" DATETIME
);`

const upsertProductSQL = `
INSERT INTO products (upc, product_name, price_excluding_tax, tax, availability, run_id, scraped_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(upc) DO UPDATE SET
	product_name = excluded.product_name,
	price_excluding_tax = excluded.price_excluding_tax,
	tax = excluded.tax,
	availability = excluded.availability,
	run_id = excluded.run_id,
	scraped_at = excluded.scraped_at;`

// SQLiteWriter upserts records into a products table keyed by UPC, so
// repeated runs refresh rows instead of duplicating them.
type SQLiteWriter struct {
	db    *sql.DB
	runID string
	mu    sync.Mutex
}

// NewSQLiteWriter opens (or creates) the database at filename.
func NewSQLiteWriter(filename, runID string) (*SQLiteWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}
	if _, err := db.Exec(createProductsTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create products table: %w", err)
	}

	return &SQLiteWriter{db: db, runID: runID}, nil
}

// Write upserts records in a single transaction.
func (sw *SQLiteWriter) Write(records []*models.ProductRecord) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	tx, err := sw.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	stmt, err := tx.Prepare(upsertProductSQL)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	scrapedAt := time.Now().UTC().Format(time.RFC3339)
	for _, record := range records {
		if _, err := stmt.Exec(
			record.UPC,
			record.Name,
			record.PriceExcludingTax,
			record.Tax,
			record.Availability,
			sw.runID,
			scrapedAt,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("upsert product %s: %w", record.UPC, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit products: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (sw *SQLiteWriter) Close() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.db.Close()
}

// Abort closes the database. Rows from a failed Write were rolled back
// with its transaction.
func (sw *SQLiteWriter) Abort() error {
	return sw.Close()
}

// Validate ensures the products table is readable.
func (sw *SQLiteWriter) Validate() error {
	var count int
	if err := sw.db.QueryRow(`SELECT COUNT(*) FROM products`).Scan(&count); err != nil {
		return fmt.Errorf("count products: %w", err)
	}
	return nil
}
