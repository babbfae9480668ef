package pipeline

import (
	"bufio"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aluiziolira/go-scrape-catalogue/config"
	"github.com/aluiziolira/go-scrape-catalogue/models"
)

func sampleRecords() []*models.ProductRecord {
	name := "Test Book"
	price := 51.77
	tax := 0.0
	return []*models.ProductRecord{
		{Name: &name, UPC: "a897fe39b1053632", PriceExcludingTax: &price, Tax: &tax, Availability: 22},
		{Name: nil, UPC: "b000000000000001", PriceExcludingTax: nil, Tax: nil, Availability: 0},
	}
}

func TestCSVWriterWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "products.csv")

	writer, err := NewCSVWriter(path)
	if err != nil {
		t.Fatalf("create csv writer: %v", err)
	}
	if err := writer.Write(sampleRecords()); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate csv: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close csv: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("records=%d, want 3", len(records))
	}
	want := []string{"Test Book", "a897fe39b1053632", "51.77", "0", "22"}
	for i, value := range want {
		if records[1][i] != value {
			t.Fatalf("row[%d]=%q, want %q", i, records[1][i], value)
		}
	}
	if records[2][0] != "" || records[2][2] != "" || records[2][3] != "" {
		t.Fatalf("absent values should be empty cells, got %v", records[2])
	}
}

func TestJSONWriterWritesCatalogueObject(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "db.json")

	writer, err := NewJSONWriter(path)
	if err != nil {
		t.Fatalf("create json writer: %v", err)
	}
	if err := writer.Write(sampleRecords()); err != nil {
		t.Fatalf("write json: %v", err)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate json: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close json: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read json: %v", err)
	}
	var decoded map[string]map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode json: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("entries=%d, want 2", len(decoded))
	}
	missing := decoded["b000000000000001"]
	for _, key := range []string{"product_name", "price_excluding_tax", "tax"} {
		value, ok := missing[key]
		if !ok || value != nil {
			t.Fatalf("%s = %v (present=%v), want explicit null", key, value, ok)
		}
	}
	if got := decoded["a897fe39b1053632"]["availability"]; got != float64(22) {
		t.Fatalf("availability = %v, want 22", got)
	}
}

func TestJSONLWriterWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "products.jsonl")

	writer, err := NewJSONLWriter(path)
	if err != nil {
		t.Fatalf("create jsonl writer: %v", err)
	}
	if err := writer.Write(sampleRecords()); err != nil {
		t.Fatalf("write jsonl: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close jsonl: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open jsonl: %v", err)
	}
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var record models.ProductRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			t.Fatalf("decode line %d: %v", lines, err)
		}
		lines++
	}
	if lines != 2 {
		t.Fatalf("lines=%d, want 2", lines)
	}
}

func TestNewWriterDualDerivesFilenames(t *testing.T) {
	dir := t.TempDir()
	writer, err := NewWriter(config.FormatDual, filepath.Join(dir, "db.json"), "")
	if err != nil {
		t.Fatalf("create dual writer: %v", err)
	}
	if err := writer.Write(sampleRecords()); err != nil {
		t.Fatalf("write dual: %v", err)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate dual: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close dual: %v", err)
	}

	for _, name := range []string{"db.csv", "db.json"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("expected %s: %v", name, err)
		}
	}
}

func TestNewWriterRejectsUnknownFormat(t *testing.T) {
	if _, err := NewWriter("xml", filepath.Join(t.TempDir(), "out.xml"), ""); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}

func TestSQLiteWriterUpserts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "products.db")

	writer, err := NewSQLiteWriter(path, "run-1")
	if err != nil {
		t.Fatalf("create sqlite writer: %v", err)
	}
	records := sampleRecords()
	if err := writer.Write(records); err != nil {
		t.Fatalf("write sqlite: %v", err)
	}

	records[0].Availability = 3
	if err := writer.Write(records[:1]); err != nil {
		t.Fatalf("rewrite sqlite: %v", err)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate sqlite: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close sqlite: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("reopen sqlite: %v", err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM products`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("rows=%d, want 2", count)
	}

	var availability int
	var runID string
	if err := db.QueryRow(`SELECT availability, run_id FROM products WHERE upc = ?`, "a897fe39b1053632").Scan(&availability, &runID); err != nil {
		t.Fatalf("select: %v", err)
	}
	if availability != 3 || runID != "run-1" {
		t.Fatalf("availability=%d run_id=%q, want 3/run-1", availability, runID)
	}

	var name sql.NullString
	var price sql.NullFloat64
	if err := db.QueryRow(`SELECT product_name, price_excluding_tax FROM products WHERE upc = ?`, "b000000000000001").Scan(&name, &price); err != nil {
		t.Fatalf("select nulls: %v", err)
	}
	if name.Valid || price.Valid {
		t.Fatalf("absent values should be NULL, got %v/%v", name, price)
	}
}

func TestFanOutWriterStopsWriteAndJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	first := &mockWriter{writeErr: boom, validateErr: boom}
	second := &mockWriter{validateErr: boom}
	fw := &FanOutWriter{sinks: []namedWriter{
		{name: "first", OutputWriter: first},
		{name: "second", OutputWriter: second},
	}}

	if err := fw.Write(sampleRecords()); !errors.Is(err, boom) {
		t.Fatalf("write error = %v, want boom", err)
	}
	if len(second.all()) != 0 {
		t.Fatalf("second sink written after first failed")
	}

	err := fw.Validate()
	if err == nil || !strings.Contains(err.Error(), "first sink") || !strings.Contains(err.Error(), "second sink") {
		t.Fatalf("validate error = %v, want both sinks", err)
	}
	if err := fw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !first.closed || !second.closed {
		t.Fatalf("every sink should be closed")
	}
}

func TestStagedWritersPublishOnCloseOnly(t *testing.T) {
	tests := []struct {
		name string
		open func(string) (OutputWriter, error)
	}{
		{name: "csv", open: func(p string) (OutputWriter, error) { return NewCSVWriter(p) }},
		{name: "json", open: func(p string) (OutputWriter, error) { return NewJSONWriter(p) }},
		{name: "jsonl", open: func(p string) (OutputWriter, error) { return NewJSONLWriter(p) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "out."+tt.name)
			previous := []byte("previous run\n")
			if err := os.WriteFile(path, previous, 0o644); err != nil {
				t.Fatalf("seed output: %v", err)
			}

			aborted, err := tt.open(path)
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			if err := aborted.Write(sampleRecords()); err != nil {
				t.Fatalf("write: %v", err)
			}
			if data, _ := os.ReadFile(path); string(data) != string(previous) {
				t.Fatalf("target changed before close: %q", data)
			}
			if err := aborted.Abort(); err != nil {
				t.Fatalf("abort: %v", err)
			}
			if data, _ := os.ReadFile(path); string(data) != string(previous) {
				t.Fatalf("abort replaced previous output: %q", data)
			}
			assertOnlyFile(t, dir, "out."+tt.name)

			published, err := tt.open(path)
			if err != nil {
				t.Fatalf("reopen: %v", err)
			}
			if err := published.Write(sampleRecords()); err != nil {
				t.Fatalf("write: %v", err)
			}
			if err := published.Close(); err != nil {
				t.Fatalf("close: %v", err)
			}
			if err := published.Abort(); err != nil {
				t.Fatalf("abort after close: %v", err)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("read output: %v", err)
			}
			if !strings.Contains(string(data), "a897fe39b1053632") {
				t.Fatalf("close did not publish new output: %q", data)
			}
			assertOnlyFile(t, dir, "out."+tt.name)
		})
	}
}

func TestNewDualWriterAbortKeepsBothFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"db.csv", "db.json"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("previous\n"), 0o644); err != nil {
			t.Fatalf("seed %s: %v", name, err)
		}
	}

	writer, err := NewDualWriter(filepath.Join(dir, "db.json"))
	if err != nil {
		t.Fatalf("create dual writer: %v", err)
	}
	if err := writer.Write(sampleRecords()); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := writer.Abort(); err != nil {
		t.Fatalf("abort: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want the two seeded files", len(entries))
	}
	for _, name := range []string{"db.csv", "db.json"} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil || string(data) != "previous\n" {
			t.Fatalf("%s = %q (%v), want previous contents", name, data, err)
		}
	}
}

func assertOnlyFile(t *testing.T, dir, name string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != name {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("directory holds %v, want only %s", names, name)
	}
}
