package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/aluiziolira/go-scrape-catalogue/config"
	"github.com/aluiziolira/go-scrape-catalogue/models"
)

// NewWriter opens the writer for format at filename.
func NewWriter(format, filename, runID string) (OutputWriter, error) {
	switch format {
	case config.FormatJSON:
		return NewJSONWriter(filename)
	case config.FormatJSONL:
		return NewJSONLWriter(filename)
	case config.FormatCSV:
		return NewCSVWriter(filename)
	case config.FormatDual:
		return NewDualWriter(filename)
	case config.FormatSQLite:
		return NewSQLiteWriter(filename, runID)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

var csvHeader = []string{"product_name", "upc", "price_excluding_tax", "tax", "availability"}

// CSVWriter writes records to CSV.
type CSVWriter struct {
	file   *stagedFile
	writer *csv.Writer
	mu     sync.Mutex
}

// NewCSVWriter initialises a CSV writer and writes the header row.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	f, err := createStaged(filename)
	if err != nil {
		return nil, fmt.Errorf("create csv file: %w", err)
	}

	writer := csv.NewWriter(f)
	if err := writer.Write(csvHeader); err != nil {
		f.Discard()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		f.Discard()
		return nil, fmt.Errorf("flush csv header: %w", err)
	}

	return &CSVWriter{
		file:   f,
		writer: writer,
	}, nil
}

// Write appends records to the CSV output. Absent values are empty cells.
func (cw *CSVWriter) Write(records []*models.ProductRecord) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	for _, record := range records {
		row := []string{
			stringOrEmpty(record.Name),
			record.UPC,
			floatOrEmpty(record.PriceExcludingTax),
			floatOrEmpty(record.Tax),
			strconv.Itoa(record.Availability),
		}
		if err := cw.writer.Write(row); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	return nil
}

// Close flushes the rows and moves the file into place.
func (cw *CSVWriter) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cw.writer.Flush()
	if err := cw.writer.Error(); err != nil {
		cw.file.Discard()
		return fmt.Errorf("flush csv writer: %w", err)
	}
	return cw.file.Commit()
}

// Abort drops the staged file and leaves any previous output untouched.
func (cw *CSVWriter) Abort() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	return cw.file.Discard()
}

// Validate ensures the file has content.
func (cw *CSVWriter) Validate() error {
	return validateFile(cw.file.File, "csv")
}

// JSONWriter writes the catalogue as one JSON object keyed by UPC.
type JSONWriter struct {
	file   *stagedFile
	writer *bufio.Writer
	mu     sync.Mutex
}

// NewJSONWriter initialises the JSON writer.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	f, err := createStaged(filename)
	if err != nil {
		return nil, fmt.Errorf("create json file: %w", err)
	}

	return &JSONWriter{
		file:   f,
		writer: bufio.NewWriter(f),
	}, nil
}

// Write encodes records as a single object. Each call emits one object, so
// callers pass the whole catalogue at once.
func (jw *JSONWriter) Write(records []*models.ProductRecord) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	catalogue := make(models.Catalogue, len(records))
	for _, record := range records {
		catalogue[record.UPC] = record
	}
	if err := json.NewEncoder(jw.writer).Encode(catalogue); err != nil {
		return fmt.Errorf("encode json catalogue: %w", err)
	}
	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush json writer: %w", err)
	}
	return nil
}

// Close flushes buffers and moves the file into place.
func (jw *JSONWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		jw.file.Discard()
		return fmt.Errorf("flush json writer: %w", err)
	}
	return jw.file.Commit()
}

func (jw *JSONWriter) Abort() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	return jw.file.Discard()
}

// Validate ensures the JSON file has data.
func (jw *JSONWriter) Validate() error {
	return validateFile(jw.file.File, "json")
}

// JSONLWriter writes newline-delimited JSON records.
type JSONLWriter struct {
	file    *stagedFile
	writer  *bufio.Writer
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewJSONLWriter initialises the JSONL writer.
func NewJSONLWriter(filename string) (*JSONLWriter, error) {
	f, err := createStaged(filename)
	if err != nil {
		return nil, fmt.Errorf("create jsonl file: %w", err)
	}

	buffer := bufio.NewWriter(f)
	return &JSONLWriter{
		file:    f,
		writer:  buffer,
		encoder: json.NewEncoder(buffer),
	}, nil
}

// Write appends records in JSONL format.
func (jw *JSONLWriter) Write(records []*models.ProductRecord) error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	for _, record := range records {
		if err := jw.encoder.Encode(record); err != nil {
			return fmt.Errorf("encode jsonl record: %w", err)
		}
	}

	if err := jw.writer.Flush(); err != nil {
		return fmt.Errorf("flush jsonl writer: %w", err)
	}
	return nil
}

// Close flushes buffers and moves the file into place.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	if err := jw.writer.Flush(); err != nil {
		jw.file.Discard()
		return fmt.Errorf("flush jsonl writer: %w", err)
	}
	return jw.file.Commit()
}

func (jw *JSONLWriter) Abort() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()
	return jw.file.Discard()
}

// Validate is satisfied by an empty file: an empty catalogue has no lines.
func (jw *JSONLWriter) Validate() error {
	if _, err := jw.file.Stat(); err != nil {
		return fmt.Errorf("stat jsonl file: %w", err)
	}
	return nil
}

// stagedFile is a temporary sibling of target. Commit renames it over
// target; Discard removes it. Either way the handle is closed.
type stagedFile struct {
	*os.File
	target string
	done   bool
}

func createStaged(target string) (*stagedFile, error) {
	if err := ensureDir(target); err != nil {
		return nil, err
	}
	f, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".*.tmp")
	if err != nil {
		return nil, err
	}
	return &stagedFile{File: f, target: target}, nil
}

func (sf *stagedFile) Commit() error {
	if sf.done {
		return nil
	}
	sf.done = true

	name := sf.Name()
	if err := sf.Chmod(0o644); err != nil {
		sf.File.Close()
		os.Remove(name)
		return fmt.Errorf("chmod %s: %w", name, err)
	}
	if err := sf.File.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(name, sf.target); err != nil {
		os.Remove(name)
		return fmt.Errorf("move output into place: %w", err)
	}
	return nil
}

func (sf *stagedFile) Discard() error {
	if sf.done {
		return nil
	}
	sf.done = true

	sf.File.Close()
	if err := os.Remove(sf.Name()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove staged output: %w", err)
	}
	return nil
}

func validateFile(f *os.File, kind string) error {
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s file: %w", kind, err)
	}
	if info.Size() <= 0 {
		return fmt.Errorf("%s file is empty", kind)
	}
	return nil
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func floatOrEmpty(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
