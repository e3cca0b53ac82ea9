package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/aluiziolira/meli-harvester/models"
	"github.com/aluiziolira/meli-harvester/parser"
)

// exportFile owns one output file and counts the records written to it.
type exportFile struct {
	mu   sync.Mutex
	kind string
	path string
	file *os.File
	rows int
}

func createExportFile(kind, filename string) (*exportFile, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}
	f, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("create %s file: %w", kind, err)
	}
	return &exportFile{kind: kind, path: filename, file: f}, nil
}

// Validate fails when no record reached the file.
func (e *exportFile) Validate() error {
	e.mu.Lock()
	rows := e.rows
	e.mu.Unlock()

	if _, err := os.Stat(e.path); err != nil {
		return fmt.Errorf("stat %s file: %w", e.kind, err)
	}
	if rows == 0 {
		return fmt.Errorf("%s export %s holds no records", e.kind, e.path)
	}
	return nil
}

// Paths lists the files produced by the writer.
func (e *exportFile) Paths() []string {
	return []string{e.path}
}

// write runs encode under the file lock, then flush, and counts the batch.
func (e *exportFile) write(records []*models.ProductRecord, encode func(*models.ProductRecord) error, flush func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, record := range records {
		if err := encode(record); err != nil {
			return fmt.Errorf("encode %s record %s: %w", e.kind, record.ID, err)
		}
	}
	if err := flush(); err != nil {
		return fmt.Errorf("flush %s records: %w", e.kind, err)
	}
	e.rows += len(records)
	return nil
}

func (e *exportFile) close(flush func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := flush(); err != nil {
		e.file.Close()
		return fmt.Errorf("flush %s writer: %w", e.kind, err)
	}
	return e.file.Close()
}

// CSVWriter writes records to a ';'-separated CSV file with the checkpoint
// column layout.
type CSVWriter struct {
	*exportFile
	writer *csv.Writer
}

// NewCSVWriter creates the file and writes the header row.
func NewCSVWriter(filename string) (*CSVWriter, error) {
	file, err := createExportFile("csv", filename)
	if err != nil {
		return nil, err
	}

	writer := csv.NewWriter(file.file)
	writer.Comma = Separator
	cw := &CSVWriter{exportFile: file, writer: writer}
	if err := writer.Write(parser.Header()); err != nil {
		file.file.Close()
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	if err := cw.flush(); err != nil {
		file.file.Close()
		return nil, fmt.Errorf("flush csv header: %w", err)
	}
	return cw, nil
}

// Write appends one row per record.
func (cw *CSVWriter) Write(records []*models.ProductRecord) error {
	return cw.write(records, func(r *models.ProductRecord) error {
		return cw.writer.Write(parser.EncodeRow(r))
	}, cw.flush)
}

// Close flushes and closes the file.
func (cw *CSVWriter) Close() error {
	return cw.close(cw.flush)
}

func (cw *CSVWriter) flush() error {
	cw.writer.Flush()
	return cw.writer.Error()
}

// JSONWriter writes one JSON object per line. Missing fields are null.
type JSONWriter struct {
	*exportFile
	buffer  *bufio.Writer
	encoder *json.Encoder
}

// NewJSONWriter creates the file.
func NewJSONWriter(filename string) (*JSONWriter, error) {
	file, err := createExportFile("json", filename)
	if err != nil {
		return nil, err
	}
	buffer := bufio.NewWriter(file.file)
	return &JSONWriter{
		exportFile: file,
		buffer:     buffer,
		encoder:    json.NewEncoder(buffer),
	}, nil
}

// Write appends one line per record.
func (jw *JSONWriter) Write(records []*models.ProductRecord) error {
	return jw.write(records, func(r *models.ProductRecord) error {
		return jw.encoder.Encode(r)
	}, jw.buffer.Flush)
}

// Close flushes and closes the file.
func (jw *JSONWriter) Close() error {
	return jw.close(jw.buffer.Flush)
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
