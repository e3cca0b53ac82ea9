package pipeline

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/aluiziolira/meli-harvester/models"
	"github.com/aluiziolira/meli-harvester/parser"
)

// Separator is the field delimiter of checkpoint and export CSV files.
const Separator = ';'

// CheckpointStore persists one CSV file per category under a folder.
// It is the only component that writes those files.
type CheckpointStore struct {
	dir string
}

// NewCheckpointStore creates dir when needed.
func NewCheckpointStore(dir string) (*CheckpointStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("checkpoint folder cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint folder %q: %w", dir, err)
	}
	return &CheckpointStore{dir: dir}, nil
}

// Dir returns the checkpoint folder.
func (s *CheckpointStore) Dir() string {
	return s.dir
}

// Path returns <folder>/<category_id>.csv.
func (s *CheckpointStore) Path(categoryID string) string {
	name := strings.NewReplacer("/", "_", `\`, "_").Replace(categoryID)
	return filepath.Join(s.dir, name+".csv")
}

// Exists reports whether a checkpoint file is present for the category.
func (s *CheckpointStore) Exists(categoryID string) bool {
	info, err := os.Stat(s.Path(categoryID))
	return err == nil && info.Mode().IsRegular()
}

// Load reads a checkpoint. Rows whose category_name is empty take the name
// of category.
func (s *CheckpointStore) Load(category models.Category) (*models.CategoryDataset, error) {
	path := s.Path(category.ID)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}
	defer f.Close()

	records, err := ReadRecords(f)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint %s: %w", path, err)
	}
	for _, r := range records {
		if r.CategoryName == "" {
			r.CategoryName = category.Name
		}
	}
	return &models.CategoryDataset{Category: category, Records: records}, nil
}

// Save writes the dataset atomically: a temporary file in the same folder is
// renamed over the checkpoint once fully written.
func (s *CheckpointStore) Save(ds *models.CategoryDataset) (err error) {
	if ds == nil {
		return fmt.Errorf("nil dataset")
	}
	path := s.Path(ds.Category.ID)

	tmp, err := os.CreateTemp(s.dir, ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err = WriteRecords(tmp, ds.Records); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	// CreateTemp uses 0600; checkpoints match the export files
	if err = tmp.Chmod(0o644); err != nil {
		return fmt.Errorf("chmod checkpoint: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

// Remove deletes a checkpoint; a missing file is not an error.
func (s *CheckpointStore) Remove(categoryID string) error {
	if err := os.Remove(s.Path(categoryID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	return nil
}

// WriteRecords writes a header row followed by one row per record.
func WriteRecords(w io.Writer, records []*models.ProductRecord) error {
	writer := csv.NewWriter(w)
	writer.Comma = Separator
	if err := writer.Write(parser.Header()); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range records {
		if err := writer.Write(parser.EncodeRow(r)); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadRecords decodes a CSV table written by WriteRecords or by older
// exports with reordered or missing columns.
func ReadRecords(r io.Reader) ([]*models.ProductRecord, error) {
	reader := csv.NewReader(r)
	reader.Comma = Separator
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("missing header row")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	decoder, err := parser.NewRowDecoder(header)
	if err != nil {
		return nil, err
	}

	var records []*models.ProductRecord
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", line, err)
		}
		record, err := decoder.Decode(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		if record.ID == "" {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}
