package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/c360studio/desai/weburl"
	"github.com/c360studio/desai/workflow"
)

// Table is an ordered set of records sharing one header.
type Table struct {
	Columns []string
	Records [][]string
}

// Len returns the number of records.
func (t Table) Len() int {
	return len(t.Records)
}

// FromRows lays rows out under columns. Unknown columns are empty.
func FromRows(rows []workflow.NormalizedRow, columns []string) Table {
	t := Table{Columns: columns, Records: make([][]string, len(rows))}
	for i, r := range rows {
		t.Records[i] = r.Record(columns)
	}
	return t
}

// FromMaps lays out free-form records under columns.
func FromMaps(records []map[string]string, columns []string) Table {
	t := Table{Columns: columns, Records: make([][]string, len(records))}
	for i, m := range records {
		rec := make([]string, len(columns))
		for j, c := range columns {
			rec[j] = m[c]
		}
		t.Records[i] = rec
	}
	return t
}

// Exporter writes a table and returns where it went.
type Exporter interface {
	Export(name string, t Table) (string, error)
}

// FileExporter writes tables into a directory as
// <name>_<timestamp><ext>.
type FileExporter struct {
	dir    string
	format Format
	now    func() time.Time
}

var _ Exporter = (*FileExporter)(nil)

// NewFileExporter creates an exporter writing into dir. The directory is
// created on first export.
func NewFileExporter(dir string, format Format) (*FileExporter, error) {
	if _, ok := GetFormatInfo(format); !ok {
		return nil, fmt.Errorf("unknown export format %q", format)
	}
	if dir == "" {
		dir = "."
	}
	return &FileExporter{dir: dir, format: format, now: time.Now}, nil
}

// Dir returns the output directory.
func (e *FileExporter) Dir() string {
	return e.dir
}

// Export writes t to a new file and returns its path. name is reduced to a
// filesystem-safe slug.
func (e *FileExporter) Export(name string, t Table) (string, error) {
	info, _ := GetFormatInfo(e.format)

	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}

	filename := fmt.Sprintf("%s_%s%s", weburl.Slug(name), e.now().UTC().Format("20060102T150405Z"), info.Extension)
	path := filepath.Join(e.dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create export file: %w", err)
	}

	if err := Write(f, e.format, t); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close export file: %w", err)
	}
	return path, nil
}

// Write encodes t to w in the given format.
func Write(w io.Writer, format Format, t Table) error {
	switch format {
	case FormatCSV:
		return writeCSV(w, t)
	case FormatJSONL:
		return writeJSONL(w, t)
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}

func writeCSV(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := cw.WriteAll(t.Records); err != nil {
		return fmt.Errorf("write records: %w", err)
	}
	return nil
}

func writeJSONL(w io.Writer, t Table) error {
	enc := json.NewEncoder(w)
	for _, rec := range t.Records {
		obj := make(map[string]string, len(t.Columns))
		for i, c := range t.Columns {
			if i < len(rec) {
				obj[c] = rec[i]
			}
		}
		if err := enc.Encode(obj); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}
	return nil
}
