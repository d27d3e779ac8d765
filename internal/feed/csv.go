package feed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/alanyoungcy/tickbot/internal/domain"
)

// Table is a CSV file held in memory, rows sorted oldest to newest.
type Table struct {
	Header  []string
	Rows    [][]string
	times   []time.Time
	timeCol int
	symCol  int
}

// ReadTable parses CSV from r and stable-sorts its rows by the date column
// when one is present. Rows whose date does not parse keep their relative
// position at the front.
func ReadTable(r io.Reader, codec Codec) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("feed: csv: empty input")
		}
		return nil, fmt.Errorf("feed: csv: read header: %w", err)
	}
	header[0] = strings.TrimPrefix(header[0], "\ufeff")

	t := &Table{Header: header, timeCol: -1, symCol: -1}
	for i, h := range header {
		key := normalizeKey(h)
		if t.timeCol < 0 && containsKey(timeKeys, key) {
			t.timeCol = i
		}
		if t.symCol < 0 && containsKey(symbolKeys, key) {
			t.symCol = i
		}
	}

	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("feed: csv: read row %d: %w", len(t.Rows)+2, err)
		}
		if isBlank(row) {
			continue
		}
		t.Rows = append(t.Rows, row)
	}

	t.times = make([]time.Time, len(t.Rows))
	if t.timeCol >= 0 {
		for i, row := range t.Rows {
			if t.timeCol < len(row) {
				if ts, err := codec.parseTime(strings.TrimSpace(row[t.timeCol])); err == nil {
					t.times[i] = ts
				}
			}
		}
		idx := make([]int, len(t.Rows))
		for i := range idx {
			idx[i] = i
		}
		sort.SliceStable(idx, func(a, b int) bool { return t.times[idx[a]].Before(t.times[idx[b]]) })
		rows := make([][]string, len(idx))
		times := make([]time.Time, len(idx))
		for i, j := range idx {
			rows[i], times[i] = t.Rows[j], t.times[j]
		}
		t.Rows, t.times = rows, times
	}
	return t, nil
}

// Record returns row i as a Record.
func (t *Table) Record(i int) Record {
	return RecordFromRow(t.Header, t.Rows[i])
}

// TimeColumn returns the header of the date column, or "" when none exists.
func (t *Table) TimeColumn() string {
	if t.timeCol < 0 {
		return ""
	}
	return t.Header[t.timeCol]
}

// SymbolColumn returns the header of the symbol column, or "" when none exists.
func (t *Table) SymbolColumn() string {
	if t.symCol < 0 {
		return ""
	}
	return t.Header[t.symCol]
}

// CSVSource replays a Table as ticks. Rows that fail to decode surface as
// ErrBadRecord and the source moves on.
type CSVSource struct {
	table *Table
	codec Codec
	pos   int
}

// NewCSVSource parses r and returns a source over its rows.
func NewCSVSource(r io.Reader, codec Codec) (*CSVSource, error) {
	table, err := ReadTable(r, codec)
	if err != nil {
		return nil, err
	}
	return &CSVSource{table: table, codec: codec}, nil
}

// OpenCSVFile reads a local CSV file.
func OpenCSVFile(path string, codec Codec) (*CSVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("feed: open csv %s: %w", path, err)
	}
	defer f.Close()
	return NewCSVSource(f, codec)
}

// OpenCSVBlob reads a CSV object from blob storage. An empty object is
// rejected before it is downloaded.
func OpenCSVBlob(ctx context.Context, blobs domain.BlobReader, key string, codec Codec, logger *slog.Logger) (*CSVSource, error) {
	info, err := blobs.Stat(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("feed: stat csv object %s: %w", key, err)
	}
	if info.Size == 0 {
		return nil, fmt.Errorf("feed: csv object %s is empty", key)
	}

	rc, err := blobs.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("feed: get csv object %s: %w", key, err)
	}
	defer rc.Close()

	src, err := NewCSVSource(rc, codec)
	if err != nil {
		return nil, err
	}
	logger.Info("csv feed loaded from object storage",
		slog.String("key", key),
		slog.Int64("bytes", info.Size),
		slog.Time("modified", info.LastModified),
		slog.Int("rows", len(src.table.Rows)),
	)
	return src, nil
}

// Next returns the next row as a tick.
func (s *CSVSource) Next(ctx context.Context) (domain.Tick, error) {
	if err := ctx.Err(); err != nil {
		return domain.Tick{}, err
	}
	if s.pos >= len(s.table.Rows) {
		return domain.Tick{}, ErrEndOfData
	}
	i := s.pos
	s.pos++
	tick, err := s.codec.Tick(s.table.Record(i))
	if err != nil {
		return domain.Tick{}, fmt.Errorf("row %d: %w", i+1, err)
	}
	return tick, nil
}

// Len returns the number of data rows.
func (s *CSVSource) Len() int { return len(s.table.Rows) }

// Close is a no-op.
func (s *CSVSource) Close() error { return nil }

func containsKey(keys []string, k string) bool {
	for _, c := range keys {
		if c == k {
			return true
		}
	}
	return false
}

func isBlank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
