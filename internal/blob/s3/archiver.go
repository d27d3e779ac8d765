package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/alanyoungcy/tickbot/internal/domain"
)

// multipartThreshold switches positions.jsonl to a multipart upload.
const multipartThreshold = 8 * 1024 * 1024

// ReportArchiver implements domain.ReportArchiver. A run is written under
// runs/<YYYY-MM-DD>/<run id>/ as report.json (run header plus totals) and
// positions.jsonl (one closed position per line).
type ReportArchiver struct {
	writer domain.BlobWriter
	prefix string
}

// NewReportArchiver creates a ReportArchiver. prefix defaults to "runs".
func NewReportArchiver(writer domain.BlobWriter, prefix string) *ReportArchiver {
	if prefix == "" {
		prefix = "runs"
	}
	return &ReportArchiver{writer: writer, prefix: prefix}
}

// reportDoc is the report.json layout.
type reportDoc struct {
	Run         domain.Run `json:"run"`
	TotalPnL    float64    `json:"total_pnl"`
	Trades      int        `json:"trades"`
	Wins        int        `json:"wins"`
	Losses      int        `json:"losses"`
	FinalizedAt string     `json:"finalized_at"`
}

// ArchiveReport uploads the report and returns the key prefix it used.
func (a *ReportArchiver) ArchiveReport(ctx context.Context, run domain.Run, report domain.AggregateReport) (string, error) {
	dir := a.runDir(run)

	doc, err := json.MarshalIndent(reportDoc{
		Run:         run,
		TotalPnL:    report.TotalPnL,
		Trades:      report.Trades,
		Wins:        report.Wins,
		Losses:      report.Losses,
		FinalizedAt: report.FinalizedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal report %s: %w", run.ID, err)
	}
	if err := a.writer.Put(ctx, path.Join(dir, "report.json"), bytes.NewReader(doc), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: archive report %s: %w", run.ID, err)
	}

	lines, err := marshalJSONL(report.Positions)
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal positions %s: %w", run.ID, err)
	}
	key := path.Join(dir, "positions.jsonl")
	if len(lines) >= multipartThreshold {
		err = a.writer.PutMultipart(ctx, key, bytes.NewReader(lines), minPartSize)
	} else {
		err = a.writer.Put(ctx, key, bytes.NewReader(lines), "application/x-ndjson")
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive positions %s: %w", run.ID, err)
	}
	return dir, nil
}

func (a *ReportArchiver) runDir(run domain.Run) string {
	return path.Join(a.prefix, run.StartedAt.UTC().Format("2006-01-02"), run.ID)
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.ReportArchiver = (*ReportArchiver)(nil)
