package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tickbot/internal/domain"
)

type memWriter struct {
	objects map[string][]byte
	types   map[string]string
	err     error
}

func newMemWriter() *memWriter {
	return &memWriter{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if m.err != nil {
		return m.err
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.objects[path] = b
	m.types[path] = contentType
	return nil
}

func (m *memWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, "multipart")
}

func sampleRun() (domain.Run, domain.AggregateReport) {
	started := time.Date(2025, 7, 1, 9, 15, 0, 0, time.UTC)
	exit1, pnl1 := 110.0, 10.0
	exit2, pnl2 := 52.0, -2.0
	run := domain.Run{ID: "run-1", Name: "demo", Mode: "simulate", FeedType: "csv", StartedAt: started}
	rep := domain.AggregateReport{
		TotalPnL: 8, Trades: 2, Wins: 1, Losses: 1, FinalizedAt: started.Add(6 * time.Hour),
		Positions: []domain.Position{
			{ID: 1, Symbol: "X", Status: domain.PositionStatusClosedTarget, EntryPrice: 100, ExitPrice: &exit1, PnL: &pnl1},
			{ID: 2, Symbol: "Y", Status: domain.PositionStatusClosedStop, EntryPrice: 50, ExitPrice: &exit2, PnL: &pnl2},
		},
	}
	return run, rep
}

func TestArchiveReport(t *testing.T) {
	t.Parallel()

	w := newMemWriter()
	run, rep := sampleRun()

	dir, err := NewReportArchiver(w, "").ArchiveReport(context.Background(), run, rep)
	require.NoError(t, err)
	assert.Equal(t, "runs/2025-07-01/run-1", dir)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(w.objects[dir+"/report.json"], &doc))
	assert.Equal(t, 8.0, doc["total_pnl"])
	assert.Equal(t, "2025-07-01T15:15:00.000Z", doc["finalized_at"])
	assert.Equal(t, "application/json", w.types[dir+"/report.json"])

	lines := strings.Split(strings.TrimSpace(string(w.objects[dir+"/positions.jsonl"])), "\n")
	require.Len(t, lines, 2)
	var p domain.Position
	require.NoError(t, json.NewDecoder(bytes.NewReader([]byte(lines[1]))).Decode(&p))
	assert.Equal(t, domain.PositionStatusClosedStop, p.Status)
	assert.Equal(t, -2.0, *p.PnL)
}

func TestArchiveReportUploadError(t *testing.T) {
	t.Parallel()

	w := newMemWriter()
	w.err = errors.New("access denied")
	run, rep := sampleRun()
	_, err := NewReportArchiver(w, "archive").ArchiveReport(context.Background(), run, rep)
	assert.ErrorContains(t, err, "access denied")
}

func TestNormaliseEndpoint(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("https://s3.example.com", false))
	assert.Equal(t, "http://localhost:9000", normaliseEndpoint("localhost:9000", false))
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
}
