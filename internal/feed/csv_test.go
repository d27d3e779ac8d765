package feed

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tickbot/internal/domain"
)

const optionCSV = "SYMBOL ,DATE ,EXPIRY ,OPTION TYPE ,OPEN PRICE ,CLOSE PRICE ,NO. OF CONTRACTS ,CHANGE IN OI \n" +
	"NIFTY,03-Jul-2025,31-Jul-2025,CE,110,112,\"1,000\",5\n" +
	"NIFTY,01-Jul-2025,31-Jul-2025,CE,100,101,900,-3\n" +
	",,,,,,,\n" +
	"NIFTY,02-Jul-2025,31-Jul-2025,CE,101,-,950,0\n"

func TestCSVSourceSortsAndDecodes(t *testing.T) {
	t.Parallel()

	src, err := NewCSVSource(strings.NewReader(optionCSV), Codec{Symbol: "NIFTY_CE"})
	require.NoError(t, err)
	assert.Equal(t, 3, src.Len())

	ctx := context.Background()
	first, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "NIFTY_CE", first.Symbol)
	assert.Equal(t, 101.0, first.Price)
	assert.Equal(t, time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), first.Time)
	assert.Equal(t, -3.0, first.ChangeInOI)

	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, ErrBadRecord, "missing close price")

	third, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, 112.0, third.Price)
	assert.Equal(t, 1000.0, third.Volume)

	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, ErrEndOfData)
}

func TestReadTableColumns(t *testing.T) {
	t.Parallel()

	table, err := ReadTable(strings.NewReader(optionCSV), Codec{})
	require.NoError(t, err)
	assert.Equal(t, "DATE ", table.TimeColumn())
	assert.Equal(t, "SYMBOL ", table.SymbolColumn())
	assert.Len(t, table.Rows, 3)
}

func TestReadTableEmpty(t *testing.T) {
	t.Parallel()

	_, err := ReadTable(strings.NewReader(""), Codec{})
	assert.Error(t, err)
}

type memBlobs map[string]string

func (m memBlobs) Get(_ context.Context, key string) (io.ReadCloser, error) {
	body, ok := m[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (m memBlobs) Stat(_ context.Context, key string) (domain.BlobInfo, error) {
	body, ok := m[key]
	if !ok {
		return domain.BlobInfo{}, domain.ErrNotFound
	}
	return domain.BlobInfo{Path: key, Size: int64(len(body))}, nil
}

func TestOpenCSVBlob(t *testing.T) {
	t.Parallel()

	blobs := memBlobs{"feeds/nifty.csv": optionCSV, "feeds/empty.csv": ""}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	src, err := OpenCSVBlob(ctx, blobs, "feeds/nifty.csv", Codec{Symbol: "NIFTY_CE"}, logger)
	require.NoError(t, err)
	assert.Equal(t, 3, src.Len())

	_, err = OpenCSVBlob(ctx, blobs, "feeds/missing.csv", Codec{}, logger)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = OpenCSVBlob(ctx, blobs, "feeds/empty.csv", Codec{}, logger)
	assert.Error(t, err)
}
