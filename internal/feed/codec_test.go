package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecDecodesOptionChainLine(t *testing.T) {
	t.Parallel()

	line := []byte(`{"SYMBOL ": "NIFTY", "DATE ": "2025-07-21 09:15:00", "EXPIRY ": "31-Jul-2025", ` +
		`"OPTION TYPE ": "ce", "OPEN PRICE ": "1,210.50", "CLOSE PRICE ": 1255.25, ` +
		`"NO. OF CONTRACTS ": "12,345", "OPEN INT ": 900, "CHANGE IN OI ": "-15", "LTP ": NaN}`)

	tick, err := Codec{}.DecodeLine(line)
	require.NoError(t, err)

	assert.Equal(t, "NIFTY", tick.Symbol)
	assert.Equal(t, 1255.25, tick.Price)
	assert.Equal(t, time.Date(2025, 7, 21, 9, 15, 0, 0, time.UTC), tick.Time)
	assert.Equal(t, 1210.5, tick.Open)
	assert.Equal(t, 12345.0, tick.Volume)
	assert.Equal(t, 900.0, tick.OpenInterest)
	assert.Equal(t, -15.0, tick.ChangeInOI)
	assert.Equal(t, "CE", tick.OptionType)
	assert.Equal(t, time.Date(2025, 7, 31, 0, 0, 0, 0, time.UTC), tick.Expiry)
}

func TestCodecCompactRecord(t *testing.T) {
	t.Parallel()

	tick, err := Codec{}.DecodeLine([]byte(`{"symbol":"X","price":101.5,"time":"2025-01-02T03:04:05Z"}`))
	require.NoError(t, err)
	assert.Equal(t, "X", tick.Symbol)
	assert.Equal(t, 101.5, tick.Price)
	assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), tick.Time)
}

func TestCodecSymbolOverrideAndFallbackTime(t *testing.T) {
	t.Parallel()

	now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	c := Codec{Symbol: "OVERRIDE", Now: func() time.Time { return now }}
	tick, err := c.DecodeLine([]byte(`{"SYMBOL":"NIFTY","CLOSE":"99"}`))
	require.NoError(t, err)
	assert.Equal(t, "OVERRIDE", tick.Symbol)
	assert.Equal(t, now, tick.Time)
}

func TestCodecEpochTimestamps(t *testing.T) {
	t.Parallel()

	tick, err := Codec{}.DecodeLine([]byte(`{"symbol":"X","price":1,"timestamp":1700000000}`))
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1_700_000_000, 0).UTC(), tick.Time)

	tick, err = Codec{}.DecodeLine([]byte(`{"symbol":"X","price":1,"timestamp":1700000000123}`))
	require.NoError(t, err)
	assert.Equal(t, time.UnixMilli(1_700_000_000_123).UTC(), tick.Time)
}

func TestCodecRejectsBadRecords(t *testing.T) {
	t.Parallel()

	bad := []string{
		`not json`,
		`{"CLOSE PRICE": 10}`,
		`{"SYMBOL": "X"}`,
		`{"SYMBOL": "X", "CLOSE PRICE": "-"}`,
		`{"SYMBOL": "X", "CLOSE PRICE": 0}`,
		`{"SYMBOL": "X", "CLOSE PRICE": NaN}`,
		`{"SYMBOL": "X", "CLOSE PRICE": 5, "DATE": "yesterday"}`,
	}
	for _, line := range bad {
		_, err := Codec{}.DecodeLine([]byte(line))
		assert.ErrorIs(t, err, ErrBadRecord, line)
	}
}
