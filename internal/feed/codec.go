package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/tickbot/internal/domain"
)

// Column aliases, matched after normalizeKey. Option-chain exports pad their
// headers with trailing spaces and use several spellings for the same field.
var (
	symbolKeys     = []string{"SYMBOL", "TICKER", "INSTRUMENT"}
	priceKeys      = []string{"CLOSE PRICE", "CLOSE", "LTP", "LAST PRICE", "PRICE", "SETTLE PRICE"}
	timeKeys       = []string{"DATE", "TIMESTAMP", "TIME", "DATETIME"}
	openKeys       = []string{"OPEN PRICE", "OPEN"}
	volumeKeys     = []string{"NO. OF CONTRACTS", "VOLUME", "CONTRACTS"}
	oiKeys         = []string{"OPEN INT", "OPEN INTEREST", "OI"}
	changeOIKeys   = []string{"CHANGE IN OI", "CHG IN OI", "CHANGE OI"}
	optionTypeKeys = []string{"OPTION TYPE", "OPTION"}
	expiryKeys     = []string{"EXPIRY", "EXPIRY DATE"}
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
	"02-Jan-2006",
	"02-Jan-2006 15:04:05",
	"02-01-2006",
	"02/01/2006",
}

// nonFiniteJSON matches the bare NaN/Infinity tokens some encoders emit for
// missing numeric cells.
var nonFiniteJSON = regexp.MustCompile(`([:\[,]\s*)-?(NaN|Infinity)\b`)

// Record is one decoded row keyed by normalized column name.
type Record map[string]string

// Codec turns raw feed records into ticks.
type Codec struct {
	// Symbol replaces the record's symbol when set.
	Symbol string
	// Location is used for dates without a zone. Defaults to UTC.
	Location *time.Location
	// Now stamps records that carry no date.
	Now func() time.Time
}

func normalizeKey(k string) string {
	k = strings.ToUpper(strings.TrimSpace(k))
	k = strings.ReplaceAll(k, "_", " ")
	return strings.Join(strings.Fields(k), " ")
}

// ParseJSONRecord decodes one line of a JSON-lines stream.
func ParseJSONRecord(line []byte) (Record, error) {
	line = nonFiniteJSON.ReplaceAll(line, []byte("${1}null"))

	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRecord, err)
	}

	rec := make(Record, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			rec[normalizeKey(k)] = strings.TrimSpace(val)
		case json.Number:
			rec[normalizeKey(k)] = val.String()
		case bool:
			rec[normalizeKey(k)] = strconv.FormatBool(val)
		default:
			rec[normalizeKey(k)] = fmt.Sprint(val)
		}
	}
	return rec, nil
}

// RecordFromRow pairs a CSV header with one row.
func RecordFromRow(header, row []string) Record {
	rec := make(Record, len(header))
	for i, h := range header {
		if i >= len(row) {
			break
		}
		rec[normalizeKey(h)] = strings.TrimSpace(row[i])
	}
	return rec
}

// Lookup returns the first non-empty value among keys.
func (r Record) Lookup(keys []string) (string, bool) {
	for _, k := range keys {
		if v, ok := r[k]; ok && v != "" && v != "-" {
			return v, true
		}
	}
	return "", false
}

// Tick converts the record. A record needs a symbol (or a Codec override)
// and a positive close price.
func (c Codec) Tick(r Record) (domain.Tick, error) {
	var t domain.Tick

	t.Symbol = c.Symbol
	if t.Symbol == "" {
		sym, ok := r.Lookup(symbolKeys)
		if !ok {
			return t, fmt.Errorf("%w: missing symbol", ErrBadRecord)
		}
		t.Symbol = sym
	}

	raw, ok := r.Lookup(priceKeys)
	if !ok {
		return t, fmt.Errorf("%w: missing close price", ErrBadRecord)
	}
	price, err := parseNumber(raw)
	if err != nil || price <= 0 {
		return t, fmt.Errorf("%w: close price %q", ErrBadRecord, raw)
	}
	t.Price = price

	if raw, ok := r.Lookup(timeKeys); ok {
		ts, err := c.parseTime(raw)
		if err != nil {
			return t, fmt.Errorf("%w: %v", ErrBadRecord, err)
		}
		t.Time = ts
	} else if c.Now != nil {
		t.Time = c.Now()
	} else {
		t.Time = time.Now().UTC()
	}

	t.Open = c.optionalNumber(r, openKeys)
	t.Volume = c.optionalNumber(r, volumeKeys)
	t.OpenInterest = c.optionalNumber(r, oiKeys)
	t.ChangeInOI = c.optionalNumber(r, changeOIKeys)
	if v, ok := r.Lookup(optionTypeKeys); ok {
		t.OptionType = strings.ToUpper(v)
	}
	if v, ok := r.Lookup(expiryKeys); ok {
		if exp, err := c.parseTime(v); err == nil {
			t.Expiry = exp
		}
	}
	return t, nil
}

// DecodeLine parses a JSON-lines record straight into a tick.
func (c Codec) DecodeLine(line []byte) (domain.Tick, error) {
	rec, err := ParseJSONRecord(line)
	if err != nil {
		return domain.Tick{}, err
	}
	return c.Tick(rec)
}

func (c Codec) optionalNumber(r Record, keys []string) float64 {
	raw, ok := r.Lookup(keys)
	if !ok {
		return 0
	}
	v, err := parseNumber(raw)
	if err != nil {
		return 0
	}
	return v
}

func (c Codec) parseTime(raw string) (time.Time, error) {
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range timeLayouts {
		if ts, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return ts, nil
		}
	}
	// epoch seconds or milliseconds
	if n, err := strconv.ParseFloat(raw, 64); err == nil && n > 0 {
		if n > 1e12 {
			return time.UnixMilli(int64(n)).UTC(), nil
		}
		sec, frac := math.Modf(n)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", raw)
}

func parseNumber(raw string) (float64, error) {
	s := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite number %q", raw)
	}
	return v, nil
}
