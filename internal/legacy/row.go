package legacy

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gestk/legacy-etl/internal/ownership"
)

// Row is one extracted legacy row keyed by lower-case column name.
type Row map[string]any

// String returns the trimmed text of col, or "" when NULL or absent.
func (r Row) String(col string) string {
	switch v := r[col].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case []byte:
		return strings.TrimSpace(string(v))
	case time.Time:
		return v.Format(time.DateOnly)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// Int64 returns col as an integer.
func (r Row) Int64(col string) (int64, bool) {
	switch v := r[col].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case float64:
		if v != float64(int64(v)) {
			return 0, false
		}
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// Time returns col as a date or timestamp. Text values accept the same
// layouts as event dates.
func (r Row) Time(col string) (time.Time, bool) {
	switch v := r[col].(type) {
	case time.Time:
		return v, !v.IsZero()
	case string:
		if strings.TrimSpace(v) == "" {
			return time.Time{}, false
		}
		t, err := ownership.ParseEventDate(v)
		return t, err == nil
	default:
		return time.Time{}, false
	}
}

// Decimal returns col as an exact decimal. Floats go through their shortest
// decimal representation.
func (r Row) Decimal(col string) (decimal.Decimal, bool) {
	switch v := r[col].(type) {
	case float64:
		return decimal.NewFromFloat(v), true
	case int64:
		return decimal.NewFromInt(v), true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		return d, err == nil
	default:
		return decimal.Zero, false
	}
}

// Bool interprets legacy flags: 1/0, S/N, T/F, true/false.
func (r Row) Bool(col string) bool {
	switch v := r[col].(type) {
	case bool:
		return v
	case int64:
		return v != 0
	default:
		switch strings.ToUpper(r.String(col)) {
		case "1", "S", "Y", "T", "TRUE":
			return true
		}
		return false
	}
}
