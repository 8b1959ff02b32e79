package staging

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

// TimestampSentinel replaces missing or invalid timestamps in NOT NULL
// destination columns. The ERP reads 1900-01-01 as "no date".
var TimestampSentinel = time.Date(1900, time.January, 1, 0, 0, 0, 0, time.UTC)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006",
}

func isNull(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case *time.Time:
		return x == nil
	case *string:
		return x == nil
	case *int64:
		return x == nil
	case *decimal.Decimal:
		return x == nil
	case decimal.NullDecimal:
		return !x.Valid
	}
	return false
}

// toDecimal converts numeric-looking values. Empty strings are not numbers.
func toDecimal(v any) (decimal.Decimal, bool) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x, true
	case *decimal.Decimal:
		if x == nil {
			return decimal.Zero, false
		}
		return *x, true
	case decimal.NullDecimal:
		return x.Decimal, x.Valid
	case int:
		return decimal.NewFromInt(int64(x)), true
	case int16:
		return decimal.NewFromInt(int64(x)), true
	case int32:
		return decimal.NewFromInt(int64(x)), true
	case int64:
		return decimal.NewFromInt(x), true
	case *int64:
		if x == nil {
			return decimal.Zero, false
		}
		return decimal.NewFromInt(*x), true
	case uint8:
		return decimal.NewFromInt(int64(x)), true
	case float32:
		return decimal.NewFromFloat32(x), true
	case float64:
		return decimal.NewFromFloat(x), true
	case bool:
		if x {
			return decimal.NewFromInt(1), true
		}
		return decimal.Zero, true
	case []byte:
		return toDecimal(string(x))
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return decimal.Zero, false
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	case *string:
		if x == nil {
			return decimal.Zero, false
		}
		return toDecimal(*x)
	default:
		return decimal.Zero, false
	}
}

// toInteger rounds a numeric value; strict rejects values with a fraction
func toInteger(v any, strict bool) (int64, bool) {
	d, ok := toDecimal(v)
	if !ok {
		return 0, false
	}
	if strict && !d.Equal(d.Truncate(0)) {
		return 0, false
	}
	r := d.Round(0)
	if !r.IsInteger() || r.GreaterThan(decimal.NewFromInt(1<<62)) || r.LessThan(decimal.NewFromInt(-(1 << 62))) {
		return 0, false
	}
	return r.IntPart(), true
}

func toTimestamp(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, !x.IsZero()
	case *time.Time:
		if x == nil {
			return time.Time{}, false
		}
		return *x, !x.IsZero()
	case []byte:
		return toTimestamp(string(x))
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func toText(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, true
	case *string:
		if x == nil {
			return "", false
		}
		return *x, true
	case []byte:
		return string(x), true
	case time.Time:
		return x.Format("2006-01-02 15:04:05"), true
	case decimal.Decimal:
		return x.String(), true
	case fmt.Stringer:
		return x.String(), true
	default:
		return fmt.Sprint(x), true
	}
}

func toBoolean(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case string:
		switch strings.ToUpper(strings.TrimSpace(x)) {
		case "S", "Y", "T", "TRUE", "1":
			return true, true
		case "N", "F", "FALSE", "0":
			return false, true
		}
		return false, false
	}
	if n, ok := toInteger(v, true); ok {
		return n != 0, true
	}
	return false, false
}

// truncateText normalizes to NFC and cuts s to max characters. A max of 0
// leaves s untouched.
func truncateText(s string, max int) string {
	s = norm.NFC.String(strings.TrimSpace(s))
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// keyPart renders a key component so that values read back from the
// destination (CHAR padding, driver integer widths) compare equal.
func keyPart(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimRight(x, " ")
	case []byte:
		return strings.TrimRight(string(x), " ")
	case int:
		return strconv.Itoa(x)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case decimal.Decimal:
		return x.String()
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	default:
		if d, ok := toDecimal(x); ok {
			return d.String()
		}
		return fmt.Sprint(x)
	}
}
