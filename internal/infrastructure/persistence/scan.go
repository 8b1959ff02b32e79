package persistence

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Helpers for rows scanned into map[string]any, where the concrete type
// depends on the driver (pgx returns numeric as string, sqlmock as given).

func asString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int32:
		return int64(x), true
	case int:
		return int64(x), true
	case int16:
		return int64(x), true
	case float64:
		if x != float64(int64(x)) {
			return 0, false
		}
		return int64(x), true
	case nil:
		return 0, false
	default:
		n, err := strconv.ParseInt(strings.TrimSpace(asString(x)), 10, 64)
		return n, err == nil
	}
}

func asDecimal(v any) (decimal.Decimal, bool) {
	switch x := v.(type) {
	case nil:
		return decimal.Zero, false
	case decimal.Decimal:
		return x, true
	case int64:
		return decimal.NewFromInt(x), true
	case int32:
		return decimal.NewFromInt(int64(x)), true
	case int:
		return decimal.NewFromInt(int64(x)), true
	case float64:
		return decimal.NewFromFloat(x), true
	case float32:
		return decimal.NewFromFloat32(x), true
	default:
		d, err := decimal.NewFromString(strings.TrimSpace(asString(x)))
		return d, err == nil
	}
}
