package keystore

import (
	"fmt"
	"strconv"
)

// ToInt64 converts a script reply element to int64.
func ToInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	case []byte:
		return strconv.ParseInt(string(v), 10, 64)
	default:
		return 0, fmt.Errorf("unexpected value type %T", value)
	}
}

// ToFloat converts a script reply element to float64. Lua numbers lose their
// fraction on the way out of Redis, so fractional values travel as strings.
func ToFloat(value any) (float64, error) {
	switch v := value.(type) {
	case int64:
		return float64(v), nil
	case int:
		return float64(v), nil
	case float64:
		return v, nil
	case string:
		return strconv.ParseFloat(v, 64)
	case []byte:
		return strconv.ParseFloat(string(v), 64)
	default:
		return 0, fmt.Errorf("unexpected value type %T", value)
	}
}

// FormatFloat renders f the way the Lua scripts do with tostring.
func FormatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
