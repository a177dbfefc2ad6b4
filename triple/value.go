package triple

import (
	"strconv"
	"time"
)

// toNumberString renders a numeric value as its canonical decimal
// string form, used only for set-member path segments (scalar triple
// values are kept as interface{} and never stringified for storage).
func toNumberString(v interface{}) string {
	switch n := v.(type) {
	case int:
		return strconv.Itoa(n)
	case int64:
		return strconv.FormatInt(n, 10)
	case float64:
		return strconv.FormatFloat(n, 'g', -1, 64)
	case time.Time:
		return n.Format(time.RFC3339Nano)
	default:
		return ""
	}
}
