package normalize

import (
	"strconv"
	"strings"
)

// Known venues for the indicator encoding. The set is small on purpose;
// adding a venue means adding a field to VenueIndicator and a case below.
const (
	VenueBinance = "binance"
	VenueBybit   = "bybit"
)

// Float coerces an arbitrary scalar into a float64. Numeric values pass
// through, strings are trimmed and parsed with comma-as-decimal tolerance
// (" 9,632" -> 9.632), and nil, empty or unparsable input yields def.
// It never panics and never returns an error; dirty upstream data must not
// stall the pipeline.
func Float(v interface{}, def float64) float64 {
	switch x := v.(type) {
	case nil:
		return def
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case uint64:
		return float64(x)
	case bool:
		if x {
			return 1.0
		}
		return 0.0
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(x), ",", ".")
		if s == "" {
			return def
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return def
		}
		return f
	default:
		return def
	}
}

// VenueIndicator holds one boolean-as-float per known venue. At most one
// field is 1.0; both are zero when the name is empty or unrecognized.
type VenueIndicator struct {
	Binance float64
	Bybit   float64
}

// Venue encodes a venue name into its indicator features. Matching is
// case-insensitive on the trimmed name.
func Venue(name string) VenueIndicator {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case VenueBinance:
		return VenueIndicator{Binance: 1.0}
	case VenueBybit:
		return VenueIndicator{Bybit: 1.0}
	default:
		return VenueIndicator{}
	}
}
