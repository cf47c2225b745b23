package domain

import (
	"fmt"
	"math"
	"strconv"
)

const (
	BATTERY_EMPTY_MILLIVOLT = 4000.0
	BATTERY_FULL_MILLIVOLT  = 6000.0
)

// BatteryPercentage maps a battery voltage in mV linearly onto 0..100,
// rounding half to even and clamping out of range readings.
func BatteryPercentage(millivolt float64) int {
	pct := math.RoundToEven((millivolt - BATTERY_EMPTY_MILLIVOLT) / (BATTERY_FULL_MILLIVOLT - BATTERY_EMPTY_MILLIVOLT) * 100)
	return int(math.Min(100, math.Max(0, pct)))
}

// NumericValue converts a decoded measurement value into a float.
func NumericValue(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// FormatValue renders a measurement value as an MQTT payload. Numbers keep
// their received precision unless decimals is positive.
func FormatValue(value any, decimals int) string {
	if value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return s
	}
	if f, ok := NumericValue(value); ok {
		if decimals > 0 {
			return strconv.FormatFloat(f, 'f', decimals, 64)
		}
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprintf("%v", value)
}
