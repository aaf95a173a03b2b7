package kia

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Tolerant decoding helpers for the broker's loose JSON payloads. Fields
// arrive as strings, numbers, or are absent entirely; everything is
// normalised at this boundary so the rest of the engine sees typed values.

func stringField(payload map[string]any, key string) string {
	value, ok := payload[key]
	if !ok || value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// firstString returns the first non-empty value among the listed keys.
func firstString(payload map[string]any, keys ...string) string {
	for _, key := range keys {
		if value := stringField(payload, key); value != "" {
			return value
		}
	}
	return ""
}

func int64Field(payload map[string]any, key string, fallback int64) int64 {
	value, ok := payload[key]
	if !ok || value == nil {
		return fallback
	}
	switch v := value.(type) {
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case int64:
		return v
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fallback
		}
		return parsed
	default:
		return fallback
	}
}

func boolField(payload map[string]any, key string) bool {
	value, ok := payload[key]
	if !ok || value == nil {
		return false
	}
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(strings.TrimSpace(v), "true")
	case float64:
		return v != 0
	default:
		return false
	}
}

// decimalField parses a numeric field, stripping commas and a leading '+'.
// Returns zero on anything unparseable.
func decimalField(payload map[string]any, key string) decimal.Decimal {
	raw := stringField(payload, key)
	raw = strings.ReplaceAll(raw, ",", "")
	raw = strings.TrimPrefix(raw, "+")
	if raw == "" {
		return decimal.Zero
	}
	parsed, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return parsed
}

// parseTimeLenient accepts ISO-8601 with or without a zone, falling back
// to now UTC on anything else.
func parseTimeLenient(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw != "" {
		raw = strings.Replace(raw, "Z", "+00:00", 1)
		for _, layout := range []string{
			"2006-01-02T15:04:05.999999999-07:00",
			"2006-01-02T15:04:05-07:00",
			"2006-01-02T15:04:05.999999999",
			"2006-01-02T15:04:05",
		} {
			if t, err := time.Parse(layout, raw); err == nil {
				return t
			}
		}
	}
	return time.Now().UTC()
}

func listField(payload map[string]any, key string) []map[string]any {
	value, ok := payload[key]
	if !ok || value == nil {
		return nil
	}
	items, ok := value.([]any)
	if !ok {
		return nil
	}
	var result []map[string]any
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			result = append(result, m)
		}
	}
	return result
}
