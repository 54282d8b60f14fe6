package services

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
)

var numericPattern = regexp.MustCompile(`[\d.]+`)

// ParseNumeric parses free-text numbers as extraction services emit them:
// thousands separators are stripped and the multiplier words million, billion,
// lakh and crore are recognized. Returns false when no number is present.
func ParseNumeric(value string) (float64, bool) {
	val := strings.TrimSpace(strings.ReplaceAll(strings.ToLower(value), ",", ""))
	multiplier := 1.0
	switch {
	case strings.Contains(val, "million"):
		multiplier = 1_000_000
	case strings.Contains(val, "billion"):
		multiplier = 1_000_000_000
	case strings.Contains(val, "lakh"):
		multiplier = 100_000
	case strings.Contains(val, "crore"):
		multiplier = 10_000_000
	}
	match := numericPattern.FindString(val)
	if match == "" {
		return 0, false
	}
	var n float64
	if _, err := fmt.Sscanf(match, "%g", &n); err != nil {
		return 0, false
	}
	return n * multiplier, true
}

// CoerceValue applies the per-field-type coercion rules for one declared
// target field. The rules mirror what the extraction tables accept:
//
//	DATE/DATETIME/TIMESTAMP  default to now when empty, formatted per type
//	REPEATED                 nil→[], comma string→split+trim, scalar→singleton
//	INTEGER                  numeric parse, floats rounded
//	FLOAT/NUMERIC            numeric parse, no rounding
//	BOOLEAN                  textual true/false mapping, other non-empty→true
//	required STRING          nil→"N/A"
func CoerceValue(fs *bigquery.FieldSchema, value any, now time.Time) any {
	switch fs.Type {
	case bigquery.DateFieldType, bigquery.DateTimeFieldType, bigquery.TimestampFieldType:
		if value == nil || value == "" {
			value = now
		}
		if t, ok := value.(time.Time); ok {
			if fs.Type == bigquery.DateFieldType {
				value = t.Format("2006-01-02")
			} else {
				value = t.Format("2006-01-02 15:04:05")
			}
		}
	}

	if fs.Repeated {
		value = coerceRepeated(fs, value)
		return value
	}

	switch fs.Type {
	case bigquery.IntegerFieldType:
		if s, ok := value.(string); ok {
			if n, ok := ParseNumeric(s); ok {
				value = n
			} else {
				value = nil
			}
		}
		if f, ok := value.(float64); ok {
			value = int64(math.Round(f))
		}
	case bigquery.FloatFieldType, bigquery.NumericFieldType:
		if s, ok := value.(string); ok {
			if n, ok := ParseNumeric(s); ok {
				value = n
			} else {
				value = nil
			}
		}
	case bigquery.BooleanFieldType:
		value = coerceBoolean(value)
	case bigquery.StringFieldType:
		if fs.Required && value == nil {
			value = "N/A"
		}
	}
	return value
}

func coerceRepeated(fs *bigquery.FieldSchema, value any) any {
	var list []any
	switch v := value.(type) {
	case nil:
		list = []any{}
	case []any:
		list = v
	case string:
		if strings.Contains(v, ",") {
			for _, part := range strings.Split(v, ",") {
				if trimmed := strings.TrimSpace(part); trimmed != "" {
					list = append(list, trimmed)
				}
			}
			if list == nil {
				list = []any{}
			}
		} else {
			list = []any{v}
		}
	default:
		list = []any{v}
	}

	if fs.Type == bigquery.StringFieldType {
		out := make([]any, 0, len(list))
		for _, item := range list {
			if item == nil || item == "" {
				continue
			}
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out
	}
	return list
}

func coerceBoolean(value any) any {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "1":
			return true
		case "false", "no", "0", "":
			return false
		default:
			return true
		}
	case float64:
		return v != 0
	case int:
		return v != 0
	case int64:
		return v != 0
	default:
		return v != nil
	}
}
