package storage

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/occhealth/occhealth/internal/platform/apperr"
)

const (
	DateLayout      = "2006-01-02"
	TimestampLayout = time.RFC3339Nano

	// MaxTextLength is the longest text, in characters, a spreadsheet cell
	// holds.
	MaxTextLength = 32767
)

// Coerce converts a driver or cell value into the canonical Go type for
// kind: string for KindString/KindDate, int64 for KindInt, bool for
// KindBool. nil becomes the zero value.
func Coerce(kind Kind, v interface{}) (interface{}, error) {
	switch kind {
	case KindString:
		return coerceString(v)
	case KindInt:
		return coerceInt(v)
	case KindBool:
		return coerceBool(v)
	case KindDate:
		return coerceDate(v)
	default:
		return nil, fmt.Errorf("unsupported kind %s", kind)
	}
}

func coerceString(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	case fmt.Stringer:
		return t.String(), nil
	default:
		return nil, fmt.Errorf("cannot use %T as string", v)
	}
}

func coerceInt(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case nil:
		return int64(0), nil
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case int64:
		return t, nil
	case float64:
		if t != math.Trunc(t) {
			return nil, fmt.Errorf("cannot use %v as integer", t)
		}
		return int64(t), nil
	case []byte:
		return parseInt(string(t))
	case string:
		return parseInt(t)
	default:
		return nil, fmt.Errorf("cannot use %T as integer", v)
	}
}

func parseInt(s string) (interface{}, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return int64(0), nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	// workbook cells may hold integral numbers as "3.0"
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) {
		return nil, fmt.Errorf("cannot use %q as integer", s)
	}
	return int64(f), nil
}

func coerceBool(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case nil:
		return false, nil
	case bool:
		return t, nil
	case int64:
		return t != 0, nil
	case int:
		return t != 0, nil
	case []byte:
		return parseBool(string(t))
	case string:
		return parseBool(t)
	default:
		return nil, fmt.Errorf("cannot use %T as bool", v)
	}
}

func parseBool(s string) (interface{}, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return nil, fmt.Errorf("cannot use %q as bool", s)
	}
	return b, nil
}

func coerceDate(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case time.Time:
		return t.Format(DateLayout), nil
	case []byte:
		return parseDate(string(t))
	case string:
		return parseDate(t)
	default:
		return nil, fmt.Errorf("cannot use %T as date", v)
	}
}

func parseDate(s string) (interface{}, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	if len(s) > len(DateLayout) {
		// drivers may render DATE columns with a time part
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			return ts.Format(DateLayout), nil
		}
		s = s[:len(DateLayout)]
	}
	if _, err := time.Parse(DateLayout, s); err != nil {
		return nil, fmt.Errorf("cannot use %q as date (want YYYY-MM-DD)", s)
	}
	return s, nil
}

// ParseTimestamp reads a created_at/updated_at value from either backend.
func ParseTimestamp(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case []byte:
		return ParseTimestamp(string(t))
	case string:
		ts, err := time.Parse(TimestampLayout, t)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse timestamp %q: %w", t, err)
		}
		return ts.UTC(), nil
	case nil:
		return time.Time{}, nil
	default:
		return time.Time{}, fmt.Errorf("cannot use %T as timestamp", v)
	}
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Normalize validates fields against entity and coerces every value. With
// partial=false (create) missing fields are filled with zero values and
// required fields are enforced.
func Normalize(e Entity, in Fields, partial bool) (Fields, error) {
	out := make(Fields, len(e.Fields))
	for name, v := range in {
		f, ok := e.Field(name)
		if !ok {
			return nil, apperr.Validation(name, "unknown field for %s", e.Name)
		}
		cv, err := Coerce(f.Kind, v)
		if err != nil {
			return nil, apperr.Validation(name, "%v", err)
		}
		if f.Kind == KindString {
			if err := checkText(cv.(string)); err != nil {
				return nil, apperr.Validation(name, "%v", err)
			}
		}
		out[name] = cv
	}
	if partial {
		return out, nil
	}
	for _, f := range e.Fields {
		v, ok := out[f.Name]
		if !ok {
			v, _ = Coerce(f.Kind, nil)
			out[f.Name] = v
		}
		if f.Required && isZero(v) {
			return nil, apperr.Validation(f.Name, "is required for %s", e.Name)
		}
	}
	return out, nil
}

// checkText rejects text that a workbook cell cannot hold unchanged, so
// every backend stores exactly what it was given.
func checkText(s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("is not valid UTF-8")
	}
	if n := utf8.RuneCountInString(s); n > MaxTextLength {
		return fmt.Errorf("is %d characters long, the limit is %d", n, MaxTextLength)
	}
	for _, r := range s {
		if !xmlChar(r) {
			return fmt.Errorf("contains control character %U", r)
		}
	}
	return nil
}

// xmlChar reports whether r is allowed in XML 1.0 character data.
func xmlChar(r rune) bool {
	switch {
	case r == '\t' || r == '\n' || r == '\r':
		return true
	case r < 0x20:
		return false
	case r >= 0xD800 && r <= 0xDFFF, r == 0xFFFE, r == 0xFFFF:
		return false
	}
	return true
}

// NormalizeFilter coerces filter values so they compare equal to stored
// values regardless of the caller's Go types.
func NormalizeFilter(e Entity, filter Fields) (Fields, error) {
	out := make(Fields, len(filter))
	for name, v := range filter {
		kind := KindInt
		if name != "id" {
			f, ok := e.Field(name)
			if !ok {
				return nil, apperr.Validation(name, "unknown filter field for %s", e.Name)
			}
			kind = f.Kind
		}
		cv, err := Coerce(kind, v)
		if err != nil {
			return nil, apperr.Validation(name, "%v", err)
		}
		out[name] = cv
	}
	return out, nil
}

func isZero(v interface{}) bool {
	switch t := v.(type) {
	case string:
		return t == ""
	case int64:
		return t == 0
	default:
		return false
	}
}
