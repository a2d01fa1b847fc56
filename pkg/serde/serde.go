// Package serde implements the JSON encoding shared with the orchestrator.
//
// Values that plain JSON cannot represent (binary data, dates, arbitrary
// precision decimals) are encoded as tagged objects so the orchestrator can
// reconstruct them. The attribute names used in result envelopes are defined
// here as well.
package serde

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Tagged value attributes.
const (
	AttrType = "__type__"
	AttrData = "__data__"

	TypeBytes    = "bytes"
	TypeDatetime = "datetime"
	TypeDate     = "date"
	TypeDecimal  = "decimal"
)

// Result envelope attributes.
const (
	AttrTraceID          = "__mcd_trace_id__"
	AttrResult           = "__mcd_result__"
	AttrError            = "__mcd_error__"
	AttrErrorType        = "__mcd_error_type__"
	AttrErrorAttrs       = "__mcd_error_attrs__"
	AttrResultLocation   = "__mcd_result_location__"
	AttrResultCompressed = "__mcd_result_compressed__"
	AttrSizeExceeded     = "__mcd_size_exceeded__"
)

// Date is a calendar date with no time component, serialized as a tagged
// "date" value. time.Time values are serialized as "datetime".
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the Date for t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// Marshal serializes v to JSON, replacing values of special types with their
// tagged representation. It is a pure function on the value tree: maps and
// slices are copied, never mutated.
func Marshal(v any) ([]byte, error) {
	return json.Marshal(Serialize(v))
}

// Serialize converts v into a tree of plain JSON-compatible values, replacing
// special types with tagged objects. Inputs that need no conversion are
// returned as-is.
func Serialize(v any) any {
	switch value := v.(type) {
	case nil:
		return nil
	case time.Time:
		return map[string]any{
			AttrType: TypeDatetime,
			AttrData: value.Format(time.RFC3339Nano),
		}
	case Date:
		return map[string]any{
			AttrType: TypeDate,
			AttrData: value.String(),
		}
	case decimal.Decimal:
		return map[string]any{
			AttrType: TypeDecimal,
			AttrData: value.String(),
		}
	case []byte:
		return map[string]any{
			AttrType: TypeBytes,
			AttrData: base64.StdEncoding.EncodeToString(value),
		}
	case map[string]any:
		converted := make(map[string]any, len(value))
		for k, item := range value {
			converted[k] = Serialize(item)
		}
		return converted
	case []any:
		converted := make([]any, len(value))
		for i, item := range value {
			converted[i] = Serialize(item)
		}
		return converted
	case [][]any:
		converted := make([]any, len(value))
		for i, row := range value {
			converted[i] = Serialize(row)
		}
		return converted
	}

	// record-shaped values become a shallow field map
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv = rv.Elem()
	}
	if rv.Kind() == reflect.Struct {
		return structToMap(rv)
	}
	return v
}

func structToMap(rv reflect.Value) map[string]any {
	rt := rv.Type()
	out := make(map[string]any, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		if !field.IsExported() {
			continue
		}
		name := field.Name
		if tag, ok := field.Tag.Lookup("json"); ok {
			if tag == "-" {
				continue
			}
			if comma := strings.Index(tag, ","); comma >= 0 {
				tag = tag[:comma]
			}
			if tag != "" {
				name = tag
			}
		}
		out[name] = Serialize(rv.Field(i).Interface())
	}
	return out
}
