package booking

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/anjiri1684/rental_escrow/models"
)

const (
	FieldString    = "string"
	FieldNumber    = "number"
	FieldDate      = "date"
	FieldFile      = "file"
	FieldSelection = "selection"
)

// TotalPriceKey is the requirements entry carrying the price computed by
// the marketplace for the requested rental period.
const TotalPriceKey = "total_price"

// checkRequirements returns one problem per field of schema that data does
// not satisfy. Keys not named by the schema are kept as given.
func checkRequirements(schema []models.RenterInputField, data map[string]any) []string {
	var problems []string
	for _, f := range schema {
		v, present := data[f.FieldName]
		if !present || isBlank(v) {
			if f.Required {
				problems = append(problems, fmt.Sprintf("%s is required", f.FieldName))
			}
			continue
		}
		if msg := checkFieldType(f, v); msg != "" {
			problems = append(problems, fmt.Sprintf("%s %s", f.FieldName, msg))
		}
	}
	return problems
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	}
	return false
}

func checkFieldType(f models.RenterInputField, v any) string {
	switch f.FieldType {
	case FieldNumber:
		if _, ok := asNumber(v); !ok {
			return "must be a number"
		}
	case FieldDate:
		s, ok := v.(string)
		if !ok {
			return "must be a date"
		}
		if _, err := time.Parse("2006-01-02", s); err != nil {
			if _, err := time.Parse(time.RFC3339, s); err != nil {
				return "must be a date (YYYY-MM-DD)"
			}
		}
	case FieldSelection:
		s, ok := v.(string)
		if !ok {
			return "must be one of the listed options"
		}
		if len(f.Options) > 0 {
			for _, o := range f.Options {
				if o == s {
					return ""
				}
			}
			return fmt.Sprintf("must be one of %s", strings.Join(f.Options, ", "))
		}
	case FieldString, FieldFile:
		if _, ok := v.(string); !ok {
			return "must be text"
		}
	}
	return ""
}

// asNumber accepts finite numbers only; "NaN" and "Inf" parse as floats
// but are not quantities.
func asNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, finite(t)
	case float32:
		return float64(t), finite(float64(t))
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil && finite(f)
	}
	return 0, false
}

// paymentAmountFrom reads the upstream-computed total price out of data.
func paymentAmountFrom(data map[string]any) (float64, error) {
	raw, ok := data[TotalPriceKey]
	if !ok || isBlank(raw) {
		return 0, fmt.Errorf("%s is required", TotalPriceKey)
	}
	amount, ok := asNumber(raw)
	if !ok {
		return 0, fmt.Errorf("%s must be a number", TotalPriceKey)
	}
	if amount <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero", TotalPriceKey)
	}
	if amount > MaxAmount {
		return 0, fmt.Errorf("%s must not exceed %.2f", TotalPriceKey, MaxAmount)
	}
	return roundCents(amount), nil
}
