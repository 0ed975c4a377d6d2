package booking

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anjiri1684/rental_escrow/models"
)

var cameraSchema = []models.RenterInputField{
	{FieldName: "start_date", FieldType: FieldDate, Required: true},
	{FieldName: "days", FieldType: FieldNumber, Required: true},
	{FieldName: "lens", FieldType: FieldSelection, Required: true, Options: []string{"35mm", "50mm"}},
	{FieldName: "id_scan", FieldType: FieldFile, Required: false},
}

func TestCheckRequirements(t *testing.T) {
	tests := []struct {
		name     string
		data     map[string]any
		problems []string
	}{
		{
			name: "complete",
			data: map[string]any{"start_date": "2026-03-10", "days": float64(3), "lens": "50mm"},
		},
		{
			name: "numeric string accepted",
			data: map[string]any{"start_date": "2026-03-10", "days": "3", "lens": "35mm"},
		},
		{
			name:     "missing and blank",
			data:     map[string]any{"start_date": "  ", "lens": "35mm"},
			problems: []string{"start_date is required", "days is required"},
		},
		{
			name:     "wrong types",
			data:     map[string]any{"start_date": "next week", "days": "three", "lens": "85mm", "id_scan": 7},
			problems: []string{"start_date must be a date (YYYY-MM-DD)", "days must be a number", "lens must be one of 35mm, 50mm", "id_scan must be text"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.problems, checkRequirements(cameraSchema, tt.data))
		})
	}
}

func TestPaymentAmountFrom(t *testing.T) {
	amount, err := paymentAmountFrom(map[string]any{"total_price": 100.004})
	require.NoError(t, err)
	assert.Equal(t, 100.0, amount)

	amount, err = paymentAmountFrom(map[string]any{"total_price": "250.5"})
	require.NoError(t, err)
	assert.Equal(t, 250.5, amount)

	amount, err = paymentAmountFrom(map[string]any{"total_price": MaxAmount})
	require.NoError(t, err)
	assert.Equal(t, MaxAmount, amount)

	for _, data := range []map[string]any{
		{},
		{"total_price": ""},
		{"total_price": "free"},
		{"total_price": 0},
		{"total_price": -10.0},
		{"total_price": "NaN"},
		{"total_price": "Inf"},
		{"total_price": "-Inf"},
		{"total_price": "1e308"},
		{"total_price": math.NaN()},
		{"total_price": math.Inf(1)},
		{"total_price": 100_000_000.0},
	} {
		_, err := paymentAmountFrom(data)
		assert.Error(t, err, "%v", data)
	}
}
