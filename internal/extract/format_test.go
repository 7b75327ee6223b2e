// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package extract

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/jeranaias/lifedash-tui/internal/model"
)

func TestFormatMoney(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"45", "$45"},
		{"45.00", "$45"},
		{"12.5", "$12.5"},
		{"1234.56", "$1,234.56"},
		{"1234567.891", "$1,234,567.89"},
		{"999", "$999"},
		{"-20.1", "-$20.1"},
	}
	for _, tt := range tests {
		got := FormatMoney(decimal.RequireFromString(tt.in))
		if got != tt.want {
			t.Errorf("FormatMoney(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		key  string
		in   any
		want string
	}{
		{"amount", 45.0, "$45"},
		{"cost", "$320.50", "$320.5"},
		{"purchase_price", 187.25, "$187.25"},
		{"quantity", 10.0, "10 shares"},
		{"quantity", 1.0, "1 share"},
		{"merchant", "Starbucks", "Starbucks"},
		{"notes", "", ""},
		{"amount", 0.0, ""},
		{"notes", nil, ""},
		{"amount", "about forty", "about forty"},
	}
	for _, tt := range tests {
		if got := FormatValue(tt.key, tt.in); got != tt.want {
			t.Errorf("FormatValue(%q, %v) = %q, want %q", tt.key, tt.in, got, tt.want)
		}
	}
}

func TestFields_OrderAndLabels(t *testing.T) {
	rec := model.Record{
		DataType: model.DataTypeExpense,
		Data: map[string]any{
			"merchant":   "Starbucks",
			"amount":     45.0,
			"notes":      "",
			"zz_custom":  "x",
			"loyalty_id": "A1",
			"category":   "food",
		},
	}
	fields := Fields(rec)

	var keys, labels []string
	for _, f := range fields {
		keys = append(keys, f.Key)
		labels = append(labels, f.Label)
	}
	wantKeys := "category,amount,merchant,loyalty_id,zz_custom"
	if got := strings.Join(keys, ","); got != wantKeys {
		t.Errorf("keys = %q, want %q", got, wantKeys)
	}
	wantLabels := "Category,Amount,Merchant,Loyalty Id,Zz Custom"
	if got := strings.Join(labels, ","); got != wantLabels {
		t.Errorf("labels = %q, want %q", got, wantLabels)
	}
}

func TestLabel(t *testing.T) {
	tests := map[string]string{
		"flight_number":  "Flight Number",
		"travel_class":   "Class",
		"purchase_price": "Price",
		"destination":    "Destination",
	}
	for key, want := range tests {
		if got := Label(key); got != want {
			t.Errorf("Label(%q) = %q, want %q", key, got, want)
		}
	}
}

func TestTitle(t *testing.T) {
	if got := Title(model.Record{DataType: model.DataTypeFlight}); got != "Flight detected" {
		t.Errorf("Title(flight) = %q", got)
	}
	if got := Title(model.Record{DataType: "mystery"}); got != "Expense detected" {
		t.Errorf("Title(unknown) = %q, want expense fallback", got)
	}
}

func TestHighlight_ContainsValues(t *testing.T) {
	out := Highlight(model.Record{DataType: model.DataTypeExpense, Data: map[string]any{"merchant": "Starbucks"}})
	if !strings.Contains(out, "Starbucks") || !strings.Contains(out, "expense") {
		t.Errorf("Highlight output missing values: %q", out)
	}
}
