// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package extract

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	chromaStyles "github.com/alecthomas/chroma/v2/styles"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/jeranaias/lifedash-tui/internal/model"
)

// Field is one line of the confirmation view.
type Field struct {
	Key   string
	Label string
	Value string
}

// fieldOrder is the display order of known keys. Unknown keys follow,
// sorted.
var fieldOrder = []string{
	"category", "amount", "merchant", "date", "notes", "source", "type",
	"airline", "flight_number", "origin", "destination", "travel_class", "cost",
	"symbol", "quantity", "purchase_price",
}

var fieldLabels = map[string]string{
	"travel_class":   "Class",
	"purchase_price": "Price",
}

var moneyKeys = map[string]bool{
	"amount":         true,
	"cost":           true,
	"purchase_price": true,
}

var typeLabels = map[model.DataType]string{
	model.DataTypeExpense:    "Expense",
	model.DataTypeIncome:     "Income",
	model.DataTypeFlight:     "Flight",
	model.DataTypeInvestment: "Investment",
}

var titleCaser = cases.Title(language.English)

// Title is the confirmation heading, e.g. "Expense detected".
func Title(rec model.Record) string {
	return typeLabels[rec.DataType.DisplayType()] + " detected"
}

// Label returns the display label of a field key.
func Label(key string) string {
	if l, ok := fieldLabels[key]; ok {
		return l
	}
	return titleCaser.String(strings.ReplaceAll(key, "_", " "))
}

// Fields returns the non-empty fields of rec in display order.
func Fields(rec model.Record) []Field {
	known := make(map[string]bool, len(fieldOrder))
	keys := make([]string, 0, len(rec.Data))
	for _, k := range fieldOrder {
		known[k] = true
		if _, ok := rec.Data[k]; ok {
			keys = append(keys, k)
		}
	}
	var extra []string
	for k := range rec.Data {
		if !known[k] {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	keys = append(keys, extra...)

	fields := make([]Field, 0, len(keys))
	for _, k := range keys {
		v := FormatValue(k, rec.Data[k])
		if v == "" {
			continue
		}
		fields = append(fields, Field{Key: k, Label: Label(k), Value: v})
	}
	return fields
}

// FormatValue renders a field value. Money keys render as dollars with the
// fewest decimals needed; quantities get a "shares" suffix. Empty values
// render as "".
func FormatValue(key string, v any) string {
	if isEmpty(v) {
		return ""
	}
	if moneyKeys[key] {
		if d, ok := toDecimal(v); ok {
			return FormatMoney(d)
		}
	}
	s := plain(v)
	if key == "quantity" {
		if d, ok := toDecimal(v); ok {
			unit := "shares"
			if d.Equal(decimal.NewFromInt(1)) {
				unit = "share"
			}
			return d.String() + " " + unit
		}
	}
	return s
}

// FormatMoney renders d as "$1,234.56", dropping trailing zeros
// ("$45", "$12.5").
func FormatMoney(d decimal.Decimal) string {
	sign := ""
	if d.IsNegative() {
		sign = "-"
		d = d.Neg()
	}
	s := d.Round(2).String()
	intPart, frac, hasFrac := strings.Cut(s, ".")

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if hasFrac {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return sign + "$" + b.String()
}

// Highlight renders the record as indented, syntax-highlighted JSON for
// terminals. It falls back to plain JSON.
func Highlight(rec model.Record) string {
	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", rec.Data)
	}
	code := string(raw)

	lexer := lexers.Get("json")
	if lexer == nil {
		return code
	}
	lexer = chroma.Coalesce(lexer)

	style := chromaStyles.Get("monokai")
	if style == nil {
		style = chromaStyles.Fallback
	}
	formatter := formatters.Get("terminal256")
	if formatter == nil {
		formatter = formatters.Fallback
	}

	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code
	}
	var buf strings.Builder
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return code
	}
	return buf.String()
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case bool:
		return !x
	case float64:
		return x == 0
	case int:
		return x == 0
	}
	return false
}

func toDecimal(v any) (decimal.Decimal, bool) {
	switch x := v.(type) {
	case float64:
		return decimal.NewFromFloat(x), true
	case int:
		return decimal.NewFromInt(int64(x)), true
	case int64:
		return decimal.NewFromInt(x), true
	case json.Number:
		d, err := decimal.NewFromString(x.String())
		return d, err == nil
	case string:
		d, err := decimal.NewFromString(strings.TrimPrefix(strings.TrimSpace(x), "$"))
		return d, err == nil
	}
	return decimal.Decimal{}, false
}

func plain(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return decimal.NewFromFloat(x).String()
	default:
		return fmt.Sprint(x)
	}
}
