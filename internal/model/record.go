// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

// DataType names the dashboard module a structured record belongs to.
type DataType string

const (
	DataTypeExpense    DataType = "expense"
	DataTypeIncome     DataType = "income"
	DataTypeFlight     DataType = "flight"
	DataTypeInvestment DataType = "investment"
)

// Known reports whether the dashboard has a module for this type.
func (d DataType) Known() bool {
	switch d {
	case DataTypeExpense, DataTypeIncome, DataTypeFlight, DataTypeInvestment:
		return true
	}
	return false
}

// DisplayType returns the type used to pick a confirmation layout.
// Unknown types are shown as expenses.
func (d DataType) DisplayType() DataType {
	if d.Known() {
		return d
	}
	return DataTypeExpense
}

// Record is a structured record the backend extracted from assistant text.
type Record struct {
	DataType   DataType       `json:"data_type"`
	Data       map[string]any `json:"data"`
	Confidence float64        `json:"confidence,omitempty"`
}

// IsEmpty reports whether the record carries no fields.
func (r Record) IsEmpty() bool {
	return len(r.Data) == 0
}
