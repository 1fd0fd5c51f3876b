// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package normalizer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rapidaai/voicegateway/internal/commons"
)

func TestCurrencyNormalizer(t *testing.T) {
	n := NewCurrencyNormalizer(commons.NewNop())

	tests := []struct {
		name, input, expected string
	}{
		{"basic dollar amount", "The price is $10.50", "The price is ten dollars and fifty cents"},
		{"large amount with commas", "Total cost: $1,234.56", "Total cost: one thousand two hundred thirty-four dollars and fifty-six cents"},
		{"zero cents", "That costs $100.00", "That costs one hundred dollars and zero cents"},
		{"singular dollar and cent", "Cost is $1.01", "Cost is one dollar and one cent"},
		{"no cents component is left alone", "Price is $50", "Price is $50"},
		{"no currency", "Hello world", "Hello world"},
		{"empty string", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, n.Normalize(tt.input))
		})
	}
}

func TestDateNormalizer(t *testing.T) {
	n := NewDateNormalizer(commons.NewNop())

	tests := []struct {
		name, input, expected string
	}{
		{"ISO format", "Meeting on 2024-01-15", "Meeting on January 15, 2024"},
		{"DD/MM/YYYY", "Date: 15/01/2024", "Date: January 15, 2024"},
		{"DD-MM-YYYY", "Due: 25-12-2024", "Due: December 25, 2024"},
		{"dot separated", "Created: 2024.06.30", "Created: June 30, 2024"},
		{"no date", "No date here", "No date here"},
		{"empty string", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, n.Normalize(tt.input))
		})
	}
}

func TestTimeNormalizer(t *testing.T) {
	n := NewTimeNormalizer(commons.NewNop())

	tests := []struct {
		name, input, expected string
	}{
		{"24-hour noon", "Meeting at 12:00", "Meeting at 12:00 PM"},
		{"24-hour afternoon", "Call at 14:30", "Call at 2:30 PM"},
		{"24-hour morning", "Wake up at 07:00", "Wake up at 7:00 AM"},
		{"midnight", "Event at 00:00", "Event at 12:00 AM"},
		{"no time", "No time here", "No time here"},
		{"empty string", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, n.Normalize(tt.input))
		})
	}
}

func TestNumberToWordNormalizer(t *testing.T) {
	n := NewNumberToWordNormalizer(commons.NewNop())

	tests := []struct {
		name, input, expected string
	}{
		{"single digit", "I have 5 apples", "I have five apples"},
		{"teens", "There are 15 students", "There are fifteen students"},
		{"compound number", "We need 42 items", "We need forty-two items"},
		{"zero", "Score is 0", "Score is zero"},
		{"three digits", "Population is 100", "Population is one hundred"},
		{"no numbers", "Hello world", "Hello world"},
		{"empty string", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, n.Normalize(tt.input))
		})
	}
}

func TestChainAppliesInOrder(t *testing.T) {
	logger := commons.NewNop()
	chain := Default(logger)

	// The number-to-word pass runs last, so it also rewrites whatever bare
	// digits survive inside a spelled-out date or time; this only checks
	// that each earlier pass ran, not the final literal string.
	result := chain.Normalize("Meeting at 14:30 on 2024-01-15 costs $10.50")
	assert.Contains(t, result, "PM")
	assert.Contains(t, result, "January")
	assert.Contains(t, result, "ten dollars and fifty cents")
}

func TestChainHandlesEmptyAndPlainText(t *testing.T) {
	chain := Default(commons.NewNop())
	assert.Equal(t, "", chain.Normalize(""))
	assert.Equal(t, "plain text with no patterns", chain.Normalize("plain text with no patterns"))
}
