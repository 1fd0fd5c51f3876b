// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package normalizer

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/rapidaai/voicegateway/internal/commons"
)

var currencyPattern = regexp.MustCompile(`\$(\d{1,3}(?:,\d{3})*|\d+)\.(\d{2})`)

// currencyNormalizer expands "$10.50" into "ten dollars and fifty cents".
// A bare "$50" with no cents component is left untouched — same
// limitation the reference normalizer tests document.
type currencyNormalizer struct {
	logger commons.Logger
}

// NewCurrencyNormalizer returns a Normalizer that spells out dollar
// amounts for spoken delivery.
func NewCurrencyNormalizer(logger commons.Logger) Normalizer {
	return &currencyNormalizer{logger: logger}
}

func (n *currencyNormalizer) Normalize(text string) string {
	return currencyPattern.ReplaceAllStringFunc(text, func(match string) string {
		groups := currencyPattern.FindStringSubmatch(match)
		dollars, err := strconv.ParseInt(strings.ReplaceAll(groups[1], ",", ""), 10, 64)
		if err != nil {
			n.logger.Warnf("normalizer: currency: unparseable dollar amount %q: %v", groups[1], err)
			return match
		}
		cents, err := strconv.ParseInt(groups[2], 10, 64)
		if err != nil {
			n.logger.Warnf("normalizer: currency: unparseable cents %q: %v", groups[2], err)
			return match
		}
		dollarWord := "dollars"
		if dollars == 1 {
			dollarWord = "dollar"
		}
		centWord := "cents"
		if cents == 1 {
			centWord = "cent"
		}
		return integerToWords(dollars) + " " + dollarWord + " and " + integerToWords(cents) + " " + centWord
	})
}
