// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package normalizer

import (
	"regexp"
	"strconv"

	"github.com/rapidaai/voicegateway/internal/commons"
)

// standaloneNumberPattern matches any bare integer at a word boundary,
// including the digits that the date and time passes ahead of this one in
// Default's chain leave in their output (day, year, hour, minute).
var standaloneNumberPattern = regexp.MustCompile(`\b\d+\b`)

// numberToWordNormalizer spells out standalone integers so the model's
// output audio reads them as words rather than digits.
type numberToWordNormalizer struct {
	logger commons.Logger
}

// NewNumberToWordNormalizer returns a Normalizer that spells out
// standalone integers.
func NewNumberToWordNormalizer(logger commons.Logger) Normalizer {
	return &numberToWordNormalizer{logger: logger}
}

func (n *numberToWordNormalizer) Normalize(text string) string {
	return standaloneNumberPattern.ReplaceAllStringFunc(text, func(match string) string {
		val, err := strconv.ParseInt(match, 10, 64)
		if err != nil {
			n.logger.Warnf("normalizer: number: failed to parse %q: %v", match, err)
			return match
		}
		return integerToWords(val)
	})
}
