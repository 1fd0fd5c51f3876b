// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package normalizer

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/rapidaai/voicegateway/internal/commons"
)

// dateISOPattern matches YYYY-MM-DD or YYYY.MM.DD.
var dateISOPattern = regexp.MustCompile(`\b(\d{4})[-.](\d{2})[-.](\d{2})\b`)

// dateDMYPattern matches DD/MM/YYYY or DD-MM-YYYY.
var dateDMYPattern = regexp.MustCompile(`\b(\d{2})[/-](\d{2})[/-](\d{4})\b`)

// dateNormalizer expands numeric dates into a spoken "Month D, YYYY" form.
type dateNormalizer struct {
	logger commons.Logger
}

// NewDateNormalizer returns a Normalizer that spells out numeric dates.
func NewDateNormalizer(logger commons.Logger) Normalizer {
	return &dateNormalizer{logger: logger}
}

func (n *dateNormalizer) Normalize(text string) string {
	text = dateISOPattern.ReplaceAllStringFunc(text, func(match string) string {
		g := dateISOPattern.FindStringSubmatch(match)
		return n.spell(g[1], g[2], g[3], match)
	})
	text = dateDMYPattern.ReplaceAllStringFunc(text, func(match string) string {
		g := dateDMYPattern.FindStringSubmatch(match)
		return n.spell(g[3], g[2], g[1], match)
	})
	return text
}

// spell renders yearStr-monthStr-dayStr as "Month D, YYYY", falling back
// to the original match on an out-of-range month or day.
func (n *dateNormalizer) spell(yearStr, monthStr, dayStr, original string) string {
	year, err1 := strconv.Atoi(yearStr)
	month, err2 := strconv.Atoi(monthStr)
	day, err3 := strconv.Atoi(dayStr)
	if err1 != nil || err2 != nil || err3 != nil || month < 1 || month > 12 || day < 1 || day > 31 {
		if err1 != nil || err2 != nil || err3 != nil {
			n.logger.Warnf("normalizer: date: failed to parse %q", original)
		}
		return original
	}
	return fmt.Sprintf("%s %d, %d", time.Month(month).String(), day, year)
}
