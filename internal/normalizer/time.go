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

	"github.com/rapidaai/voicegateway/internal/commons"
)

var timePattern = regexp.MustCompile(`\b([01]?\d|2[0-3]):([0-5]\d)\b`)

// timeNormalizer expands 24-hour HH:MM into a spoken 12-hour form with
// AM/PM, e.g. "14:30" -> "2:30 PM".
type timeNormalizer struct {
	logger commons.Logger
}

// NewTimeNormalizer returns a Normalizer that spells out 24-hour times.
func NewTimeNormalizer(logger commons.Logger) Normalizer {
	return &timeNormalizer{logger: logger}
}

func (n *timeNormalizer) Normalize(text string) string {
	return timePattern.ReplaceAllStringFunc(text, func(match string) string {
		g := timePattern.FindStringSubmatch(match)
		hour, err1 := strconv.Atoi(g[1])
		minute, err2 := strconv.Atoi(g[2])
		if err1 != nil || err2 != nil {
			n.logger.Warnf("normalizer: time: failed to parse %q", match)
			return match
		}
		period := "AM"
		spoken := hour
		switch {
		case hour == 0:
			spoken = 12
		case hour == 12:
			period = "PM"
		case hour > 12:
			spoken = hour - 12
			period = "PM"
		}
		return fmt.Sprintf("%d:%02d %s", spoken, minute, period)
	})
}
