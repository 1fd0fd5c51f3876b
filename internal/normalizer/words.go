// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package normalizer

import "strings"

// integerToWords spells out n (0 <= n < 1e12) in the hyphenated form the
// reference normalizer tests expect ("forty-two", "one thousand two
// hundred thirty-four"). A candidate dependency (moul.io/number-to-words)
// was considered for this, but no call site in the retrieved sources
// exercises it — its exact function signature could not be grounded, the
// same problem DESIGN.md already flags for the audio resampler
// dependency, so this spells numbers out directly instead of guessing an
// unconfirmed import.
func integerToWords(n int64) string {
	if n == 0 {
		return "zero"
	}
	if n < 0 {
		return "negative " + integerToWords(-n)
	}

	var parts []string
	scales := []struct {
		value int64
		name  string
	}{
		{1_000_000_000, "billion"},
		{1_000_000, "million"},
		{1_000, "thousand"},
	}
	for _, s := range scales {
		if n >= s.value {
			parts = append(parts, threeDigitsToWords(n/s.value)+" "+s.name)
			n %= s.value
		}
	}
	if n > 0 || len(parts) == 0 {
		parts = append(parts, threeDigitsToWords(n))
	}
	return strings.Join(parts, " ")
}

var ones = []string{
	"zero", "one", "two", "three", "four", "five", "six", "seven", "eight", "nine",
	"ten", "eleven", "twelve", "thirteen", "fourteen", "fifteen", "sixteen",
	"seventeen", "eighteen", "nineteen",
}

var tens = []string{
	"", "", "twenty", "thirty", "forty", "fifty", "sixty", "seventy", "eighty", "ninety",
}

// twoDigitsToWords spells 0-99 with a hyphen for compound tens ("forty-two").
func twoDigitsToWords(n int64) string {
	if n < 20 {
		return ones[n]
	}
	t := tens[n/10]
	if n%10 == 0 {
		return t
	}
	return t + "-" + ones[n%10]
}

// threeDigitsToWords spells 0-999.
func threeDigitsToWords(n int64) string {
	if n < 100 {
		return twoDigitsToWords(n)
	}
	hundreds := n / 100
	rest := n % 100
	out := ones[hundreds] + " hundred"
	if rest > 0 {
		out += " " + twoDigitsToWords(rest)
	}
	return out
}
