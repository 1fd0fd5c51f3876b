// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package normalizer is the §1C supplemented text normalization pipeline
// for any text the gateway injects via Session.SendText — today only the
// idle-timeout "are you still there?" prompt (§5), with the same seam
// available to future synthetic turns. Grounded on a string-keyed
// normalizer registry (internal/type/normalizer.go,
// internal/synthesizes/normalizers' test-only package), narrowed from a
// full ten-normalizer reference set down to the four that matter for
// spoken-style synthetic text: currency, date, time, and number-to-word.
// The reference set's address/url/symbol/tech-abbreviation/
// role-abbreviation/general-abbreviation normalizers exist to clean up
// text read back from documents or tickets; synthetic gateway turns
// never contain that kind of text, so they have no home here.
package normalizer

import "github.com/rapidaai/voicegateway/internal/commons"

// Normalizer rewrites written-form text into the spoken form a caller
// should hear, mirroring a common Normalizer interface shape.
type Normalizer interface {
	Normalize(text string) string
}

// Chain applies a sequence of normalizers in order, the same pattern the
// reference normalizer tests exercise as TestNormalizerChain.
type Chain struct {
	normalizers []Normalizer
}

// NewChain builds a Chain from ns, applied in the given order.
func NewChain(ns ...Normalizer) *Chain {
	return &Chain{normalizers: ns}
}

// Normalize runs text through every normalizer in the chain in order.
func (c *Chain) Normalize(text string) string {
	for _, n := range c.normalizers {
		text = n.Normalize(text)
	}
	return text
}

// Default returns the standard spoken-text normalization chain (§1C):
// currency, date, time, then number-to-word, so a value like "$10.50" is
// expanded before the bare "10" would otherwise be caught by the
// number-to-word pass.
func Default(logger commons.Logger) *Chain {
	return NewChain(
		NewCurrencyNormalizer(logger),
		NewDateNormalizer(logger),
		NewTimeNormalizer(logger),
		NewNumberToWordNormalizer(logger),
	)
}
