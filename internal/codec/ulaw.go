// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package codec implements C1: pure transformation between the carrier's
// 8 kHz μ-law format and the model's 16 kHz / 24 kHz linear PCM formats.
// No I/O, no state beyond a small resampling phase accumulator per
// direction (§4.1).
package codec

import "github.com/zaf/g711"

// decodeUlawSample converts one μ-law byte to a linear 16-bit sample using
// the standard ITU-T G.711 table via the zaf/g711 codec.
func decodeUlawSample(u byte) int16 {
	pcm := g711.DecodeUlaw([]byte{u})
	if len(pcm) < 2 {
		return 0
	}
	return int16(uint16(pcm[0]) | uint16(pcm[1])<<8)
}

// encodeUlawSample converts one linear 16-bit sample to a μ-law byte.
func encodeUlawSample(s int16) byte {
	lpcm := []byte{byte(uint16(s)), byte(uint16(s) >> 8)}
	ulaw := g711.EncodeUlaw(lpcm)
	if len(ulaw) == 0 {
		return 0xFF // silence in μ-law
	}
	return ulaw[0]
}
