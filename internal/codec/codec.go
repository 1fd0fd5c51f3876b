// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package codec

import (
	"encoding/binary"
	"fmt"
)

// downsampleRatio is the model-output-rate-to-carrier-rate ratio (24kHz →
// 8kHz) used by EncodePCM24kToUlaw.
const downsampleRatio = 3

// Codec is a pure, stateless-between-calls transform with one exception: a
// small bounded residue buffer on the downsample path, for packets shorter
// than one output sample (§4.1). Not safe for concurrent use by multiple
// goroutines on the same instance — each call direction owns its own
// Codec.
type Codec struct {
	downsampleResidue []int16 // leftover 24kHz samples, < downsampleRatio long
}

// New returns a Codec with an empty residue buffer.
func New() *Codec {
	return &Codec{}
}

// Reset clears the residue buffer, matching the "bounded and cleared on
// reset" requirement in §4.1.
func (c *Codec) Reset() {
	c.downsampleResidue = c.downsampleResidue[:0]
}

// DecodeUlawToPCM16k converts 8-bit μ-law @ 8kHz to linear PCM s16le @
// 16kHz: μ-law→linear sample-for-sample, then 1→2 upsample by linear
// interpolation. Empty input returns empty output; there is no other
// error case on this path since every μ-law byte maps to exactly one
// 8kHz sample.
func (c *Codec) DecodeUlawToPCM16k(ulaw []byte) ([]byte, error) {
	if len(ulaw) == 0 {
		return nil, nil
	}

	samples8k := make([]int16, len(ulaw))
	for i, b := range ulaw {
		samples8k[i] = decodeUlawSample(b)
	}

	samples16k := upsampleLinear2x(samples8k)

	out := make([]byte, len(samples16k)*2)
	for i, s := range samples16k {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out, nil
}

// upsampleLinear2x doubles the sample rate by inserting one linearly
// interpolated sample between every pair of input samples (§4.1).
func upsampleLinear2x(in []int16) []int16 {
	if len(in) == 0 {
		return nil
	}
	out := make([]int16, len(in)*2)
	for i, s := range in {
		out[i*2] = s
		var next int16
		if i+1 < len(in) {
			next = in[i+1]
		} else {
			next = s
		}
		out[i*2+1] = int16((int32(s) + int32(next)) / 2)
	}
	return out
}

// EncodePCM24kToUlaw converts linear PCM s16le @ 24kHz to 8-bit μ-law @
// 8kHz: a 3→1 decimating low-pass filter (a 3-sample moving average,
// whose −3dB point is at about 3.7kHz, only just below the 4kHz Nyquist
// limit of the 8kHz output) followed by linear→μ-law.
// Packets shorter than one output sample are buffered in the residue and
// folded into the next call.
func (c *Codec) EncodePCM24kToUlaw(pcm24k []byte) ([]byte, error) {
	if len(pcm24k)%2 != 0 {
		return nil, fmt.Errorf("codec: pcm24k input length %d is not a multiple of sample size 2", len(pcm24k))
	}
	if len(pcm24k) == 0 {
		return nil, nil
	}

	samples := make([]int16, len(pcm24k)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm24k[i*2:]))
	}

	all := append(c.downsampleResidue, samples...)

	n := len(all) / downsampleRatio
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		window := all[i*downsampleRatio : (i+1)*downsampleRatio]
		var sum int32
		for _, s := range window {
			sum += int32(s)
		}
		avg := int16(sum / downsampleRatio)
		out[i] = encodeUlawSample(avg)
	}

	remStart := n * downsampleRatio
	c.downsampleResidue = append(c.downsampleResidue[:0], all[remStart:]...)

	return out, nil
}
