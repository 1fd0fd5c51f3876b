// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package audiotrace is the §1C supplemented debug audio trace: an
// optional two-track WAV recorder sitting on the agent<->caller frame
// path, gated by a config flag and never on by default. It is strictly a
// debug aid — it never feeds Call.RecordingURL and has nothing to do
// with the "no raw audio storage" non-goal in §1, which is about the
// production persistence boundary, not an operator-enabled local trace.
// Grounded on a two-track WAV recorder pattern
// (internal/audio/recorder/internal/default_audio_recorder.go),
// generalized from its single shared 16kHz track-pacing model to two
// independently-clocked tracks (caller PCM at 16kHz, agent PCM at
// 24kHz) since this gateway's two directions run at different sample
// rates by design (§4.1), unlike a symmetric mic/TTS pair.
package audiotrace

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/rapidaai/voicegateway/internal/commons"
)

const bytesPerSample = 2 // PCM s16le

// track accumulates one direction's audio on its own wall-clock timeline.
type track struct {
	sampleRate int
	chunks     []chunk
	cursor     int
}

type chunk struct {
	byteOffset int
	data       []byte
}

func (t *track) bytesPerSecond() int { return t.sampleRate * bytesPerSample }

func (t *track) durationBytes(d time.Duration) int {
	raw := int(d.Seconds() * float64(t.bytesPerSecond()))
	return (raw / bytesPerSample) * bytesPerSample
}

// Recorder is a debug sink for one call's caller and agent audio,
// rendered as two WAV files on Persist. Safe for concurrent use from the
// caller->model and model->caller flows, which run on separate
// goroutines (§5).
type Recorder struct {
	logger commons.Logger

	mu        sync.Mutex
	startTime time.Time
	started   bool
	caller    track
	agent     track

	clock func() time.Time
}

// New returns a Recorder for one call. callerRate/agentRate are the PCM
// sample rates of the two tracks (16000 and 24000 per §4.1).
func New(logger commons.Logger, callerRate, agentRate int) *Recorder {
	return &Recorder{
		logger: logger,
		caller: track{sampleRate: callerRate},
		agent:  track{sampleRate: agentRate},
		clock:  time.Now,
	}
}

// Start begins the trace's shared timeline. Both tracks are placed
// relative to this instant.
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startTime = r.clock()
	r.started = true
}

// RecordCaller appends one chunk of decoded caller PCM (post C1 decode,
// the caller->model direction).
func (r *Recorder) RecordCaller(pcm []byte) {
	r.push(&r.caller, pcm)
}

// RecordAgent appends one chunk of model-side PCM (pre C1 encode, the
// model->caller direction) before it is downsampled for the carrier.
func (r *Recorder) RecordAgent(pcm []byte) {
	r.push(&r.agent, pcm)
}

func (r *Recorder) push(t *track, data []byte) {
	if len(data) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	wallOffset := 0
	if r.started {
		wallOffset = t.durationBytes(r.clock().Sub(r.startTime))
	}
	offset := wallOffset
	if t.cursor > offset {
		offset = t.cursor
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	t.chunks = append(t.chunks, chunk{byteOffset: offset, data: buf})
	t.cursor = offset + len(buf)
}

// Persist renders the two tracks as WAV files: caller, then agent. Gaps
// in either track's timeline are filled with silence.
func (r *Recorder) Persist() (callerWAV, agentWAV []byte, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.caller.chunks) == 0 && len(r.agent.chunks) == 0 {
		return nil, nil, fmt.Errorf("audiotrace: no audio recorded")
	}

	sessionDuration := time.Duration(0)
	if r.started {
		sessionDuration = r.clock().Sub(r.startTime)
	}
	callerWAV = renderTrack(&r.caller, sessionDuration)
	agentWAV = renderTrack(&r.agent, sessionDuration)
	r.logger.Infof("audiotrace: persisted trace: caller=%dB agent=%dB", len(callerWAV), len(agentWAV))
	return callerWAV, agentWAV, nil
}

func renderTrack(t *track, sessionDuration time.Duration) []byte {
	totalLen := t.durationBytes(sessionDuration)
	for _, c := range t.chunks {
		if end := c.byteOffset + len(c.data); end > totalLen {
			totalLen = end
		}
	}
	pcm := make([]byte, totalLen)
	for _, c := range t.chunks {
		copy(pcm[c.byteOffset:], c.data)
	}
	return wrapWAV(pcm, t.sampleRate)
}

func wrapWAV(pcm []byte, sampleRate int) []byte {
	var buf bytes.Buffer
	byteRate := sampleRate * bytesPerSample

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM format tag
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(bytesPerSample))
	binary.Write(&buf, binary.LittleEndian, uint16(16)) // bits per sample

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}
