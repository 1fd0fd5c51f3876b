// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package channelbase is the shared concurrency primitive used by both the
// carrier session (C3) and the model session (C2): a pair of bounded
// channels plus per-direction byte accumulation buffers, so audio arriving
// in small chunks can be re-framed into the sizes each side needs.
//
// Reconstructed from a channel_base package whose test suite
// (base_streamer_test.go) is the only surviving artifact of its
// implementation in the retrieval pack. The one deliberate behavioral
// deviation from that reference is PushInput/PushOutput's overflow
// policy: the reference drops the newest message on a full channel
// (select/default), but drop-oldest is what §4.2/§5/§8 require, so that
// is what is implemented here.
package channelbase

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/rapidaai/voicegateway/internal/commons"
)

// Default channel capacities when no Option overrides them.
const (
	DefaultInputChannelSize  = 200 // §5: default 200 frames ≈ 4s of 20ms audio
	DefaultOutputChannelSize = 200
	fallbackBufferCap        = 4096
)

// AudioEncoding distinguishes the two encodings this gateway ever buffers.
type AudioEncoding int

const (
	EncodingMuLaw8   AudioEncoding = iota // 8-bit companded
	EncodingLinear16                      // 16-bit signed linear PCM
)

// AudioFormatConfig describes one direction's wire format, used only to
// derive buffer thresholds; the codec (C1) is the actual transform.
type AudioFormatConfig struct {
	SampleRate int
	Encoding   AudioEncoding
	Channels   int
}

// BytesPerMs returns bytes-per-millisecond for a format, or 0 for nil.
func BytesPerMs(cfg *AudioFormatConfig) int {
	if cfg == nil {
		return 0
	}
	bytesPerSample := 1
	if cfg.Encoding == EncodingLinear16 {
		bytesPerSample = 2
	}
	return cfg.SampleRate * bytesPerSample * cfg.Channels / 1000
}

// Message is what flows over InputCh/OutputCh: an audio chunk, a one-shot
// disconnection signal, or — on OutputCh only, used by the carrier session
// (C3) — a named marker request that must reach the wire in the same
// order as the audio frames queued ahead of it (mirroring a reference
// oneof-style ConversationUserMessage/ConversationDisconnection duality,
// generalized to plain audio bytes since this gateway has no protobuf
// envelope).
type Message struct {
	Audio      []byte
	Disconnect bool
	Mark       string
}

// Option configures a BaseStreamer at construction.
type Option func(*options)

type options struct {
	inputChannelSize      int
	outputChannelSize     int
	inputBufferThreshold  int
	outputBufferThreshold int
	outputFrameSize       int
	inputAudioConfig      *AudioFormatConfig
	outputAudioConfig     *AudioFormatConfig
}

func WithInputChannelSize(n int) Option  { return func(o *options) { o.inputChannelSize = n } }
func WithOutputChannelSize(n int) Option { return func(o *options) { o.outputChannelSize = n } }
func WithInputBufferThreshold(n int) Option {
	return func(o *options) { o.inputBufferThreshold = n }
}
func WithOutputBufferThreshold(n int) Option {
	return func(o *options) { o.outputBufferThreshold = n }
}
func WithOutputFrameSize(n int) Option { return func(o *options) { o.outputFrameSize = n } }
func WithInputAudioConfig(cfg *AudioFormatConfig) Option {
	return func(o *options) { o.inputAudioConfig = cfg }
}
func WithOutputAudioConfig(cfg *AudioFormatConfig) Option {
	return func(o *options) { o.outputAudioConfig = cfg }
}

// BaseStreamer is embedded by carrier/model session implementations to get
// bounded-queue buffering, re-framing, and idempotent disconnection for
// free.
type BaseStreamer struct {
	Logger commons.Logger
	Ctx    context.Context
	Cancel context.CancelFunc
	Closed bool

	InputCh      chan Message
	OutputCh     chan Message
	FlushAudioCh chan struct{}

	inputBufferThreshold  int
	outputBufferThreshold int
	outputFrameSize       int

	inputMu  sync.Mutex
	inputBuf *bytes.Buffer

	outputMu  sync.Mutex
	outputBuf *bytes.Buffer

	closeMu sync.Mutex
}

// NewBaseStreamer builds a BaseStreamer. Thresholds derive from an audio
// config when given (bytes-per-ms × target-ms) and explicit Option values
// always win over derived ones.
func NewBaseStreamer(logger commons.Logger, opts ...Option) BaseStreamer {
	o := &options{
		inputChannelSize:  DefaultInputChannelSize,
		outputChannelSize: DefaultOutputChannelSize,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.inputBufferThreshold == 0 && o.inputAudioConfig != nil {
		o.inputBufferThreshold = BytesPerMs(o.inputAudioConfig) * 60 // 60ms input accumulation
	}
	if o.outputFrameSize == 0 && o.outputAudioConfig != nil {
		o.outputFrameSize = BytesPerMs(o.outputAudioConfig) * 20 // 20ms output frame
	}
	if o.outputBufferThreshold == 0 {
		o.outputBufferThreshold = o.outputFrameSize
	}

	inputCap := o.inputBufferThreshold * 2
	if inputCap == 0 {
		inputCap = fallbackBufferCap
	}
	outputCap := o.outputBufferThreshold + o.outputFrameSize
	if outputCap == 0 {
		outputCap = fallbackBufferCap
	}

	ctx, cancel := context.WithCancel(context.Background())
	return BaseStreamer{
		Logger:                logger,
		Ctx:                   ctx,
		Cancel:                cancel,
		InputCh:               make(chan Message, o.inputChannelSize),
		OutputCh:              make(chan Message, o.outputChannelSize),
		FlushAudioCh:          make(chan struct{}, 1),
		inputBufferThreshold:  o.inputBufferThreshold,
		outputBufferThreshold: o.outputBufferThreshold,
		outputFrameSize:       o.outputFrameSize,
		inputBuf:              bytes.NewBuffer(make([]byte, 0, inputCap)),
		outputBuf:             bytes.NewBuffer(make([]byte, 0, outputCap)),
	}
}

func (bs *BaseStreamer) Context() context.Context { return bs.Ctx }

func (bs *BaseStreamer) InputBufferThreshold() int  { return bs.inputBufferThreshold }
func (bs *BaseStreamer) OutputBufferThreshold() int { return bs.outputBufferThreshold }
func (bs *BaseStreamer) OutputFrameSize() int       { return bs.outputFrameSize }

// PushInput enqueues msg, dropping the oldest queued message (not msg
// itself) if the channel is full. This realizes the drop-oldest overflow
// policy mandated by §4.2/§5/§8.
func (bs *BaseStreamer) PushInput(msg Message) {
	for {
		select {
		case bs.InputCh <- msg:
			return
		default:
			select {
			case <-bs.InputCh:
				bs.Logger.Warnf("channelbase: input queue full, dropped oldest frame")
			default:
			}
		}
	}
}

// PushOutput enqueues msg with the same drop-oldest policy as PushInput.
func (bs *BaseStreamer) PushOutput(msg Message) {
	for {
		select {
		case bs.OutputCh <- msg:
			return
		default:
			select {
			case <-bs.OutputCh:
				bs.Logger.Warnf("channelbase: output queue full, dropped oldest frame")
			default:
			}
		}
	}
}

// Recv returns the next input message, io.EOF on context cancellation or
// channel close.
func (bs *BaseStreamer) Recv() (*Message, error) {
	select {
	case <-bs.Ctx.Done():
		return nil, io.EOF
	case msg, ok := <-bs.InputCh:
		if !ok {
			return nil, io.EOF
		}
		return &msg, nil
	}
}

// BufferAndSendInput accumulates chunk into the input buffer and flushes
// the whole accumulated buffer as one Message once it reaches threshold.
func (bs *BaseStreamer) BufferAndSendInput(chunk []byte) {
	bs.inputMu.Lock()
	bs.inputBuf.Write(chunk)
	shouldFlush := bs.inputBuf.Len() >= bs.inputBufferThreshold
	var flushed []byte
	if shouldFlush {
		flushed = append([]byte(nil), bs.inputBuf.Bytes()...)
		bs.inputBuf.Reset()
	}
	bs.inputMu.Unlock()

	if shouldFlush {
		bs.PushInput(Message{Audio: flushed})
	}
}

// BufferAndSendOutput accumulates chunk and emits as many complete
// OutputFrameSize frames as the accumulated buffer allows, retaining any
// partial remainder for the next call.
func (bs *BaseStreamer) BufferAndSendOutput(chunk []byte) {
	bs.outputMu.Lock()
	bs.outputBuf.Write(chunk)

	var frames [][]byte
	if bs.outputFrameSize > 0 && bs.outputBuf.Len() >= bs.outputBufferThreshold {
		for bs.outputBuf.Len() >= bs.outputFrameSize {
			frame := make([]byte, bs.outputFrameSize)
			copy(frame, bs.outputBuf.Bytes()[:bs.outputFrameSize])
			frames = append(frames, frame)

			remainder := append([]byte(nil), bs.outputBuf.Bytes()[bs.outputFrameSize:]...)
			bs.outputBuf.Reset()
			bs.outputBuf.Write(remainder)
		}
	}
	bs.outputMu.Unlock()

	for _, f := range frames {
		bs.PushOutput(Message{Audio: f})
	}
}

// ClearInputBuffer resets the accumulation buffer and drains any queued
// messages, used on barge-in and on call teardown.
func (bs *BaseStreamer) ClearInputBuffer() {
	bs.ResetInputBuffer()
	for {
		select {
		case <-bs.InputCh:
		default:
			return
		}
	}
}

// ClearOutputBuffer resets the accumulation buffer, drains queued
// messages, and signals FlushAudioCh so a carrier transport can issue a
// clear/stop command downstream. This is the mechanism §4.5 uses on
// Interrupted to drain the agent→caller buffer within 50ms (§8).
func (bs *BaseStreamer) ClearOutputBuffer() {
	bs.ResetOutputBuffer()
	for {
		select {
		case <-bs.OutputCh:
		default:
			goto drained
		}
	}
drained:
	select {
	case bs.FlushAudioCh <- struct{}{}:
	default:
	}
}

// WithInputBuffer runs fn with exclusive access to the input accumulation
// buffer.
func (bs *BaseStreamer) WithInputBuffer(fn func(*bytes.Buffer)) {
	bs.inputMu.Lock()
	defer bs.inputMu.Unlock()
	fn(bs.inputBuf)
}

// WithOutputBuffer runs fn with exclusive access to the output
// accumulation buffer.
func (bs *BaseStreamer) WithOutputBuffer(fn func(*bytes.Buffer)) {
	bs.outputMu.Lock()
	defer bs.outputMu.Unlock()
	fn(bs.outputBuf)
}

func (bs *BaseStreamer) ResetInputBuffer() {
	bs.inputMu.Lock()
	bs.inputBuf.Reset()
	bs.inputMu.Unlock()
}

func (bs *BaseStreamer) ResetOutputBuffer() {
	bs.outputMu.Lock()
	bs.outputBuf.Reset()
	bs.outputMu.Unlock()
}

// PushDisconnection enqueues a single disconnection Message and marks the
// streamer Closed. Safe to call concurrently and more than once; only the
// first call has any effect.
func (bs *BaseStreamer) PushDisconnection() {
	bs.closeMu.Lock()
	if bs.Closed {
		bs.closeMu.Unlock()
		return
	}
	bs.Closed = true
	bs.closeMu.Unlock()

	select {
	case bs.InputCh <- Message{Disconnect: true}:
	default:
		bs.Logger.Warnf("channelbase: input queue full while pushing disconnection")
	}
}

// --- frame pool -------------------------------------------------------

var framePool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, 0, 4096)
		return &b
	},
}

// getFrame returns a []byte of exactly size, reusing pooled backing arrays
// where possible.
func getFrame(size int) []byte {
	ptr := framePool.Get().(*[]byte)
	buf := *ptr
	if cap(buf) < size {
		buf = make([]byte, size)
	} else {
		buf = buf[:size]
	}
	return buf
}

// putFrame returns f's backing array to the pool.
func putFrame(f []byte) {
	f = f[:0]
	framePool.Put(&f)
}
