// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package channelbase

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rapidaai/voicegateway/internal/commons"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultTestOpts() []Option {
	return []Option{
		WithInputChannelSize(10),
		WithOutputChannelSize(10),
		WithInputBufferThreshold(480),
		WithOutputBufferThreshold(480),
		WithOutputFrameSize(160),
	}
}

func newTestStreamer() *BaseStreamer {
	bs := NewBaseStreamer(commons.NewNop(), defaultTestOpts()...)
	return &bs
}

func TestNewBaseStreamer_Defaults(t *testing.T) {
	bs := NewBaseStreamer(commons.NewNop())
	assert.Equal(t, DefaultInputChannelSize, cap(bs.InputCh))
	assert.Equal(t, DefaultOutputChannelSize, cap(bs.OutputCh))
	assert.False(t, bs.Closed)
}

func TestNewBaseStreamer_AudioConfigDerived(t *testing.T) {
	mulaw8k := &AudioFormatConfig{SampleRate: 8000, Encoding: EncodingMuLaw8, Channels: 1}
	bs := NewBaseStreamer(commons.NewNop(),
		WithInputAudioConfig(mulaw8k),
		WithOutputAudioConfig(mulaw8k),
	)
	assert.Equal(t, 480, bs.InputBufferThreshold())
	assert.Equal(t, 160, bs.OutputFrameSize())
	assert.Equal(t, 160, bs.OutputBufferThreshold())
}

func TestPushInput_DropsOldestWhenFull(t *testing.T) {
	bs := NewBaseStreamer(commons.NewNop(), WithInputChannelSize(1), WithOutputChannelSize(1))

	bs.PushInput(Message{Audio: []byte{1}})
	bs.PushInput(Message{Audio: []byte{2}}) // oldest ({1}) is dropped, {2} is kept

	got, err := bs.Recv()
	require.NoError(t, err)
	assert.Equal(t, []byte{2}, got.Audio)
}

func TestRecv_ReturnsEOFOnContextCancel(t *testing.T) {
	bs := newTestStreamer()
	bs.Cancel()

	got, err := bs.Recv()
	assert.Nil(t, got)
	assert.Equal(t, io.EOF, err)
}

func TestBufferAndSendInput_FlushesAtThreshold(t *testing.T) {
	bs := newTestStreamer()
	chunk := make([]byte, 480)
	for i := range chunk {
		chunk[i] = byte(i % 256)
	}
	bs.BufferAndSendInput(chunk)

	select {
	case msg := <-bs.InputCh:
		assert.Equal(t, 480, len(msg.Audio))
		assert.Equal(t, chunk, msg.Audio)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected flushed message on InputCh")
	}
}

func TestBufferAndSendInput_BuffersUntilThreshold(t *testing.T) {
	bs := newTestStreamer()
	bs.BufferAndSendInput(make([]byte, 200))

	select {
	case <-bs.InputCh:
		t.Fatal("should not flush before threshold")
	default:
	}
}

func TestBufferAndSendOutput_ProducesCorrectFrameSize(t *testing.T) {
	bs := newTestStreamer()
	data := make([]byte, 480)
	for i := range data {
		data[i] = byte(i % 256)
	}
	bs.BufferAndSendOutput(data)

	for i := 0; i < 3; i++ {
		select {
		case msg := <-bs.OutputCh:
			assert.Equal(t, 160, len(msg.Audio))
			assert.Equal(t, data[i*160:(i+1)*160], msg.Audio)
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("expected frame %d", i)
		}
	}
}

func TestBufferAndSendOutput_RetainsPartialFrame(t *testing.T) {
	bs := newTestStreamer()
	bs.BufferAndSendOutput(make([]byte, 500))

	for i := 0; i < 3; i++ {
		<-bs.OutputCh
	}
	select {
	case <-bs.OutputCh:
		t.Fatal("should not produce a partial frame")
	default:
	}

	bs.BufferAndSendOutput(make([]byte, 460)) // 20 remainder + 460 = 480 = 3 frames
	count := 0
loop:
	for {
		select {
		case <-bs.OutputCh:
			count++
		default:
			break loop
		}
	}
	assert.Equal(t, 3, count)
}

func TestClearOutputBuffer_SignalsFlushAudioCh(t *testing.T) {
	bs := newTestStreamer()
	bs.ClearOutputBuffer()

	select {
	case <-bs.FlushAudioCh:
	default:
		t.Fatal("ClearOutputBuffer should signal FlushAudioCh")
	}
}

func TestPushDisconnection_Idempotent(t *testing.T) {
	bs := newTestStreamer()
	bs.PushDisconnection()
	bs.PushDisconnection()

	msg := <-bs.InputCh
	assert.True(t, msg.Disconnect)

	select {
	case <-bs.InputCh:
		t.Fatal("only one disconnection message should be queued")
	default:
	}
	assert.True(t, bs.Closed)
}

func TestPushDisconnection_ConcurrentCalls(t *testing.T) {
	bs := newTestStreamer()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bs.PushDisconnection()
		}()
	}
	wg.Wait()

	count := 0
loop:
	for {
		select {
		case <-bs.InputCh:
			count++
		default:
			break loop
		}
	}
	assert.Equal(t, 1, count)
}

func TestBytesPerMs(t *testing.T) {
	assert.Equal(t, 0, BytesPerMs(nil))
	assert.Equal(t, 8, BytesPerMs(&AudioFormatConfig{SampleRate: 8000, Encoding: EncodingMuLaw8, Channels: 1}))
	assert.Equal(t, 32, BytesPerMs(&AudioFormatConfig{SampleRate: 16000, Encoding: EncodingLinear16, Channels: 1}))
}

func TestGetFrame_ReturnsCorrectSize(t *testing.T) {
	f := getFrame(160)
	assert.Equal(t, 160, len(f))
	assert.GreaterOrEqual(t, cap(f), 160)
	putFrame(f)
}
