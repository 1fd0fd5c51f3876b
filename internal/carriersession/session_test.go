// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package carriersession

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/voicegateway/internal/commons"
)

type fakeConn struct {
	mu      sync.Mutex
	readCh  chan []byte
	writeCh chan []byte
	closed  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{readCh: make(chan []byte, 32), writeCh: make(chan []byte, 64)}
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	cp := append([]byte(nil), data...)
	select {
	case f.writeCh <- cp:
	default:
	}
	return nil
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	data, ok := <-f.readCh
	if !ok {
		return 0, nil, websocket.ErrCloseSent
	}
	return websocket.TextMessage, data, nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.readCh)
	}
	return nil
}

func (f *fakeConn) SetReadDeadline(time.Time) error { return nil }

func (f *fakeConn) pushFrame(t *testing.T, frame any) {
	t.Helper()
	data, err := json.Marshal(frame)
	require.NoError(t, err)
	f.readCh <- data
}

func (f *fakeConn) nextWrite(t *testing.T) map[string]any {
	t.Helper()
	select {
	case data := <-f.writeCh:
		var v map[string]any
		require.NoError(t, json.Unmarshal(data, &v))
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for write")
		return nil
	}
}

func TestSession_EmitsStartEvent(t *testing.T) {
	conn := newFakeConn()
	sess := Accept(commons.NewNop(), conn, WithPaceInterval(time.Millisecond))
	defer sess.Close("test done")

	conn.pushFrame(t, inboundFrame{Event: "start", Start: &startPayload{
		StreamSid: "SS1", CallSid: "CA1", Direction: "inbound", From: "+15550001111", To: "+15550002222",
	}})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := sess.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, EventStart, ev.Kind)
	assert.Equal(t, "SS1", ev.StreamID)
	assert.Equal(t, "CA1", ev.CallID)
	assert.Equal(t, "SS1", sess.StreamID())
	assert.Equal(t, "CA1", sess.CallID())
}

func TestSession_DecodesMediaPayload(t *testing.T) {
	conn := newFakeConn()
	sess := Accept(commons.NewNop(), conn, WithPaceInterval(time.Millisecond))
	defer sess.Close("test done")

	raw := []byte{1, 2, 3, 4}
	conn.pushFrame(t, inboundFrame{Event: "media", Media: &mediaPayload{
		Payload: base64.StdEncoding.EncodeToString(raw),
	}})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := sess.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, EventMedia, ev.Kind)
	assert.Equal(t, raw, ev.MediaUlaw)
}

func TestSession_StopEventThenClosed(t *testing.T) {
	conn := newFakeConn()
	sess := Accept(commons.NewNop(), conn, WithPaceInterval(time.Millisecond))

	conn.pushFrame(t, inboundFrame{Event: "stop", Stop: &stopPayload{Reason: "caller_hangup"}})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := sess.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, EventStop, ev.Kind)
	assert.Equal(t, "caller_hangup", ev.StopReason)
}

func TestSession_SendMediaFramesAsOneUlawChunk(t *testing.T) {
	conn := newFakeConn()
	sess := Accept(commons.NewNop(), conn, WithPaceInterval(time.Millisecond))
	defer sess.Close("test done")

	frame := make([]byte, ulawFrameBytes)
	for i := range frame {
		frame[i] = byte(i)
	}
	sess.SendMedia(frame)

	msg := conn.nextWrite(t)
	assert.Equal(t, "media", msg["event"])
	media, ok := msg["media"].(map[string]any)
	require.True(t, ok)
	payload, ok := media["payload"].(string)
	require.True(t, ok)
	decoded, err := base64.StdEncoding.DecodeString(payload)
	require.NoError(t, err)
	assert.Equal(t, frame, decoded)
}

func TestSession_SendMarkOrdersBehindQueuedAudio(t *testing.T) {
	conn := newFakeConn()
	sess := Accept(commons.NewNop(), conn, WithPaceInterval(time.Millisecond))
	defer sess.Close("test done")

	sess.SendMedia(make([]byte, ulawFrameBytes))
	sess.SendMark("turn-1")

	first := conn.nextWrite(t)
	assert.Equal(t, "media", first["event"])

	second := conn.nextWrite(t)
	assert.Equal(t, "mark", second["event"])
	mark, ok := second["mark"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "turn-1", mark["name"])
}

func TestSession_SendClearEmitsClearFrame(t *testing.T) {
	conn := newFakeConn()
	sess := Accept(commons.NewNop(), conn, WithPaceInterval(time.Millisecond))
	defer sess.Close("test done")

	sess.SendMedia(make([]byte, ulawFrameBytes))
	sess.SendClear()

	var sawClear bool
	for i := 0; i < 5 && !sawClear; i++ {
		msg := conn.nextWrite(t)
		if msg["event"] == "clear" {
			sawClear = true
		}
	}
	assert.True(t, sawClear)
}

func TestSession_ReceiveReturnsErrorAfterClose(t *testing.T) {
	conn := newFakeConn()
	sess := Accept(commons.NewNop(), conn, WithPaceInterval(time.Millisecond))
	sess.Close("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := sess.Receive(ctx)
	assert.Error(t, err)
}
