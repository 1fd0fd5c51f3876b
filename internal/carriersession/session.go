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
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rapidaai/voicegateway/internal/channelbase"
	"github.com/rapidaai/voicegateway/internal/commons"
)

// errSessionClosed is returned by Receive once the session has been
// closed and no further events will ever arrive.
var errSessionClosed = errors.New("carriersession: session closed")

// wsConn narrows *websocket.Conn to what this package exercises, the same
// seam modelsession uses, so tests can substitute an in-memory connection.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, data []byte, err error)
	Close() error
	SetReadDeadline(t time.Time) error
}

const (
	// ulawFrameBytes is one 20ms frame of 8kHz mono μ-law: 8000 samples/s ×
	// 0.020s × 1 byte/sample.
	ulawFrameBytes = 160
	defaultPace    = 20 * time.Millisecond
)

// Option configures a Session at construction.
type Option func(*Session)

// WithPaceInterval overrides the real-time output pacing interval, default
// 20ms (§4.3). Tests use this to avoid waiting on wall-clock time.
func WithPaceInterval(d time.Duration) Option {
	return func(s *Session) { s.paceInterval = d }
}

// Session speaks one carrier media-stream connection's sub-protocol
// (§4.3), embedding channelbase.BaseStreamer for its output side: outbound
// μ-law is accumulated and cut into 20ms chunks (as many complete chunks
// as each BufferAndSendOutput call has bytes for), then drained by a local
// real-time pacing loop.
// Inbound frames are parsed and surfaced on events, since they are a
// richer union (Connected/Start/Media/Mark/DTMF/Stop) than the plain audio
// BaseStreamer.InputCh models — the carrier-session analog of
// modelsession's own events channel.
type Session struct {
	channelbase.BaseStreamer

	conn   wsConn
	logger commons.Logger

	writeMu sync.Mutex

	streamID string
	callID   string

	paceInterval time.Duration

	events chan Event

	closeOnce sync.Once
}

// Accept wraps an already-upgraded carrier WebSocket connection and starts
// its read and paced-write loops. The caller (C7) owns the HTTP upgrade;
// this package owns everything from the first frame onward.
func Accept(logger commons.Logger, conn wsConn, opts ...Option) *Session {
	s := &Session{
		BaseStreamer: channelbase.NewBaseStreamer(logger, channelbase.WithOutputAudioConfig(&channelbase.AudioFormatConfig{
			SampleRate: 8000,
			Encoding:   channelbase.EncodingMuLaw8,
			Channels:   1,
		})),
		conn:         conn,
		logger:       logger,
		paceInterval: defaultPace,
		events:       make(chan Event, 64),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.readLoop()
	go s.pacedWriter()
	return s
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.Ctx.Done():
	}
}

// Receive returns the next ordered carrier event, io.EOF-equivalent
// closure signaled by a closed channel once Close has run.
func (s *Session) Receive(ctx context.Context) (Event, error) {
	select {
	case ev, ok := <-s.events:
		if !ok {
			return Event{}, errSessionClosed
		}
		return ev, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case <-s.Ctx.Done():
		select {
		case ev, ok := <-s.events:
			if ok {
				return ev, nil
			}
		default:
		}
		return Event{}, errSessionClosed
	}
}

// SendMedia frames ulaw into 20ms chunks and enqueues them for paced
// transmission (§4.3: "frame and transmit outbound media. Must interleave
// 20 ms payload chunks.").
func (s *Session) SendMedia(ulaw []byte) {
	s.BufferAndSendOutput(ulaw)
}

// SendMark enqueues a named marker behind whatever audio is already
// queued, so it reaches the carrier — and echoes back — only after that
// audio has played (§4.3, §4.5's turn-delivery precondition).
func (s *Session) SendMark(name string) {
	s.PushOutput(channelbase.Message{Mark: name})
}

// SendClear discards queued outbound audio for barge-in (§4.3, §4.5's
// Interrupted handling); the paced writer turns the resulting
// FlushAudioCh signal into an outbound clear frame.
func (s *Session) SendClear() {
	s.ClearOutputBuffer()
}

// Close idempotently tears the session down, mirroring a reference
// streamer's mutex-guarded closed-flag pattern with a sync.Once instead.
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		s.Cancel()
		s.conn.Close()
		close(s.events)
		s.logger.Infof("carriersession: closed (%s)", reason)
	})
}

// readLoop parses inbound carrier frames and surfaces them as ordered
// Events; frames are processed strictly in arrival order, never reordered
// (§4.3).
func (s *Session) readLoop() {
	defer s.Close("carrier_disconnected")

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if s.Ctx.Err() != nil {
				return
			}
			s.logger.Warnf("carriersession: read error: %v", err)
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.logger.Warnf("carriersession: failed to unmarshal inbound frame: %v", err)
			continue
		}

		switch frame.Event {
		case "connected":
			s.emit(Event{Kind: EventConnected})

		case "start":
			if frame.Start != nil {
				s.streamID = frame.Start.StreamSid
				s.callID = frame.Start.CallSid
				s.emit(Event{
					Kind:      EventStart,
					StreamID:  frame.Start.StreamSid,
					CallID:    frame.Start.CallSid,
					Direction: frame.Start.Direction,
					From:      frame.Start.From,
					To:        frame.Start.To,
				})
			}

		case "media":
			if frame.Media != nil {
				raw, err := base64.StdEncoding.DecodeString(frame.Media.Payload)
				if err != nil {
					s.logger.Warnf("carriersession: failed to decode media payload: %v", err)
					continue
				}
				s.emit(Event{Kind: EventMedia, MediaUlaw: raw})
			}

		case "mark":
			if frame.Mark != nil {
				s.emit(Event{Kind: EventMark, MarkName: frame.Mark.Name})
			}

		case "dtmf":
			if frame.DTMF != nil {
				s.emit(Event{Kind: EventDTMF, DTMFDigit: frame.DTMF.Digit})
			}

		case "stop":
			reason := ""
			if frame.Stop != nil {
				reason = frame.Stop.Reason
			}
			s.emit(Event{Kind: EventStop, StopReason: reason})
			return

		default:
			s.logger.Warnf("carriersession: unknown event %q", frame.Event)
		}
	}
}

// pacedWriter drains the output queue at real-time rate: one 20ms frame
// per 20ms of wall time, mirroring a reference webrtc streamer's
// runOutputWriter ticker loop. A FlushAudioCh signal (from SendClear)
// takes priority and emits a clear frame instead of waiting for the next
// tick.
func (s *Session) pacedWriter() {
	ticker := time.NewTicker(s.paceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.Ctx.Done():
			return

		case <-s.FlushAudioCh:
			s.writeClearFrame()

		case <-ticker.C:
			select {
			case msg, ok := <-s.OutputCh:
				if !ok {
					return
				}
				if msg.Mark != "" {
					s.writeMarkFrame(msg.Mark)
					continue
				}
				s.writeMediaFrame(msg.Audio)
			default:
			}
		}
	}
}

func (s *Session) writeMediaFrame(ulaw []byte) {
	frame := outboundMediaFrame{
		Event:     "media",
		StreamSid: s.streamID,
		Media:     outboundMediaInner{Payload: base64.StdEncoding.EncodeToString(ulaw)},
	}
	s.writeJSON(&frame)
}

func (s *Session) writeMarkFrame(name string) {
	frame := outboundMarkFrame{
		Event:     "mark",
		StreamSid: s.streamID,
		Mark:      outboundMarkInner{Name: name},
	}
	s.writeJSON(&frame)
}

func (s *Session) writeClearFrame() {
	frame := outboundClearFrame{Event: "clear", StreamSid: s.streamID}
	s.writeJSON(&frame)
}

func (s *Session) writeJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Errorf("carriersession: failed to marshal outbound frame: %v", err)
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Warnf("carriersession: write error: %v", err)
	}
}

// StreamID returns the carrier stream identifier captured from Start.
func (s *Session) StreamID() string { return s.streamID }

// CallID returns the carrier call identifier captured from Start.
func (s *Session) CallID() string { return s.callID }

// OutputQueueLen reports how many messages are currently queued on
// OutputCh, used by the orchestrator (C5) to bound how long it waits for
// the outbound audio queue to drain before tearing down a call.
func (s *Session) OutputQueueLen() int { return len(s.OutputCh) }
