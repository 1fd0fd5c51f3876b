// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package modelsession

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"google.golang.org/genai"
)

// decision records what a connection attempt's sender/receiver pair
// concluded, following the pattern in google-adk-go's base_flow_live
// (a results channel draining two goroutines) but collapsed into a single
// once-guarded struct since only one outcome per connection matters.
type decision struct {
	mu        sync.Mutex
	done      bool
	fatal     bool
	reconnect bool
	immediate bool // true for goAway handover, false for backoff reconnect
}

func (d *decision) setFatal() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.done {
		d.done, d.fatal = true, true
	}
}

func (d *decision) setReconnect(immediate bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.done {
		d.done, d.reconnect, d.immediate = true, true, immediate
	}
}

func (d *decision) setGraceful() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.done = true
}

// run owns one connection's lifetime and decides what happens after it
// ends: clean shutdown, reconnection (transient close, with backoff), or
// immediate handover reconnection (GoAway). firstConn is the connection
// Open already established and acknowledged.
func (s *Session) run(firstConn wsConn) {
	conn := firstConn
	attempt := 0

	for {
		s.setConn(conn)
		connCtx, connCancel := context.WithCancel(s.Ctx)
		d := &decision{}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); defer connCancel(); s.senderLoop(connCtx, conn, d) }()
		go func() { defer wg.Done(); defer connCancel(); s.receiveLoop(connCtx, conn, d) }()
		wg.Wait()

		connCancel()
		conn.Close()
		s.setConn(nil)

		if s.Ctx.Err() != nil {
			s.emit(Event{Kind: EventClosed, ClosedReason: "closed"})
			close(s.events)
			return
		}

		d.mu.Lock()
		fatal, reconnect, immediate := d.fatal, d.reconnect, d.immediate
		d.mu.Unlock()

		if fatal {
			s.emit(Event{Kind: EventClosed, ClosedReason: "fatal"})
			close(s.events)
			return
		}
		if !reconnect {
			s.emit(Event{Kind: EventClosed, ClosedReason: "normal"})
			close(s.events)
			return
		}

		handoverStart := time.Now()
		var next wsConn
		var err error
		if immediate {
			next, err = s.connectAndAck(s.Ctx)
		} else {
			next, err = s.reconnectWithBackoff(attempt)
			attempt++
		}
		if err != nil {
			s.emit(Event{Kind: EventError, ErrorKind: sessionErrorKind(err), ErrorDetail: err.Error()})
			s.emit(Event{Kind: EventClosed, ClosedReason: "reconnect_failed"})
			close(s.events)
			return
		}
		if immediate {
			blackout := time.Since(handoverStart)
			if blackout > s.handoverBudget {
				s.logger.Warnf("modelsession: session handover blackout %s exceeded budget %s", blackout, s.handoverBudget)
			}
		} else {
			attempt = 0
		}
		conn = next
	}
}

func (s *Session) reconnectWithBackoff(attempt int) (wsConn, error) {
	if attempt >= s.policy.MaxAttempts {
		return nil, fmt.Errorf("modelsession: exhausted %d reconnect attempts", s.policy.MaxAttempts)
	}
	select {
	case <-time.After(s.policy.backoffDelay(attempt)):
	case <-s.Ctx.Done():
		return nil, s.Ctx.Err()
	}
	return s.connectAndAck(s.Ctx)
}

func sessionErrorKind(err error) ErrorKind {
	if se, ok := err.(*SessionError); ok {
		return se.Kind
	}
	return ErrorProtocol
}

// senderLoop forwards queued caller audio to the model. It holds off
// writing any audio until ack (already true by the time run() is called,
// since Open/connectAndAck only return after ack), matching §4.2:
// "waits for the server's acknowledgement before forwarding any realtime
// audio."
func (s *Session) senderLoop(ctx context.Context, conn wsConn, d *decision) {
	for {
		msg, err := s.recvInput(ctx)
		if err != nil {
			return
		}
		if msg.Disconnect {
			d.setGraceful()
			return
		}
		req := clientRealtimeInput{RealtimeInput: &realtimeInput{
			Audio: &genai.Blob{MIMEType: "audio/pcm;rate=16000", Data: msg.Audio},
		}}
		if err := writeJSON(conn, &s.writeMu, &req); err != nil {
			d.setReconnect(false)
			return
		}
	}
}

// recvInput blocks on BaseStreamer.Recv bounded by ctx, so the sender loop
// exits promptly when its connection is torn down without disturbing the
// still-shared InputCh.
func (s *Session) recvInput(ctx context.Context) (channelbaseMessage, error) {
	type result struct {
		msg channelbaseMessage
		err error
	}
	out := make(chan result, 1)
	go func() {
		msg, err := s.Recv()
		if msg == nil {
			out <- result{err: err}
			return
		}
		out <- result{msg: channelbaseMessage{Audio: msg.Audio, Disconnect: msg.Disconnect}, err: err}
	}()
	select {
	case r := <-out:
		return r.msg, r.err
	case <-ctx.Done():
		return channelbaseMessage{}, ctx.Err()
	}
}

// channelbaseMessage is a local value-type mirror of channelbase.Message
// so recvInput does not need to import the pointer type across the
// goroutine boundary.
type channelbaseMessage struct {
	Audio      []byte
	Disconnect bool
}

// receiveLoop reads and dispatches server messages for one connection,
// implementing the GoAway-then-reconnect pattern from google-adk-go's
// base_flow_live.go: a TurnComplete after a resumable GoAway ends this
// connection at once and reconnects immediately. A timer set for slightly
// before expiry only marks the connection's eventual end as a handover;
// the connection stays open until the server drops it, and run then
// reconnects immediately rather than with backoff.
func (s *Session) receiveLoop(ctx context.Context, conn wsConn, d *decision) {
	var pendingGoAway bool
	var goAwayTimer *time.Timer
	defer func() {
		if goAwayTimer != nil {
			goAwayTimer.Stop()
		}
	}()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			d.setReconnect(false)
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warnf("modelsession: failed to unmarshal server message: %v", err)
			continue
		}

		if msg.Error != nil {
			s.emit(Event{Kind: EventError, ErrorKind: classifyServerError(msg.Error.Code), ErrorDetail: msg.Error.Message})
			d.setFatal()
			return
		}

		if msg.SessionResumptionUpdate != nil {
			s.resumptionMu.Lock()
			s.resumptionHandle = msg.SessionResumptionUpdate.NewHandle
			s.resumable = msg.SessionResumptionUpdate.Resumable
			s.resumptionMu.Unlock()
			s.emit(Event{
				Kind:                EventResumptionUpdate,
				ResumptionHandle:    msg.SessionResumptionUpdate.NewHandle,
				ResumptionResumable: msg.SessionResumptionUpdate.Resumable,
			})
		}

		if msg.GoAway != nil {
			timeLeft := time.Duration(msg.GoAway.TimeLeftMs) * time.Millisecond
			s.emit(Event{Kind: EventGoAway, GoAwayTimeLeft: timeLeft})

			s.resumptionMu.Lock()
			resumable := s.resumable
			s.resumptionMu.Unlock()

			if resumable {
				pendingGoAway = true
				reconnectDelay := timeLeft - time.Second
				if reconnectDelay < 0 {
					reconnectDelay = 0
				}
				if goAwayTimer != nil {
					goAwayTimer.Stop()
				}
				goAwayTimer = time.AfterFunc(reconnectDelay, func() {
					d.setReconnect(true)
				})
			}
		}

		if msg.ToolCall != nil {
			for _, fc := range msg.ToolCall.FunctionCalls {
				s.emit(Event{Kind: EventToolCall, ToolCall: ToolCall{ID: fc.ID, Name: fc.Name, Args: fc.Args}})
			}
		}

		if msg.ServerContent != nil {
			sc := msg.ServerContent
			if sc.Interrupted {
				s.dropQueuedAudioOut()
				s.emit(Event{Kind: EventInterrupted})
			}
			if sc.ModelTurn != nil {
				for _, part := range sc.ModelTurn.Parts {
					if part.InlineData != nil {
						s.emit(Event{Kind: EventAudioOut, AudioOut: part.InlineData.Data})
					}
				}
			}
			if sc.InputTranscription != nil {
				s.emit(Event{Kind: EventInputTranscription, Transcript: sc.InputTranscription.Text})
			}
			if sc.OutputTranscription != nil {
				s.emit(Event{Kind: EventOutputTranscription, Transcript: sc.OutputTranscription.Text})
			}
			if sc.GenerationComplete {
				s.emit(Event{Kind: EventGenerationComplete})
			}
			if sc.TurnComplete {
				s.emit(Event{Kind: EventTurnComplete})
				if pendingGoAway {
					if goAwayTimer != nil {
						goAwayTimer.Stop()
					}
					d.setReconnect(true)
					return
				}
			}
		}
	}
}
