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
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/rapidaai/voicegateway/internal/channelbase"
	"github.com/rapidaai/voicegateway/internal/commons"
)

const ackTimeout = 10 * time.Second

// wsConn is the slice of *websocket.Conn this package depends on; narrowed
// to an interface so tests can substitute an in-memory fake instead of a
// real socket, the way a websocketExecutor reference hard-codes
// *websocket.Conn but this session generalizes for testability.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	SetReadDeadline(t time.Time) error
}

// DialFunc opens a new transport connection. Overridable for tests. The
// *http.Response is non-nil on a failed handshake, mirroring
// websocket.Dialer.DialContext, so dial failures can be classified by
// status code.
type DialFunc func(ctx context.Context, rawURL string, header http.Header) (wsConn, *http.Response, error)

func defaultDial(ctx context.Context, rawURL string, header http.Header) (wsConn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 30 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, rawURL, header)
	if err != nil {
		return nil, resp, err
	}
	return conn, resp, nil
}

// SessionError is returned by Open when the very first connection attempt
// fails in a way §4.2 classifies as fatal.
type SessionError struct {
	Kind ErrorKind
	Err  error
}

func (e *SessionError) Error() string { return fmt.Sprintf("modelsession: %s: %v", e.Kind, e.Err) }
func (e *SessionError) Unwrap() error { return e.Err }

// Session is one model streaming session for one call (C2). It embeds
// channelbase.BaseStreamer to get the drop-oldest bounded input queue that
// §4.2/§8 mandate for inbound caller audio; BaseStreamer.InputCh is reused
// across reconnects so audio queued during a handover is not lost.
type Session struct {
	channelbase.BaseStreamer

	logger commons.Logger
	dial   DialFunc
	url    string
	apiKey string
	policy ReconnectPolicy
	handoverBudget time.Duration

	events chan Event

	writeMu sync.Mutex
	connMu  sync.Mutex
	conn    wsConn

	cfgMu sync.Mutex
	cfg   Config

	resumptionMu     sync.Mutex
	resumptionHandle string
	resumable        bool

	droppedAudioFrames atomic.Uint64

	interruptedAudioDrops atomic.Uint64
}

// Option configures a Session at construction, beyond the required Open
// parameters. The only current use is substituting the transport dialer in
// tests.
type Option func(*Session)

// WithDialFunc overrides the transport dialer. Tests use this to supply an
// in-memory wsConn instead of a real socket.
func WithDialFunc(d DialFunc) Option { return func(s *Session) { s.dial = d } }

// Open dials the model, sends the configuration as the first message, and
// blocks until the server acknowledges it (or a fatal classification is
// reached), per §4.2's connection-establishment algorithm. On success a
// background goroutine owns the connection's lifetime, including
// reconnection and session handover.
func Open(
	logger commons.Logger,
	modelURL string,
	apiKey string,
	cfg Config,
	policy ReconnectPolicy,
	handoverBudget time.Duration,
	opts ...Option,
) (*Session, error) {
	s := &Session{
		BaseStreamer: channelbase.NewBaseStreamer(logger, channelbase.WithInputAudioConfig(&channelbase.AudioFormatConfig{
			SampleRate: 16000,
			Encoding:   channelbase.EncodingLinear16,
			Channels:   1,
		})),
		logger:         logger,
		dial:           defaultDial,
		url:            modelURL,
		apiKey:         apiKey,
		cfg:            cfg,
		policy:         policy,
		handoverBudget: handoverBudget,
		events:         make(chan Event, 256),
	}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.PreviousHandle != "" {
		s.resumptionHandle = cfg.PreviousHandle
		s.resumable = true
	}

	conn, err := s.connectAndAck(s.Ctx)
	if err != nil {
		s.Cancel()
		return nil, err
	}

	go s.run(conn)
	return s, nil
}

// connectAndAck performs one dial attempt, sends setup, and waits for
// setupComplete or a fatal server error. The returned error, when non-nil,
// is always a *SessionError.
func (s *Session) connectAndAck(ctx context.Context) (wsConn, error) {
	header := http.Header{}
	dialURL, err := s.signedURL()
	if err != nil {
		return nil, &SessionError{Kind: ErrorInvalidConfig, Err: err}
	}

	dialCtx, cancel := context.WithTimeout(ctx, ackTimeout)
	defer cancel()

	conn, resp, err := s.dial(dialCtx, dialURL, header)
	if err != nil {
		return nil, &SessionError{Kind: classifyDialError(resp), Err: err}
	}

	s.resumptionMu.Lock()
	handle := s.resumptionHandle
	s.resumptionMu.Unlock()

	if err := s.sendSetup(conn, handle); err != nil {
		conn.Close()
		return nil, &SessionError{Kind: ErrorProtocol, Err: err}
	}

	if err := conn.SetReadDeadline(time.Now().Add(ackTimeout)); err != nil {
		conn.Close()
		return nil, &SessionError{Kind: ErrorProtocol, Err: err}
	}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return nil, &SessionError{Kind: ErrorProtocol, Err: err}
		}
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Error != nil {
			conn.Close()
			return nil, &SessionError{Kind: classifyServerError(msg.Error.Code), Err: fmt.Errorf("%s", msg.Error.Message)}
		}
		if msg.SetupComplete != nil {
			conn.SetReadDeadline(time.Time{})
			return conn, nil
		}
		// Anything else arriving before setupComplete is unexpected but
		// not fatal on its own; keep waiting until the deadline.
	}
}

func (s *Session) signedURL() (string, error) {
	u, err := url.Parse(s.url)
	if err != nil {
		return "", err
	}
	q := u.Query()
	if s.apiKey != "" {
		q.Set("key", s.apiKey)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *Session) sendSetup(conn wsConn, handle string) error {
	s.cfgMu.Lock()
	cfg := s.cfg
	s.cfgMu.Unlock()
	setup := clientSetup{Setup: buildLiveConnectConfig(cfg, handle)}
	return writeJSON(conn, &s.writeMu, &setup)
}

func buildLiveConnectConfig(cfg Config, handle string) *liveConnectConfig {
	out := &liveConnectConfig{
		Model:            string(cfg.ModelName),
		ResponseModality: "AUDIO",
		Voice:            string(cfg.Voice),
		LanguageCode:     cfg.LanguageCode,
		SystemInstruction: cfg.SystemPrompt,
	}
	if cfg.DisableAutoVAD {
		out.RealtimeInputConfig = &realtimeInputConfig{
			AutomaticActivityDetection: &automaticActivityDetection{Disabled: true},
		}
	} else {
		out.RealtimeInputConfig = &realtimeInputConfig{
			AutomaticActivityDetection: &automaticActivityDetection{
				StartSensitivity:  string(cfg.VAD.StartSensitivity),
				EndSensitivity:    string(cfg.VAD.EndSensitivity),
				SilenceDurationMs: cfg.VAD.SilenceMs,
				PrefixPaddingMs:   cfg.VAD.PrefixPaddingMs,
			},
		}
	}
	if cfg.InputTranscription {
		out.InputAudioTranscription = &transcriptionConfig{}
	}
	if cfg.OutputTranscription {
		out.OutputAudioTranscription = &transcriptionConfig{}
	}
	if handle != "" {
		out.SessionResumption = &genai.SessionResumptionConfig{Handle: handle}
	}
	if cfg.ExtendedSession {
		out.ContextWindowCompression = &contextCompression{SlidingWindow: true}
	}
	return out
}

// classifyDialError maps a failed handshake's HTTP status to a fatal
// ErrorKind. A nil response (network-level failure, DNS, timeout) is
// treated as transient-looking but still fatal for Open's first attempt,
// since Open does not itself retry (§4.2: reconnection only applies after
// a session has been established).
func classifyDialError(resp *http.Response) ErrorKind {
	if resp == nil {
		return ErrorProtocol
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrorAuth
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return ErrorInvalidConfig
	case http.StatusNotFound:
		return ErrorIncompatibleModel
	default:
		return ErrorProtocol
	}
}

func classifyServerError(code string) ErrorKind {
	switch code {
	case "invalid_config":
		return ErrorInvalidConfig
	case "incompatible_model":
		return ErrorIncompatibleModel
	case "auth", "unauthenticated", "permission_denied":
		return ErrorAuth
	default:
		return ErrorProtocol
	}
}

func writeJSON(conn wsConn, mu *sync.Mutex, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	mu.Lock()
	defer mu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// --- public duplex API --------------------------------------------------

// SendAudio enqueues inbound caller audio. Non-blocking; backpressure is a
// drop-oldest bounded queue with a counter (§4.2/§8).
func (s *Session) SendAudio(pcm16k []byte) {
	if len(s.InputCh) == cap(s.InputCh) {
		s.droppedAudioFrames.Add(1)
	}
	s.PushInput(channelbase.Message{Audio: pcm16k})
}

// DroppedAudioFrames returns the count of inbound frames dropped so far by
// the bounded-queue overflow policy.
func (s *Session) DroppedAudioFrames() uint64 { return s.droppedAudioFrames.Load() }

// SendText injects a synthetic user turn. Used only for testing and for
// tool responses (§4.2).
func (s *Session) SendText(text string) error {
	return s.writeCurrent(&clientRealtimeInput{RealtimeInput: &realtimeInput{Text: text}})
}

// SendToolResponse completes a tool call initiated by the model.
func (s *Session) SendToolResponse(tr ToolResponse) error {
	return s.writeCurrent(&clientToolResponse{
		ToolResponse: &toolResponsePayload{
			FunctionResponses: []*genai.FunctionResponse{{ID: tr.ID, Name: tr.Name, Response: tr.Response}},
		},
	})
}

// SignalActivityStart marks the start of a caller utterance. Used only
// when the agent configuration disables automatic VAD.
func (s *Session) SignalActivityStart() error {
	return s.writeCurrent(&clientActivitySignal{ActivityStart: &struct{}{}})
}

// SignalActivityEnd marks the end of a caller utterance.
func (s *Session) SignalActivityEnd() error {
	return s.writeCurrent(&clientActivitySignal{ActivityEnd: &struct{}{}})
}

// SignalAudioStreamEnd announces intentional silence.
func (s *Session) SignalAudioStreamEnd() error {
	return s.writeCurrent(&clientActivitySignal{AudioStreamEnd: true})
}

func (s *Session) writeCurrent(v any) error {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return fmt.Errorf("modelsession: no active connection")
	}
	return writeJSON(conn, &s.writeMu, v)
}

// Receive returns the next event, or an error once the session's events
// channel is closed (after a fatal error or a graceful Close).
func (s *Session) Receive(ctx context.Context) (Event, error) {
	select {
	case ev, ok := <-s.events:
		if !ok {
			return Event{}, fmt.Errorf("modelsession: session closed")
		}
		return ev, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Close gracefully shuts the session down: cancels the background loop,
// which closes the current connection and drains goroutines.
func (s *Session) Close() error {
	s.PushDisconnection()
	s.Cancel()
	return nil
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.Ctx.Done():
	}
}

// dropQueuedAudioOut discards any EventAudioOut already sitting in
// s.events, called by receiveLoop the instant a barge-in (ServerContent.
// Interrupted) is observed and before the Interrupted event itself is
// emitted. Without this, audio the model generated before the caller's
// barge-in but not yet drained by Receive would still reach the carrier
// after the Interrupted event, undoing the clear. Non-audio events
// (transcripts, tool calls, turn-complete) are preserved in their
// original order since they still belong in the stream; only the
// receiveLoop goroutine ever calls emit, so this is safe to run
// without additional locking.
func (s *Session) dropQueuedAudioOut() {
	pending := make([]Event, 0, len(s.events))
	for {
		select {
		case ev := <-s.events:
			pending = append(pending, ev)
		default:
			for _, ev := range pending {
				if ev.Kind == EventAudioOut {
					s.interruptedAudioDrops.Add(1)
					continue
				}
				s.events <- ev
			}
			return
		}
	}
}

// InterruptedAudioDrops returns the count of buffered AudioOut events
// discarded so far by barge-in interruptions.
func (s *Session) InterruptedAudioDrops() uint64 { return s.interruptedAudioDrops.Load() }

func (s *Session) setConn(conn wsConn) {
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
}
