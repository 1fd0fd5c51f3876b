// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package modelsession implements C2: one model streaming session per call,
// owning a WebSocket to the multimodal model and exposing a typed duplex
// event interface to the call orchestrator (C5).
//
// Grounded on the `internal/agent/executor/llm/internal/websocket` reference
// executor (connection establishment / sendMessage / responseListener
// shape) generalized from a single-assistant-executor interface to a
// dedicated duplex session type, and on `google-adk-go`'s
// `base_flow_live.go` for the GoAway-then-reconnect and sender/receiver
// goroutine split, since that reference websocket executor has no
// resumption or session-handover handling at all.
package modelsession

import (
	"time"

	"github.com/rapidaai/voicegateway/internal/calldata"
)

// EventKind discriminates Event's active field, mirroring §4.2's event
// enumeration.
type EventKind int

const (
	EventAudioOut EventKind = iota
	EventInputTranscription
	EventOutputTranscription
	EventInterrupted
	EventTurnComplete
	EventGenerationComplete
	EventToolCall
	EventResumptionUpdate
	EventGoAway
	EventClosed
	EventError
)

// ErrorKind classifies Error events. Auth and InvalidConfig and
// IncompatibleModel are fatal per §4.2; Protocol is also fatal but implies
// a local bug rather than a caller-supplied misconfiguration.
type ErrorKind string

const (
	ErrorAuth              ErrorKind = "auth"
	ErrorInvalidConfig     ErrorKind = "invalid_config"
	ErrorIncompatibleModel ErrorKind = "incompatible_model"
	ErrorProtocol          ErrorKind = "protocol"
)

// ToolCall is the payload of an EventToolCall event.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolResponse is what SendToolResponse delivers back to the model.
type ToolResponse struct {
	ID         string
	Name       string
	Response   map[string]any
	Scheduling calldata.ToolScheduling
}

// Event is a tagged union; only the field matching Kind is meaningful.
type Event struct {
	Kind EventKind

	AudioOut             []byte
	Transcript           string
	ToolCall             ToolCall
	ResumptionHandle     string
	ResumptionResumable  bool
	GoAwayTimeLeft       time.Duration
	ClosedReason         string
	ErrorKind            ErrorKind
	ErrorDetail          string
}

// Config is the immutable per-session configuration sent as the first
// protocol message on open, per §4.2's connection-establishment algorithm.
type Config struct {
	ModelName           calldata.ModelName
	Voice               calldata.Voice
	LanguageCode        string
	SystemPrompt        string
	VAD                 calldata.VADTuning
	DisableAutoVAD      bool
	InputTranscription  bool
	OutputTranscription bool
	ExtendedSession     bool // requests sliding-window context compression
	GreetFirst          bool // always false per §4.2/§9; carried for completeness
	PreviousHandle      string
}

// ReconnectPolicy bounds C2's reconnect-with-backoff behavior (§4.2).
type ReconnectPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultReconnectPolicy matches §4.2's stated defaults: N=3 attempts,
// 250ms initial backoff capped at 4s.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{MaxAttempts: 3, BaseDelay: 250 * time.Millisecond, MaxDelay: 4 * time.Second}
}

// backoffDelay returns the exponential backoff delay for the given attempt
// (0-indexed), capped at policy.MaxDelay.
func (p ReconnectPolicy) backoffDelay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}
