// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package carriersession speaks the carrier's media-stream WebSocket
// sub-protocol (§4.3): a name-agnostic shape modeled on Twilio Media
// Streams, the only concrete carrier wire format in the retrieval pack
// (other_examples fanonxr-Lexiq-AI stream_manager.go). Media payload is
// base64-encoded μ-law, 8kHz mono, 20ms per frame (§6).
package carriersession

// inboundFrame is the envelope for every frame the carrier sends; exactly
// one event-specific field is populated per Event, matching a reference
// TwilioMessage union shape.
type inboundFrame struct {
	Event      string        `json:"event"`
	StreamSid  string        `json:"streamSid,omitempty"`
	Start      *startPayload `json:"start,omitempty"`
	Media      *mediaPayload `json:"media,omitempty"`
	Mark       *markPayload  `json:"mark,omitempty"`
	DTMF       *dtmfPayload  `json:"dtmf,omitempty"`
	Stop       *stopPayload  `json:"stop,omitempty"`
}

type startPayload struct {
	StreamSid       string            `json:"streamSid"`
	CallSid         string            `json:"callSid"`
	Direction       string            `json:"direction,omitempty"`
	From            string            `json:"from,omitempty"`
	To              string            `json:"to,omitempty"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

type mediaPayload struct {
	Track     string `json:"track,omitempty"`
	Payload   string `json:"payload"` // base64 μ-law, 20ms @ 8kHz
	Timestamp string `json:"timestamp,omitempty"`
}

type markPayload struct {
	Name string `json:"name"`
}

type dtmfPayload struct {
	Digit string `json:"digit"`
}

type stopPayload struct {
	CallSid string `json:"callSid,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// outboundMediaFrame is what C3 writes for each 20ms chunk of outbound
// audio.
type outboundMediaFrame struct {
	Event     string              `json:"event"`
	StreamSid string              `json:"streamSid"`
	Media     outboundMediaInner  `json:"media"`
}

type outboundMediaInner struct {
	Payload string `json:"payload"`
}

// outboundMarkFrame requests a named marker the carrier echoes back once
// any audio queued ahead of it has finished playing.
type outboundMarkFrame struct {
	Event     string           `json:"event"`
	StreamSid string           `json:"streamSid"`
	Mark      outboundMarkInner `json:"mark"`
}

type outboundMarkInner struct {
	Name string `json:"name"`
}

// outboundClearFrame discards any outbound audio the carrier has queued
// but not yet played — the barge-in primitive (§4.5).
type outboundClearFrame struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
}
