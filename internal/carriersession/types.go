// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package carriersession

// EventKind distinguishes the carrier protocol events named in §4.3.
type EventKind int

const (
	EventConnected EventKind = iota
	EventStart
	EventMedia
	EventMark
	EventDTMF
	EventStop
	EventClosed
)

// Event is the tagged union receive() produces; only the fields relevant
// to Kind are populated.
type Event struct {
	Kind EventKind

	StreamID  string
	CallID    string
	Direction string
	From      string
	To        string

	MediaUlaw []byte // raw μ-law bytes, already base64-decoded

	MarkName string
	DTMFDigit string

	StopReason string
}
