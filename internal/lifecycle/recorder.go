// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package lifecycle

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rapidaai/voicegateway/internal/calldata"
	"github.com/rapidaai/voicegateway/internal/commons"
)

const (
	defaultRetryBudget = 30 * time.Second
	retryBaseDelay     = 200 * time.Millisecond
	retryMaxDelay      = 5 * time.Second
)

// Recorder is C5's only persistence touchpoint: AppendEvent and Finalize
// (the two operations §4.6 names), plus AppendTranscript and
// AppendToolCall for the transcript and tool-call streams.
type Recorder struct {
	store       Store
	logger      commons.Logger
	retryBudget time.Duration

	mu          sync.Mutex
	nextSeq     map[string]uint64
	downgraded  map[string]bool
}

// NewRecorder builds a Recorder over store with the default 30s
// per-call retry budget.
func NewRecorder(store Store, logger commons.Logger) *Recorder {
	return &Recorder{
		store:       store,
		logger:      logger,
		retryBudget: defaultRetryBudget,
		nextSeq:     make(map[string]uint64),
		downgraded:  make(map[string]bool),
	}
}

// IsDowngraded reports whether callID has exceeded its retry budget and
// is now "record-only partial" (§4.6) — operational visibility only,
// never consulted to decide call outcome.
func (r *Recorder) IsDowngraded(callID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.downgraded[callID]
}

func (r *Recorder) nextSequence(callID string) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.nextSeq[callID]
	r.nextSeq[callID] = n + 1
	return n
}

// AppendEvent persists kind with payload marshaled to JSON, retrying with
// exponential backoff up to the per-call budget before downgrading.
func (r *Recorder) AppendEvent(ctx context.Context, callID, kind string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		r.logger.Warnf("lifecycle: failed to marshal event payload for call %s kind %s: %v", callID, kind, err)
		data = []byte("{}")
	}
	event := calldata.CallEvent{
		CallID:         callID,
		SequenceNumber: r.nextSequence(callID),
		Kind:           kind,
		Payload:        string(data),
		RecordedAt:     time.Now(),
	}
	r.writeWithRetry(ctx, callID, func(ctx context.Context) error {
		return r.store.AppendEvent(ctx, event)
	})
}

// AppendTranscript persists one transcript fragment, ordered by the
// caller (§5: "transcript fragments for a given call are persisted in
// the order they are received from the model").
func (r *Recorder) AppendTranscript(ctx context.Context, frag calldata.TranscriptFragment) {
	r.writeWithRetry(ctx, frag.CallID, func(ctx context.Context) error {
		return r.store.AppendTranscript(ctx, frag)
	})
}

// AppendToolCall persists one tool call record.
func (r *Recorder) AppendToolCall(ctx context.Context, rec calldata.ToolCallRecord) {
	r.writeWithRetry(ctx, rec.CallID, func(ctx context.Context) error {
		return r.store.AppendToolCall(ctx, rec)
	})
}

// Finalize writes the single consolidated terminal record §4.6 requires:
// start, end, duration, outcome, aggregated transcript, and
// resumption-handle-count.
func (r *Recorder) Finalize(ctx context.Context, call *calldata.Call) {
	r.writeWithRetry(ctx, call.ID, func(ctx context.Context) error {
		return r.store.UpsertCall(ctx, call)
	})
}

// writeWithRetry retries write with exponential backoff (200ms, capped at
// 5s) until it succeeds or the call's retry budget (default 30s) is
// exhausted, at which point the call is downgraded: a warning is logged
// but the call itself is never failed (§4.6).
func (r *Recorder) writeWithRetry(ctx context.Context, callID string, write func(context.Context) error) {
	deadline := time.Now().Add(r.retryBudget)
	delay := retryBaseDelay

	for attempt := 0; ; attempt++ {
		err := write(ctx)
		if err == nil {
			return
		}
		if time.Now().After(deadline) {
			r.mu.Lock()
			r.downgraded[callID] = true
			r.mu.Unlock()
			r.logger.Warnf("lifecycle: call %s downgraded to record-only partial after %v of persistence retries: %v", callID, r.retryBudget, err)
			return
		}

		r.logger.Warnf("lifecycle: persistence write failed for call %s (attempt %d), retrying in %s: %v", callID, attempt, delay, err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
		delay *= 2
		if delay > retryMaxDelay {
			delay = retryMaxDelay
		}
	}
}
