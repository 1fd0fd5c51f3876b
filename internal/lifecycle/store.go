// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package lifecycle is the §4.6 Lifecycle Recorder: it translates
// in-memory call events into durable records at the persistence
// boundary through append_event and finalize plus transcript and
// tool-call appends. Grounded on the
// callcontext.Store reference (atomic claim/update against Postgres via
// GORM), generalized from a single-row claim workflow to append-only
// event/transcript/tool-call streams plus upsert-by-id call records
// (§6's persistence-boundary contract).
package lifecycle

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/rapidaai/voicegateway/internal/calldata"
)

// Store is the persistence boundary §6 names: upsert-by-id for call
// records, append-with-idempotency-key for event/transcript/tool-call
// streams. The schema itself is treated as opaque by every caller.
type Store interface {
	UpsertCall(ctx context.Context, call *calldata.Call) error
	AppendEvent(ctx context.Context, event calldata.CallEvent) error
	AppendTranscript(ctx context.Context, frag calldata.TranscriptFragment) error
	AppendToolCall(ctx context.Context, rec calldata.ToolCallRecord) error
}

type gormStore struct {
	db *gorm.DB
}

// NewGormStore returns a Store backed by db (Postgres in production,
// SQLite in tests per §6).
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// UpsertCall inserts call, or updates every column when a row with the
// same id already exists — the single upsert-by-id primitive §6 requires.
func (s *gormStore) UpsertCall(ctx context.Context, call *calldata.Call) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(call).Error
	if err != nil {
		return fmt.Errorf("lifecycle: upsert call %s: %w", call.ID, err)
	}
	return nil
}

// AppendEvent inserts event, silently no-op'ing on a duplicate
// (call_id, sequence_number) idempotency key (§4.6: "writes are
// at-least-once; each event carries an idempotency key").
func (s *gormStore) AppendEvent(ctx context.Context, event calldata.CallEvent) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&event).Error
	if err != nil {
		return fmt.Errorf("lifecycle: append event %s: %w", event.IdempotencyKey(), err)
	}
	return nil
}

// AppendTranscript inserts frag. Transcript fragments have no natural
// idempotency key of their own beyond arrival order, so a retried write
// after a successful-but-unacknowledged commit may duplicate a fragment;
// §4.6 accepts at-least-once delivery here, same as events.
func (s *gormStore) AppendTranscript(ctx context.Context, frag calldata.TranscriptFragment) error {
	if err := s.db.WithContext(ctx).Create(&frag).Error; err != nil {
		return fmt.Errorf("lifecycle: append transcript for call %s: %w", frag.CallID, err)
	}
	return nil
}

// AppendToolCall inserts rec.
func (s *gormStore) AppendToolCall(ctx context.Context, rec calldata.ToolCallRecord) error {
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("lifecycle: append tool call for call %s: %w", rec.CallID, err)
	}
	return nil
}
