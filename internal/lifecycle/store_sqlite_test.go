// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/rapidaai/voicegateway/internal/calldata"
)

// newSQLiteStore exercises the real upsert/append SQL this package emits
// against an actual embedded database, complementing newMockStore's
// assertion-on-query-shape coverage with a roundtrip that a mock can't
// catch (e.g. a gorm clause the sqlite dialect rejects outright).
func newSQLiteStore(t *testing.T) Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&calldata.Call{},
		&calldata.CallEvent{},
		&calldata.TranscriptFragment{},
		&calldata.ToolCallRecord{},
	))
	return NewGormStore(db)
}

func TestGormStore_SQLite_UpsertCallInsertsThenUpdates(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	call := &calldata.Call{ID: "call-1", Status: calldata.StatusInProgress, RemoteNumber: "+15550001111"}
	require.NoError(t, store.UpsertCall(ctx, call))

	call.Status = calldata.StatusCompleted
	call.DurationSeconds = 42
	require.NoError(t, store.UpsertCall(ctx, call))

	db := store.(*gormStore).db
	var got calldata.Call
	require.NoError(t, db.WithContext(ctx).First(&got, "id = ?", "call-1").Error)
	require.Equal(t, calldata.StatusCompleted, got.Status)
	require.EqualValues(t, 42, got.DurationSeconds)
}

func TestGormStore_SQLite_AppendEventIsIdempotentOnDuplicateKey(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	event := calldata.CallEvent{CallID: "call-1", SequenceNumber: 1, Kind: "turn_complete", RecordedAt: time.Now()}
	require.NoError(t, store.AppendEvent(ctx, event))
	require.NoError(t, store.AppendEvent(ctx, event))

	db := store.(*gormStore).db
	var count int64
	require.NoError(t, db.WithContext(ctx).Model(&calldata.CallEvent{}).
		Where("call_id = ? AND sequence_number = ?", "call-1", 1).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestGormStore_SQLite_AppendTranscriptAndToolCallPersist(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	frag := calldata.TranscriptFragment{CallID: "call-1", Source: calldata.SourceAgent, Text: "hello there", Timestamp: time.Now()}
	require.NoError(t, store.AppendTranscript(ctx, frag))

	rec := calldata.ToolCallRecord{CallID: "call-1", Identifier: "tc-1", Name: "lookup_order", Arguments: `{"id":"123"}`}
	require.NoError(t, store.AppendToolCall(ctx, rec))

	db := store.(*gormStore).db
	var fragCount, toolCount int64
	require.NoError(t, db.WithContext(ctx).Model(&calldata.TranscriptFragment{}).Where("call_id = ?", "call-1").Count(&fragCount).Error)
	require.NoError(t, db.WithContext(ctx).Model(&calldata.ToolCallRecord{}).Where("call_id = ?", "call-1").Count(&toolCount).Error)
	require.EqualValues(t, 1, fragCount)
	require.EqualValues(t, 1, toolCount)
}
