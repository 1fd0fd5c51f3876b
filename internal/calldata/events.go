// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package calldata

import "time"

// TranscriptSource is who produced a transcript fragment.
type TranscriptSource string

const (
	SourceCaller TranscriptSource = "caller"
	SourceAgent  TranscriptSource = "agent"
)

// TranscriptFragment is ordered by Timestamp within a call; concatenation
// in that order is the call's aggregated transcript (§3).
type TranscriptFragment struct {
	ID        uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	CallID    string    `gorm:"column:call_id;type:varchar(36);not null;index"`
	Source    TranscriptSource `gorm:"column:source;type:varchar(10);not null"`
	Text      string    `gorm:"column:text;type:text"`
	Timestamp time.Time `gorm:"column:timestamp;type:timestamp"`
}

func (TranscriptFragment) TableName() string { return "transcript_fragments" }

// ToolScheduling controls when a tool call's effect is surfaced (§3).
type ToolScheduling string

const (
	SchedulingBlocking  ToolScheduling = "blocking"
	SchedulingInterrupt ToolScheduling = "interrupt"
	SchedulingWhenIdle  ToolScheduling = "when-idle"
	SchedulingSilent    ToolScheduling = "silent"
)

// ToolCallRecord is associated with a call and ordered by emission (§3).
type ToolCallRecord struct {
	ID         uint64         `gorm:"column:id;primaryKey;autoIncrement"`
	CallID     string         `gorm:"column:call_id;type:varchar(36);not null;index"`
	Identifier string         `gorm:"column:identifier;type:varchar(64);not null"`
	Name       string         `gorm:"column:name;type:varchar(128);not null"`
	Arguments  string         `gorm:"column:arguments;type:text"` // JSON-encoded
	Response   string         `gorm:"column:response;type:text"`  // JSON-encoded
	Scheduling ToolScheduling `gorm:"column:scheduling;type:varchar(20)"`
	EmittedAt  time.Time      `gorm:"column:emitted_at;type:timestamp"`
}

func (ToolCallRecord) TableName() string { return "tool_call_records" }

// CallEvent is the at-least-once, idempotency-keyed envelope C6 persists
// for every lifecycle occurrence (§4.6).
type CallEvent struct {
	ID             uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	CallID         string    `gorm:"column:call_id;type:varchar(36);not null;uniqueIndex:idx_call_event_idempotency"`
	SequenceNumber uint64    `gorm:"column:sequence_number;not null;uniqueIndex:idx_call_event_idempotency"`
	Kind           string    `gorm:"column:kind;type:varchar(32);not null"`
	Payload        string    `gorm:"column:payload;type:text"`
	RecordedAt     time.Time `gorm:"column:recorded_at;type:timestamp"`
}

func (CallEvent) TableName() string { return "call_events" }

// IdempotencyKey is (call_id, monotonic counter) per §4.6.
func (e CallEvent) IdempotencyKey() string {
	return e.CallID + ":" + itoa(e.SequenceNumber)
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
