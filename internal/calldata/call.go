// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package calldata holds the persisted parts of the §3 data model: Call,
// Agent Configuration, Transcript Fragment, Tool Call Record, and the
// CallEvent envelope. It has no Model Session Handle or Audio Frame type.
// Grounded on a callcontext.CallContext GORM entity reference.
package calldata

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Status is the call's place in the §4.5 state machine.
type Status string

const (
	StatusPending    Status = "pending"
	StatusRinging    Status = "ringing"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusAbandoned  Status = "abandoned"
)

// IsTerminal reports whether status is one of the three terminal states.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusAbandoned
}

// Direction is the call's direction relative to the gateway.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Call is the unit of work (§3). It is exclusively owned by its
// orchestrator instance until termination, then handed to the Lifecycle
// Recorder for final flush; it is never mutated by any other component.
type Call struct {
	ID                 string    `json:"id" gorm:"column:id;type:varchar(36);primaryKey"`
	CarrierStreamID    string    `json:"carrierStreamId" gorm:"column:carrier_stream_id;type:varchar(100)"`
	Direction          Direction `json:"direction" gorm:"column:direction;type:varchar(20);not null"`
	RemoteNumber       string    `json:"remoteNumber" gorm:"column:remote_number;type:varchar(50)"`
	LocalNumber        string    `json:"localNumber" gorm:"column:local_number;type:varchar(50)"`
	AgentID            string    `json:"agentId" gorm:"column:agent_id;type:varchar(64)"`
	StartedAt          time.Time `json:"startedAt" gorm:"column:started_at;type:timestamp"`
	EndedAt            *time.Time `json:"endedAt" gorm:"column:ended_at;type:timestamp"`
	Status             Status    `json:"status" gorm:"column:status;type:varchar(20);not null;default:pending"`
	DurationSeconds    int64     `json:"durationSeconds" gorm:"column:duration_seconds"`
	RecordingURL       string    `json:"recordingUrl" gorm:"column:recording_url;type:text"`
	AggregatedTranscript string  `json:"aggregatedTranscript" gorm:"column:aggregated_transcript;type:text"`
	OutcomeTag         string    `json:"outcomeTag" gorm:"column:outcome_tag;type:varchar(64)"`
	SentimentScore     float64   `json:"sentimentScore" gorm:"column:sentiment_score"`
	ResumptionHandleCount int    `json:"resumptionHandleCount" gorm:"column:resumption_handle_count"`
	CreatedAt          time.Time `json:"createdAt" gorm:"column:created_at;type:timestamp;<-:create"`
}

func (Call) TableName() string { return "calls" }

func (c *Call) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	if c.StartedAt.IsZero() {
		c.StartedAt = time.Now()
	}
	return nil
}

// Finish sets EndedAt/DurationSeconds/Status when a call reaches a terminal
// state. Duration equals max(0, end-start); it is undefined before this is
// called, matching the §3 invariant.
func (c *Call) Finish(status Status, outcome string) {
	now := time.Now()
	c.EndedAt = &now
	c.Status = status
	c.OutcomeTag = outcome
	d := now.Sub(c.StartedAt)
	if d < 0 {
		d = 0
	}
	c.DurationSeconds = int64(d.Round(time.Second).Seconds())
}
