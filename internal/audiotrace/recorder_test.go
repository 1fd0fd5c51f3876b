// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package audiotrace

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/voicegateway/internal/commons"
)

func TestRecorderPersistsBothTracks(t *testing.T) {
	r := New(commons.NewNop(), 16000, 24000)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.clock = func() time.Time { return now }
	r.Start()

	r.RecordCaller(make([]byte, 320)) // 10ms @16kHz s16
	now = now.Add(10 * time.Millisecond)
	r.RecordAgent(make([]byte, 480)) // 10ms @24kHz s16
	now = now.Add(10 * time.Millisecond)

	callerWAV, agentWAV, err := r.Persist()
	require.NoError(t, err)
	assert.Greater(t, len(callerWAV), 44) // header + some data
	assert.Greater(t, len(agentWAV), 44)
	assert.Equal(t, "RIFF", string(callerWAV[0:4]))
	assert.Equal(t, "WAVE", string(callerWAV[8:12]))
}

func TestRecorderErrorsOnEmptyTrace(t *testing.T) {
	r := New(commons.NewNop(), 16000, 24000)
	_, _, err := r.Persist()
	assert.Error(t, err)
}

func TestRecorderIgnoresEmptyChunks(t *testing.T) {
	r := New(commons.NewNop(), 16000, 24000)
	r.Start()
	r.RecordCaller(nil)
	r.RecordAgent([]byte{})
	_, _, err := r.Persist()
	assert.Error(t, err)
}
