// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rapidaai/voicegateway/internal/calldata"
	"github.com/rapidaai/voicegateway/internal/carriersession"
	"github.com/rapidaai/voicegateway/internal/modelsession"
	"github.com/rapidaai/voicegateway/internal/toolregistry"
)

// carrierToModel is the caller→agent flow (§4.5): C3.receive(Media) →
// C1.decode → C2.send_audio, plus marks, DTMF, and carrier teardown.
func (o *Orchestrator) carrierToModel(ctx context.Context) error {
	for {
		ev, err := o.carrier.Receive(ctx)
		if err != nil {
			return nil
		}
		switch ev.Kind {
		case carriersession.EventMedia:
			o.pingActivity()
			pcm, err := o.codecIn.DecodeUlawToPCM16k(ev.MediaUlaw)
			if err != nil {
				o.logger.Warnf("orchestrator: decode caller audio: %v", err)
				continue
			}
			if o.audioTrace != nil {
				o.audioTrace.RecordCaller(pcm)
			}
			o.model.SendAudio(pcm)
		case carriersession.EventMark:
			o.markDelivered(ev.MarkName)
		case carriersession.EventDTMF:
			o.recorder.AppendEvent(ctx, o.call.ID, "dtmf", map[string]string{"digit": ev.DTMFDigit})
		case carriersession.EventStop:
			if !o.producedAudio.Load() {
				o.setOutcome(reasonNoAudioHangup)
			}
			return nil
		case carriersession.EventClosed:
			o.setOutcome(reasonFatalError)
			return fmt.Errorf("orchestrator: carrier closed unexpectedly: %s", ev.StopReason)
		}
	}
}

// modelToCarrier is the agent→caller flow (§4.5): C2.receive(AudioOut) →
// C1.encode → C3.send_media, plus transcripts, tool calls, marks, and
// model-side teardown.
func (o *Orchestrator) modelToCarrier(ctx context.Context) error {
	for {
		ev, err := o.model.Receive(ctx)
		if err != nil {
			return nil
		}
		switch ev.Kind {
		case modelsession.EventAudioOut:
			o.producedAudio.Store(true)
			if o.audioTrace != nil {
				o.audioTrace.RecordAgent(ev.AudioOut)
			}
			ulaw, err := o.codecOut.EncodePCM24kToUlaw(ev.AudioOut)
			if err != nil {
				o.logger.Warnf("orchestrator: encode agent audio: %v", err)
				continue
			}
			o.carrier.SendMedia(ulaw)
		case modelsession.EventInputTranscription:
			o.recorder.AppendTranscript(ctx, calldata.TranscriptFragment{
				CallID: o.call.ID, Source: calldata.SourceCaller, Text: ev.Transcript, Timestamp: time.Now(),
			})
		case modelsession.EventOutputTranscription:
			o.recorder.AppendTranscript(ctx, calldata.TranscriptFragment{
				CallID: o.call.ID, Source: calldata.SourceAgent, Text: ev.Transcript, Timestamp: time.Now(),
			})
		case modelsession.EventInterrupted:
			// C2 already discarded any AudioOut it had queued ahead of
			// this event (Session.dropQueuedAudioOut), so nothing stale
			// is left to forward here; just tell the carrier to clear
			// whatever media it already has queued on its own side
			// (§4.5/§8, bounded to 50ms).
			o.carrier.SendClear()
		case modelsession.EventTurnComplete:
			o.sendTurnMark()
		case modelsession.EventToolCall:
			o.dispatchToolCall(ctx, ev.ToolCall)
		case modelsession.EventResumptionUpdate:
			o.mu.Lock()
			o.resumptionHandleCount++
			o.mu.Unlock()
		case modelsession.EventGoAway:
			o.logger.Infof("orchestrator: model signaled GoAway, %s remaining", ev.GoAwayTimeLeft)
		case modelsession.EventClosed:
			if ev.ClosedReason != "normal" {
				o.setOutcome(reasonFatalError)
				return fmt.Errorf("orchestrator: model closed: %s", ev.ClosedReason)
			}
			return nil
		case modelsession.EventError:
			o.setOutcome(reasonFatalError)
			return fmt.Errorf("orchestrator: model error (%s): %s", ev.ErrorKind, ev.ErrorDetail)
		}
	}
}

// controlLoop is the third cooperating flow (§5): operator emergency
// stop and the idle-timeout prompt/abandon sequence (§5's suspension
// points and §4.5's idle-timeout transition).
func (o *Orchestrator) controlLoop(ctx context.Context) error {
	timer := time.NewTimer(o.idleTimeout)
	defer timer.Stop()
	promptedOnce := false

	for {
		select {
		case <-ctx.Done():
			return nil
		case reason := <-o.emergencyStop:
			o.setOutcome(reasonEmergencyStop)
			return fmt.Errorf("orchestrator: emergency stop requested: %s", reason)
		case <-o.activityPing:
			promptedOnce = false
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(o.idleTimeout)
		case <-timer.C:
			if !promptedOnce {
				promptedOnce = true
				prompt := "Are you still there?"
				if o.normalizer != nil {
					prompt = o.normalizer.Normalize(prompt)
				}
				if err := o.model.SendText(prompt); err != nil {
					o.logger.Warnf("orchestrator: idle prompt: %v", err)
				}
				timer.Reset(o.idleTimeout)
				continue
			}
			o.setOutcome(reasonIdleAbandoned)
			return errAbandonedIdle
		}
	}
}

// dispatchToolCall resolves a handler from the registry (falling back to
// the stub on error or an unregistered name), records the call, and
// replies to the model — always within o.toolTimeout wall-clock (§4.5).
func (o *Orchestrator) dispatchToolCall(ctx context.Context, call modelsession.ToolCall) {
	toolCtx, cancel := context.WithTimeout(ctx, o.toolTimeout)
	defer cancel()

	req := toolregistry.ToolCallRequest{ID: call.ID, Name: call.Name, Args: call.Args}
	result, err := o.tools.HandlerOrStub(call.Name)(toolCtx, req)
	if err != nil {
		o.logger.Warnf("orchestrator: tool %s failed, falling back to stub: %v", call.Name, err)
		result, _ = toolregistry.Stub(toolCtx, req)
	}

	argsJSON, _ := json.Marshal(call.Args)
	respJSON, _ := json.Marshal(result)
	o.recorder.AppendToolCall(ctx, calldata.ToolCallRecord{
		CallID:     o.call.ID,
		Identifier: call.ID,
		Name:       call.Name,
		Arguments:  string(argsJSON),
		Response:   string(respJSON),
		Scheduling: calldata.SchedulingBlocking,
		EmittedAt:  time.Now(),
	})

	if err := o.model.SendToolResponse(modelsession.ToolResponse{ID: call.ID, Name: call.Name, Response: result}); err != nil {
		o.logger.Warnf("orchestrator: send tool response for %s: %v", call.Name, err)
	}
}

// sendTurnMark sends a uniquely named mark at TurnComplete and records
// when it was sent, so markDelivered can charge the turn's delivery
// duration once the carrier echoes it back (§4.5).
func (o *Orchestrator) sendTurnMark() {
	o.marksMu.Lock()
	o.markSeq++
	name := fmt.Sprintf("turn-%d", o.markSeq)
	o.pendingMarks[name] = time.Now()
	o.marksMu.Unlock()
	o.carrier.SendMark(name)
}

func (o *Orchestrator) markDelivered(name string) {
	o.marksMu.Lock()
	sentAt, ok := o.pendingMarks[name]
	if ok {
		delete(o.pendingMarks, name)
	}
	o.marksMu.Unlock()
	if !ok {
		return
	}
	elapsed := time.Since(sentAt)
	o.recorder.AppendEvent(context.Background(), o.call.ID, "turn_delivered", map[string]any{
		"mark": name, "delivery_ms": elapsed.Milliseconds(),
	})
}

func (o *Orchestrator) pingActivity() {
	select {
	case o.activityPing <- struct{}{}:
	default:
	}
}
