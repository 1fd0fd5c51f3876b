// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package orchestrator implements C5: the per-call state machine that
// wires the carrier session (C3), the model session (C2), the audio
// codec (C1), the routing resolver (C4), and the lifecycle recorder
// (C6) together for the lifetime of one call.
//
// Grounded on a BaseTelephonyStreamer embedding/options pattern
// pattern (internal/channel/telephony/internal/base/base.go) for
// construction, and on golang.org/x/sync/errgroup for the three
// cooperating flows §5 names (carrier→model, model→carrier, control) —
// the original wires its flows with bare goroutines and a WaitGroup;
// errgroup is adopted here because a fatal error in any one flow must
// cancel the other two, which is exactly errgroup's contract.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rapidaai/voicegateway/internal/audiotrace"
	"github.com/rapidaai/voicegateway/internal/calldata"
	"github.com/rapidaai/voicegateway/internal/carriersession"
	"github.com/rapidaai/voicegateway/internal/codec"
	"github.com/rapidaai/voicegateway/internal/commons"
	"github.com/rapidaai/voicegateway/internal/lifecycle"
	"github.com/rapidaai/voicegateway/internal/modelsession"
	"github.com/rapidaai/voicegateway/internal/normalizer"
	"github.com/rapidaai/voicegateway/internal/routing"
	"github.com/rapidaai/voicegateway/internal/toolregistry"
)

const (
	defaultSetupTimeout = 8 * time.Second
	defaultIdleTimeout  = 30 * time.Second
	defaultToolTimeout  = 5 * time.Second
	outboundDrainBudget = 2 * time.Second
)

// Outcome reasons recorded on Call.OutcomeTag when a call ends. "normal"
// is used when neither flow nor the control loop set a more specific one.
const (
	reasonEmergencyStop = "emergency_stop"
	reasonIdleAbandoned = "abandoned_idle"
	reasonNoAudioHangup = "abandoned_no_audio"
	reasonFatalError    = "fatal_error"
	reasonNormal        = "normal"
)

// Option configures an Orchestrator at construction.
type Option func(*Orchestrator)

func WithSetupTimeout(d time.Duration) Option { return func(o *Orchestrator) { o.setupTimeout = d } }
func WithIdleTimeout(d time.Duration) Option  { return func(o *Orchestrator) { o.idleTimeout = d } }
func WithToolTimeout(d time.Duration) Option  { return func(o *Orchestrator) { o.toolTimeout = d } }
func WithReconnectPolicy(p modelsession.ReconnectPolicy) Option {
	return func(o *Orchestrator) { o.reconnectPolicy = p }
}
func WithHandoverBudget(d time.Duration) Option {
	return func(o *Orchestrator) { o.handoverBudget = d }
}

// WithNormalizer installs the spoken-text normalization chain (§1C)
// applied to every synthetic turn the orchestrator injects via
// Session.SendText (today: the idle-timeout prompt). Omitted, synthetic
// text is sent verbatim.
func WithNormalizer(c *normalizer.Chain) Option {
	return func(o *Orchestrator) { o.normalizer = c }
}

// WithAudioTrace installs an optional debug audio trace sink (§1C) on
// both audio directions. Gated entirely by whether the caller passes one
// in; nil (the default) disables tracing with zero overhead.
func WithAudioTrace(rec *audiotrace.Recorder) Option {
	return func(o *Orchestrator) { o.audioTrace = rec }
}

// modelConn is the narrow slice of *modelsession.Session the orchestrator
// depends on — a testable transport seam, mirroring the wsConn seam each
// session package already defines one layer down.
type modelConn interface {
	Receive(ctx context.Context) (modelsession.Event, error)
	SendAudio(pcm16k []byte)
	SendText(text string) error
	SendToolResponse(tr modelsession.ToolResponse) error
	Close() error
}

// carrierConn is the narrow slice of *carriersession.Session the
// orchestrator depends on.
type carrierConn interface {
	Receive(ctx context.Context) (carriersession.Event, error)
	SendMedia(ulaw []byte)
	SendMark(name string)
	SendClear()
	Close(reason string)
	OutputQueueLen() int
}

// Orchestrator owns exactly one call's lifetime (§4.5). One accepted
// carrier connection maps to one Orchestrator (§4.7).
type Orchestrator struct {
	logger   commons.Logger
	tenantID string
	resolver *routing.Resolver
	recorder *lifecycle.Recorder
	tools    *toolregistry.Registry

	modelURL        string
	modelAPIKey     string
	reconnectPolicy modelsession.ReconnectPolicy
	handoverBudget  time.Duration

	setupTimeout time.Duration
	idleTimeout  time.Duration
	toolTimeout  time.Duration

	carrier carrierConn
	model   modelConn

	codecIn  *codec.Codec // caller → model (decode ulaw 8k → pcm 16k)
	codecOut *codec.Codec // model → caller (encode pcm 24k → ulaw 8k)

	normalizer *normalizer.Chain     // optional, §1C synthetic-text normalization
	audioTrace *audiotrace.Recorder // optional, §1C debug audio trace

	call  *calldata.Call
	agent calldata.AgentConfiguration

	mu                    sync.Mutex
	status                calldata.Status
	outcomeReason         string
	resumptionHandleCount int

	producedAudio atomic.Bool

	activityPing  chan struct{}
	emergencyStop chan string

	marksMu      sync.Mutex
	pendingMarks map[string]time.Time
	markSeq      uint64
}

// New builds an Orchestrator for one already-accepted carrier session.
// The model session is not dialed until Run learns the call's resolved
// agent configuration from C4.
func New(
	logger commons.Logger,
	tenantID string,
	resolver *routing.Resolver,
	recorder *lifecycle.Recorder,
	tools *toolregistry.Registry,
	modelURL, modelAPIKey string,
	carrier *carriersession.Session,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		logger:          logger,
		tenantID:        tenantID,
		resolver:        resolver,
		recorder:        recorder,
		tools:           tools,
		modelURL:        modelURL,
		modelAPIKey:     modelAPIKey,
		reconnectPolicy: modelsession.DefaultReconnectPolicy(),
		handoverBudget:  defaultSetupTimeout,
		setupTimeout:    defaultSetupTimeout,
		idleTimeout:     defaultIdleTimeout,
		toolTimeout:     defaultToolTimeout,
		carrier:         carrier,
		codecIn:         codec.New(),
		codecOut:        codec.New(),
		status:          calldata.StatusPending,
		activityPing:    make(chan struct{}, 1),
		emergencyStop:   make(chan string, 1),
		pendingMarks:    make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Status returns the call's current state-machine status.
func (o *Orchestrator) Status() calldata.Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// CallID returns the carrier-assigned call identifier, or "" before the
// carrier's Start frame has been processed. Used by C7's operational
// control surface to address a specific in-flight call.
func (o *Orchestrator) CallID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.call == nil {
		return ""
	}
	return o.call.ID
}

// AgentID returns the resolved agent identifier, or "" before C4 has run.
func (o *Orchestrator) AgentID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.agent.AgentID
}

// TenantID returns the tenant this call was accepted for.
func (o *Orchestrator) TenantID() string { return o.tenantID }

// EmergencyStop requests the operator "emergency stop" transition (§4.5):
// the call moves to Failed(reason=emergency_stop) and both sessions
// close. Non-blocking; a stop already in flight is not queued twice.
func (o *Orchestrator) EmergencyStop(reason string) {
	select {
	case o.emergencyStop <- reason:
	default:
	}
}

// Run drives the call end to end: Pending → Ringing → InProgress →
// terminal. It returns only after the call has reached a terminal state
// and the lifecycle recorder has been given the final record; Run never
// returns an error the caller needs to act on beyond logging, since every
// failure path already finalizes the call itself.
func (o *Orchestrator) Run(ctx context.Context) error {
	setupCtx, cancelSetup := context.WithTimeout(ctx, o.setupTimeout)
	defer cancelSetup()

	if err := o.awaitConnected(setupCtx); err != nil {
		return o.failSetup("carrier_handshake_failed", err)
	}
	o.setStatus(calldata.StatusRinging)

	startEv, err := o.awaitStart(setupCtx)
	if err != nil {
		return o.failSetup("carrier_handshake_failed", err)
	}

	o.call = newCallFromStart(startEv)

	decision := o.resolver.Resolve(o.tenantID, o.call.Direction, startEv.To, startEv.From, time.Now())
	if reason, ok := rejectReason(decision); !ok {
		return o.failSetup(reason, nil)
	}

	o.agent = *decision.Agent
	o.call.AgentID = o.agent.AgentID
	if err := o.agent.Validate(); err != nil {
		return o.failSetup("invalid_config", err)
	}

	model, err := o.openModel(setupCtx)
	if err != nil {
		return o.failSetup("setup_timeout", err)
	}
	o.model = model

	o.setStatus(calldata.StatusInProgress)
	o.call.Status = calldata.StatusInProgress
	o.recorder.AppendEvent(ctx, o.call.ID, "in_progress", map[string]string{"agent_id": o.agent.AgentID})
	if o.audioTrace != nil {
		o.audioTrace.Start()
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	g, gctx := errgroup.WithContext(runCtx)
	// A carrier Stop or a normal model close ends its flow without an
	// error; cancelRun then ends the other two flows as well.
	g.Go(func() error {
		err := o.carrierToModel(gctx)
		cancelRun()
		return err
	})
	g.Go(func() error {
		err := o.modelToCarrier(gctx)
		cancelRun()
		return err
	})
	g.Go(func() error { return o.controlLoop(gctx) })

	runErr := g.Wait()
	o.finish(runErr)
	return nil
}

func (o *Orchestrator) awaitConnected(ctx context.Context) error {
	ev, err := o.carrier.Receive(ctx)
	if err != nil {
		return err
	}
	if ev.Kind != carriersession.EventConnected {
		return fmt.Errorf("orchestrator: expected connected event, got kind %d", ev.Kind)
	}
	return nil
}

func (o *Orchestrator) awaitStart(ctx context.Context) (carriersession.Event, error) {
	ev, err := o.carrier.Receive(ctx)
	if err != nil {
		return carriersession.Event{}, err
	}
	if ev.Kind != carriersession.EventStart {
		return carriersession.Event{}, fmt.Errorf("orchestrator: expected start event, got kind %d", ev.Kind)
	}
	return ev, nil
}

func newCallFromStart(ev carriersession.Event) *calldata.Call {
	direction := calldata.DirectionInbound
	if ev.Direction == "outbound" {
		direction = calldata.DirectionOutbound
	}
	return &calldata.Call{
		ID:              ev.CallID,
		CarrierStreamID: ev.StreamID,
		Direction:       direction,
		RemoteNumber:    ev.From,
		LocalNumber:     ev.To,
		StartedAt:       time.Now(),
		Status:          calldata.StatusRinging,
	}
}

// rejectReason translates a non-agent Decision into a Call.OutcomeTag
// reason. Forward routing type has no PSTN-to-PSTN leg in this
// architecture (§1 non-goals name only the carrier-WS↔model-WS bridge as
// in scope), so it fails the call rather than silently dropping it.
func rejectReason(d routing.Decision) (reason string, ok bool) {
	switch d.Kind {
	case routing.DecisionAgent:
		return "", true
	case routing.DecisionRejected:
		return string(d.RejectReason), false
	case routing.DecisionOverloaded:
		return "agent_overloaded", false
	case routing.DecisionForward:
		return "forward_not_implemented", false
	default:
		return "routing_error", false
	}
}

// openModel dials and configures the model session, bounding the wait to
// ctx's deadline even though modelsession.Open itself has no context
// parameter; a late-arriving session after timeout is closed instead of
// leaked.
func (o *Orchestrator) openModel(ctx context.Context) (modelConn, error) {
	cfg := modelsession.Config{
		ModelName:           o.agent.ModelName,
		Voice:               o.agent.Voice,
		LanguageCode:        o.agent.LanguageCode,
		SystemPrompt:        o.agent.SystemPrompt,
		VAD:                 o.agent.VAD,
		DisableAutoVAD:      o.agent.DisableAutoVAD,
		InputTranscription:  true,
		OutputTranscription: true,
		ExtendedSession:     o.agent.ExtendedSession,
		GreetFirst:          o.agent.GreetFirst,
	}

	type dialResult struct {
		sess *modelsession.Session
		err  error
	}
	resCh := make(chan dialResult, 1)
	go func() {
		sess, err := modelsession.Open(o.logger, o.modelURL, o.modelAPIKey, cfg, o.reconnectPolicy, o.handoverBudget)
		resCh <- dialResult{sess, err}
	}()

	select {
	case r := <-resCh:
		return r.sess, r.err
	case <-ctx.Done():
		go func() {
			if r := <-resCh; r.sess != nil {
				r.sess.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// failSetup finalizes a call that never reached InProgress.
func (o *Orchestrator) failSetup(reason string, cause error) error {
	o.setStatus(calldata.StatusFailed)
	if o.call != nil {
		o.call.Finish(calldata.StatusFailed, reason)
		o.recorder.Finalize(context.Background(), o.call)
	}
	o.carrier.Close(reason)
	if cause != nil {
		o.logger.Warnf("orchestrator: call setup failed (%s): %v", reason, cause)
		return fmt.Errorf("orchestrator: setup failed: %s: %w", reason, cause)
	}
	o.logger.Warnf("orchestrator: call setup failed: %s", reason)
	return fmt.Errorf("orchestrator: setup failed: %s", reason)
}

// finish closes both sessions and writes the consolidated terminal record
// (§4.6), translating whichever outcome reason a flow set (or "normal" if
// none did) into the corresponding terminal Status.
func (o *Orchestrator) finish(runErr error) {
	reason := o.outcomeReasonLocked()
	status := calldata.StatusCompleted
	switch reason {
	case reasonEmergencyStop, reasonFatalError:
		status = calldata.StatusFailed
	case reasonIdleAbandoned, reasonNoAudioHangup:
		status = calldata.StatusAbandoned
	case "":
		reason = reasonNormal
	}
	if runErr != nil && reason == reasonNormal {
		o.logger.Warnf("orchestrator: call %s ended with unclassified error: %v", o.call.ID, runErr)
	}

	o.waitOutboundDrain()
	if o.model != nil {
		if err := o.model.Close(); err != nil {
			o.logger.Warnf("orchestrator: close model session: %v", err)
		}
	}
	o.carrier.Close(reason)

	o.mu.Lock()
	resumptions := o.resumptionHandleCount
	o.mu.Unlock()

	o.call.ResumptionHandleCount = resumptions
	o.call.Finish(status, reason)
	o.recorder.Finalize(context.Background(), o.call)
	o.setStatus(status)
}

// waitOutboundDrain bounds the "outbound audio queue has drained" clause
// of the InProgress→Completed transition (§4.5) to outboundDrainBudget,
// so a stalled carrier write loop can never hang call teardown.
func (o *Orchestrator) waitOutboundDrain() {
	deadline := time.Now().Add(outboundDrainBudget)
	for o.carrier.OutputQueueLen() > 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
}

func (o *Orchestrator) setStatus(s calldata.Status) {
	o.mu.Lock()
	o.status = s
	o.mu.Unlock()
}

func (o *Orchestrator) setOutcome(reason string) {
	o.mu.Lock()
	if o.outcomeReason == "" {
		o.outcomeReason = reason
	}
	o.mu.Unlock()
}

func (o *Orchestrator) outcomeReasonLocked() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.outcomeReason
}

var errAbandonedIdle = errors.New("orchestrator: abandoned after repeated idle timeout")
