// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package listener implements C7: it accepts inbound carrier WebSocket
// upgrades at a single configurable path, handing each accepted connection
// to exactly one orchestrator (§4.7). It also carries the §6 operational
// control surface (healthz, emergency-stop, toggle-agent, and an optional
// outbound-dial endpoint for campaign calls) as a small `gin`-routed HTTP
// server, grounded on the WebRTC WS-upgrade handler in
// `api/assistant-api/api/talk/webrtc.go` for the upgrade shape and on
// `router/healthcheck.go`'s function-per-route-group style for wiring
// routes onto a shared engine.
package listener

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rapidaai/voicegateway/internal/audiotrace"
	"github.com/rapidaai/voicegateway/internal/carriersession"
	"github.com/rapidaai/voicegateway/internal/commons"
	"github.com/rapidaai/voicegateway/internal/lifecycle"
	"github.com/rapidaai/voicegateway/internal/normalizer"
	"github.com/rapidaai/voicegateway/internal/orchestrator"
	"github.com/rapidaai/voicegateway/internal/routing"
	"github.com/rapidaai/voicegateway/internal/toolregistry"
)

var carrierUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Config holds everything the listener needs to accept connections and
// construct orchestrators, a thin slice of config.GatewayConfig so this
// package doesn't depend on the config package's viper plumbing directly.
type Config struct {
	CarrierPath   string
	DefaultTenant string
	ModelWSURL    string
	ModelAPIKey   string

	EnableAudioTrace bool

	// Outbound dial, all optional: with none of the Twilio, Vonage or SIP
	// settings present the /control/dial endpoint is not registered at all.
	// Vonage is the alternate carrier, used only when Twilio isn't
	// configured (the teacher's own assistant-api runs both side by side,
	// but one process here serves one trunk at a time).
	TwilioAccountSID      string
	TwilioAuthToken       string
	TwilioCallbackBaseURL string
	TwilioDialoutNumber   string

	VonageApplicationID  string
	VonagePrivateKey     []byte
	VonageCallbackBaseURL string
	VonageDialoutNumber  string

	// SIP is the third, lowest-precedence carrier path: a raw trunk
	// fronted directly rather than through a managed REST API. Used only
	// when neither Twilio nor Vonage credentials are set.
	SIPTrunkAddr  string
	SIPLocalHost  string
	SIPLocalPort  int
	SIPFromUser   string
}

// outboundDialer is the shape Dialer (Twilio), VonageDialer, and SIPDialer
// all satisfy, letting handleDial stay carrier-agnostic.
type outboundDialer interface {
	Dial(fromNumber, toNumber string) (string, error)
}

// runningCall is what the listener's registry tracks for one in-flight
// orchestrator, enough to address it from the control surface.
type runningCall struct {
	orch   *orchestrator.Orchestrator
	cancel context.CancelFunc
}

// Listener is C7. One instance serves the whole process; it never owns
// call state itself beyond the registry needed for operational control.
type Listener struct {
	cfg      Config
	logger   commons.Logger
	resolver *routing.Resolver
	recorder *lifecycle.Recorder
	tools    *toolregistry.Registry
	table    *routing.InMemoryTable

	dialer       outboundDialer
	dialoutFrom  string

	engine *gin.Engine

	mu    sync.Mutex
	calls map[string]*runningCall
}

// New wires an engine with the carrier WS endpoint and the §6 control
// surface, but does not start listening; call Run. The outbound-dial
// endpoint is registered only when cfg carries Twilio, Vonage, or raw
// SIP trunk credentials, preferring Twilio, then Vonage, then SIP when
// more than one is set.
func New(
	cfg Config,
	logger commons.Logger,
	resolver *routing.Resolver,
	recorder *lifecycle.Recorder,
	tools *toolregistry.Registry,
	table *routing.InMemoryTable,
) *Listener {
	l := &Listener{
		cfg:      cfg,
		logger:   logger,
		resolver: resolver,
		recorder: recorder,
		tools:    tools,
		table:    table,
		calls:    make(map[string]*runningCall),
	}
	switch {
	case cfg.TwilioAccountSID != "":
		l.dialer = NewDialer(
			DialerCredentials{AccountSID: cfg.TwilioAccountSID, AuthToken: cfg.TwilioAuthToken},
			cfg.TwilioCallbackBaseURL, cfg.CarrierPath,
		)
		l.dialoutFrom = cfg.TwilioDialoutNumber
	case cfg.VonageApplicationID != "":
		dialer, err := NewVonageDialer(
			VonageCredentials{ApplicationID: cfg.VonageApplicationID, PrivateKey: cfg.VonagePrivateKey},
			cfg.VonageCallbackBaseURL, cfg.CarrierPath,
		)
		if err != nil {
			logger.Warnf("listener: vonage dialer disabled: %v", err)
		} else {
			l.dialer = dialer
			l.dialoutFrom = cfg.VonageDialoutNumber
		}
	case cfg.SIPTrunkAddr != "":
		dialer, err := NewSIPDialer(cfg.SIPLocalHost, cfg.SIPLocalPort, cfg.SIPTrunkAddr)
		if err != nil {
			logger.Warnf("listener: sip dialer disabled: %v", err)
		} else {
			l.dialer = dialer
			l.dialoutFrom = cfg.SIPFromUser
		}
	}
	l.engine = l.buildEngine()
	return l
}

// Engine exposes the underlying gin.Engine, mainly so cmd/gateway can wrap
// it in an *http.Server with its own shutdown handling.
func (l *Listener) Engine() *gin.Engine { return l.engine }

func (l *Listener) buildEngine() *gin.Engine {
	e := gin.New()
	e.Use(gin.Recovery())
	e.Use(cors.Default())

	e.GET("/healthz", l.handleHealthz)
	e.GET(l.cfg.CarrierPath, l.handleCarrierUpgrade)

	control := e.Group("/control")
	control.POST("/emergency-stop", l.handleEmergencyStop)
	control.POST("/agent/:id/toggle", l.handleToggleAgent)
	if l.dialer != nil {
		control.POST("/dial", l.handleDial)
	}

	return e
}

func (l *Listener) handleHealthz(c *gin.Context) {
	l.mu.Lock()
	active := len(l.calls)
	l.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"status": "ok", "active_calls": active})
}

// handleCarrierUpgrade is the single entry point for inbound carrier
// connections: upgrade, accept, register, orchestrate, deregister.
func (l *Listener) handleCarrierUpgrade(c *gin.Context) {
	conn, err := carrierUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l.logger.Warnf("listener: websocket upgrade failed: %v", err)
		return
	}

	session := carriersession.Accept(l.logger, conn)
	opts := []orchestrator.Option{}
	if l.cfg.EnableAudioTrace {
		opts = append(opts, orchestrator.WithAudioTrace(audiotrace.New(l.logger, 16000, 24000)))
	}
	opts = append(opts, orchestrator.WithNormalizer(normalizer.Default(l.logger)))

	orch := orchestrator.New(
		l.logger,
		l.tenantFor(c),
		l.resolver,
		l.recorder,
		l.tools,
		l.cfg.ModelWSURL, l.cfg.ModelAPIKey,
		session,
		opts...,
	)

	connID := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	l.register(connID, orch, cancel)
	defer l.deregister(connID)
	defer cancel()

	if err := orch.Run(ctx); err != nil {
		l.logger.Warnf("listener: call %s ended with error: %v", connID, err)
	}
}

// tenantFor resolves which tenant a carrier connection belongs to: the
// upgrade request's tenant_id query parameter when present, otherwise
// Config.DefaultTenant.
func (l *Listener) tenantFor(c *gin.Context) string {
	if t := c.Query("tenant_id"); t != "" {
		return t
	}
	return l.cfg.DefaultTenant
}

func (l *Listener) register(id string, orch *orchestrator.Orchestrator, cancel context.CancelFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls[id] = &runningCall{orch: orch, cancel: cancel}
}

func (l *Listener) deregister(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.calls, id)
}

// emergencyStopRequest mirrors §6's emergency_stop(scope=tenant|agent|call).
type emergencyStopRequest struct {
	Scope   string `json:"scope" binding:"required,oneof=tenant agent call"`
	TenantID string `json:"tenant_id"`
	AgentID string `json:"agent_id"`
	CallID  string `json:"call_id"`
	Reason  string `json:"reason"`
}

func (l *Listener) handleEmergencyStop(c *gin.Context) {
	var req emergencyStopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	reason := req.Reason
	if reason == "" {
		reason = "operator_request"
	}

	stopped := 0
	l.mu.Lock()
	for _, rc := range l.calls {
		switch req.Scope {
		case "call":
			if rc.orch.CallID() != req.CallID {
				continue
			}
		case "agent":
			if rc.orch.AgentID() != req.AgentID {
				continue
			}
		case "tenant":
			if rc.orch.TenantID() != req.TenantID {
				continue
			}
		}
		rc.orch.EmergencyStop(reason)
		stopped++
	}
	l.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"stopped": stopped})
}

type toggleAgentRequest struct {
	Active bool `json:"active"`
}

func (l *Listener) handleToggleAgent(c *gin.Context) {
	agentID := c.Param("id")
	var req toggleAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	l.table.SetAgentActive(agentID, req.Active)
	c.JSON(http.StatusOK, gin.H{"agent_id": agentID, "active": req.Active})
}

type dialRequest struct {
	To string `json:"to" binding:"required"`
}

// handleDial places one outbound call (§4.7's campaign path). The carrier
// answers and opens a media-stream connection back at CarrierPath, which
// handleCarrierUpgrade then treats identically to an inbound call.
func (l *Listener) handleDial(c *gin.Context) {
	var req dialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sid, err := l.dialer.Dial(l.dialoutFrom, req.To)
	if err != nil {
		l.logger.Warnf("listener: outbound dial to %s failed: %v", req.To, err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"call_sid": sid})
}
