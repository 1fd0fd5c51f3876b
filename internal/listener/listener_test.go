// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package listener

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/voicegateway/internal/calldata"
	"github.com/rapidaai/voicegateway/internal/commons"
	"github.com/rapidaai/voicegateway/internal/lifecycle"
	"github.com/rapidaai/voicegateway/internal/orchestrator"
	"github.com/rapidaai/voicegateway/internal/routing"
	"github.com/rapidaai/voicegateway/internal/toolregistry"
)

func init() { gin.SetMode(gin.TestMode) }

type noopStore struct{}

func (noopStore) UpsertCall(ctx context.Context, call *calldata.Call) error { return nil }
func (noopStore) AppendEvent(ctx context.Context, event calldata.CallEvent) error { return nil }
func (noopStore) AppendTranscript(ctx context.Context, frag calldata.TranscriptFragment) error {
	return nil
}
func (noopStore) AppendToolCall(ctx context.Context, rec calldata.ToolCallRecord) error { return nil }

func newTestListener(t *testing.T) (*Listener, *routing.InMemoryTable) {
	t.Helper()
	table := routing.NewInMemoryTable()
	resolver := routing.New(table, commons.NewNop())
	recorder := lifecycle.NewRecorder(noopStore{}, commons.NewNop())
	tools := toolregistry.New()

	l := New(Config{CarrierPath: "/media", DefaultTenant: "tenant-default"}, commons.NewNop(), resolver, recorder, tools, table)
	return l, table
}

// orchestratorFor builds an Orchestrator that has not been Run, so its
// CallID/AgentID stay at their zero values but its TenantID is whatever
// was passed to New, enough to exercise the emergency-stop scope-matching
// logic without driving a full call through setup.
func orchestratorFor(t *testing.T, tenantID string) *orchestrator.Orchestrator {
	t.Helper()
	resolver := routing.New(routing.NewInMemoryTable(), commons.NewNop())
	recorder := lifecycle.NewRecorder(noopStore{}, commons.NewNop())
	tools := toolregistry.New()
	return orchestrator.New(commons.NewNop(), tenantID, resolver, recorder, tools, "", "", nil)
}

func TestHandleHealthz_ReportsActiveCallCount(t *testing.T) {
	l, _ := newTestListener(t)
	l.register("call-1", orchestratorFor(t, "tenant-a"), func() {})
	l.register("call-2", orchestratorFor(t, "tenant-b"), func() {})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	l.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(2), body["active_calls"])
}

func TestHandleToggleAgent_UpdatesRoutingTable(t *testing.T) {
	l, table := newTestListener(t)
	assert.True(t, table.IsAgentActive("agent-1"))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/control/agent/agent-1/toggle", strings.NewReader(`{"active": false}`))
	req.Header.Set("Content-Type", "application/json")
	l.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, table.IsAgentActive("agent-1"))
}

func TestHandleEmergencyStop_ScopedToMatchingTenantOnly(t *testing.T) {
	l, _ := newTestListener(t)
	l.register("call-a", orchestratorFor(t, "tenant-a"), func() {})
	l.register("call-b", orchestratorFor(t, "tenant-b"), func() {})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/control/emergency-stop",
		strings.NewReader(`{"scope":"tenant","tenant_id":"tenant-a"}`))
	req.Header.Set("Content-Type", "application/json")
	l.engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body["stopped"])
}

func TestHandleEmergencyStop_RejectsUnknownScope(t *testing.T) {
	l, _ := newTestListener(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/control/emergency-stop",
		strings.NewReader(`{"scope":"planet"}`))
	req.Header.Set("Content-Type", "application/json")
	l.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNew_OmitsDialEndpointWithoutTwilioCredentials(t *testing.T) {
	l, _ := newTestListener(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/control/dial", strings.NewReader(`{"to":"+15550001111"}`))
	req.Header.Set("Content-Type", "application/json")
	l.engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNew_RegistersDialEndpointWithTwilioCredentials(t *testing.T) {
	table := routing.NewInMemoryTable()
	resolver := routing.New(table, commons.NewNop())
	recorder := lifecycle.NewRecorder(noopStore{}, commons.NewNop())
	tools := toolregistry.New()

	l := New(Config{
		CarrierPath:           "/media",
		DefaultTenant:         "tenant-default",
		TwilioAccountSID:      "ACtest",
		TwilioAuthToken:       "tok",
		TwilioCallbackBaseURL: "https://gateway.example.com",
		TwilioDialoutNumber:   "+15550002222",
	}, commons.NewNop(), resolver, recorder, tools, table)

	require.NotNil(t, l.dialer)
}

// testRSAPrivateKeyPEM generates a throwaway PEM-encoded RSA key, the
// format vng.CreateAuthFromAppPrivateKey parses.
func testRSAPrivateKeyPEM(t *testing.T) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
}

func TestNew_RegistersDialEndpointWithVonageCredentialsWhenTwilioAbsent(t *testing.T) {
	table := routing.NewInMemoryTable()
	resolver := routing.New(table, commons.NewNop())
	recorder := lifecycle.NewRecorder(noopStore{}, commons.NewNop())
	tools := toolregistry.New()

	l := New(Config{
		CarrierPath:           "/media",
		DefaultTenant:         "tenant-default",
		VonageApplicationID:   "app-id",
		VonagePrivateKey:      testRSAPrivateKeyPEM(t),
		VonageCallbackBaseURL: "https://gateway.example.com",
		VonageDialoutNumber:   "+15550003333",
	}, commons.NewNop(), resolver, recorder, tools, table)

	require.NotNil(t, l.dialer)
}

func TestNew_RegistersDialEndpointWithSIPTrunkWhenNoRESTCarrierConfigured(t *testing.T) {
	table := routing.NewInMemoryTable()
	resolver := routing.New(table, commons.NewNop())
	recorder := lifecycle.NewRecorder(noopStore{}, commons.NewNop())
	tools := toolregistry.New()

	l := New(Config{
		CarrierPath:  "/media",
		DefaultTenant: "tenant-default",
		SIPTrunkAddr: "sip.trunk.example.com:5060",
		SIPLocalHost: "127.0.0.1",
		SIPLocalPort: 15060,
		SIPFromUser:  "gateway",
	}, commons.NewNop(), resolver, recorder, tools, table)

	require.NotNil(t, l.dialer)
	require.IsType(t, &SIPDialer{}, l.dialer)
}

func TestNew_PrefersTwilioOverVonageWhenBothConfigured(t *testing.T) {
	table := routing.NewInMemoryTable()
	resolver := routing.New(table, commons.NewNop())
	recorder := lifecycle.NewRecorder(noopStore{}, commons.NewNop())
	tools := toolregistry.New()

	l := New(Config{
		CarrierPath:           "/media",
		DefaultTenant:         "tenant-default",
		TwilioAccountSID:      "ACtest",
		TwilioAuthToken:       "tok",
		TwilioCallbackBaseURL: "https://gateway.example.com",
		TwilioDialoutNumber:   "+15550002222",
		VonageApplicationID:   "app-id",
		VonagePrivateKey:      testRSAPrivateKeyPEM(t),
		VonageCallbackBaseURL: "https://gateway.example.com",
		VonageDialoutNumber:   "+15550003333",
	}, commons.NewNop(), resolver, recorder, tools, table)

	require.IsType(t, &Dialer{}, l.dialer)
}
