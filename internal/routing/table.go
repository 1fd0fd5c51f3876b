// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package routing implements the §4.4 routing resolver: a deterministic
// function from (direction, called number, calling number, now) to either
// an Agent Configuration or a rejection reason. The resolver never owns
// refresh policy for its collaborator data (agents, number mappings,
// do-not-call set) — it only consumes an injected RoutingTable capability,
// mirroring a callcontext.Store interface/constructor shape
// while swapping Postgres for a read-mostly in-memory snapshot (§4.4's
// redesign note, §9).
package routing

import (
	"sync/atomic"

	"github.com/rapidaai/voicegateway/internal/calldata"
)

// RoutingTable is the capability C4 consumes. Implementations own how and
// when their underlying data refreshes; C4 only reads.
type RoutingTable interface {
	// IsDoNotCall reports whether number is on tenant's do-not-call set.
	IsDoNotCall(tenantID, number string) bool
	// Agents returns every configured agent for tenant, in no particular
	// order; Resolve applies CreatedAt tie-breaking itself.
	Agents(tenantID string) []calldata.AgentConfiguration
	// NumberMapping returns the tenant's phone-number-to-agent-ID map,
	// keyed by the DID (called) number or a prefix of it.
	NumberMapping(tenantID string) map[string]string
	// ConcurrentCalls returns the agent's current in-flight call count.
	ConcurrentCalls(agentID string) int
	// IsAgentActive reports whether agentID is eligible for routing. An
	// agent with no explicit entry is active by default (§6's
	// toggle_agent control only needs to record deactivations).
	IsAgentActive(agentID string) bool
}

// snapshot is one atomically-swappable view of a tenant's routing data.
type snapshot struct {
	doNotCall     map[string]map[string]bool // tenantID -> number -> true
	agents        map[string][]calldata.AgentConfiguration
	numberMapping map[string]map[string]string // tenantID -> number prefix -> agentID
	concurrency   map[string]int                // agentID -> in-flight count
	inactive      map[string]bool                // agentID -> deactivated via toggle_agent
}

// InMemoryTable is a RoutingTable backed by an atomically-swapped
// snapshot, so Resolve (read-heavy, latency-sensitive) never blocks on a
// mutex held by a concurrent Replace (infrequent, collaborator-driven).
type InMemoryTable struct {
	current atomic.Pointer[snapshot]
}

// NewInMemoryTable returns an empty table; call Replace to populate it.
func NewInMemoryTable() *InMemoryTable {
	t := &InMemoryTable{}
	t.current.Store(&snapshot{
		doNotCall:     map[string]map[string]bool{},
		agents:        map[string][]calldata.AgentConfiguration{},
		numberMapping: map[string]map[string]string{},
		concurrency:   map[string]int{},
		inactive:      map[string]bool{},
	})
	return t
}

// Replace atomically swaps in a whole new snapshot. Collaborators call
// this on whatever cadence they choose (poll, webhook, startup load); C4
// itself never decides when to refresh. Agent deactivations recorded via
// SetAgentActive survive a Replace, since a collaborator's refresh cycle
// has no notion of the operational toggle_agent control.
func (t *InMemoryTable) Replace(doNotCall map[string]map[string]bool, agents map[string][]calldata.AgentConfiguration, numberMapping map[string]map[string]string, concurrency map[string]int) {
	old := t.current.Load()
	inactive := map[string]bool{}
	if old != nil {
		inactive = old.inactive
	}
	t.current.Store(&snapshot{
		doNotCall:     doNotCall,
		agents:        agents,
		numberMapping: numberMapping,
		concurrency:   concurrency,
		inactive:      inactive,
	})
}

// SetAgentActive implements the §6 toggle_agent(agent_id, active)
// operational control, copy-on-write like SetConcurrency.
func (t *InMemoryTable) SetAgentActive(agentID string, active bool) {
	old := t.current.Load()
	next := &snapshot{
		doNotCall:     old.doNotCall,
		agents:        old.agents,
		numberMapping: old.numberMapping,
		concurrency:   old.concurrency,
		inactive:      make(map[string]bool, len(old.inactive)),
	}
	for k, v := range old.inactive {
		next.inactive[k] = v
	}
	if active {
		delete(next.inactive, agentID)
	} else {
		next.inactive[agentID] = true
	}
	t.current.Store(next)
}

// SetConcurrency updates a single agent's in-flight call count without
// disturbing the rest of the snapshot, copy-on-write so concurrent readers
// of the old snapshot are unaffected (§9: concurrency counters change far
// more often than agent configuration or the DNC set).
func (t *InMemoryTable) SetConcurrency(agentID string, count int) {
	old := t.current.Load()
	next := &snapshot{
		doNotCall:     old.doNotCall,
		agents:        old.agents,
		numberMapping: old.numberMapping,
		concurrency:   make(map[string]int, len(old.concurrency)),
		inactive:      old.inactive,
	}
	for k, v := range old.concurrency {
		next.concurrency[k] = v
	}
	next.concurrency[agentID] = count
	t.current.Store(next)
}

func (t *InMemoryTable) IsDoNotCall(tenantID, number string) bool {
	return t.current.Load().doNotCall[tenantID][number]
}

func (t *InMemoryTable) Agents(tenantID string) []calldata.AgentConfiguration {
	return t.current.Load().agents[tenantID]
}

func (t *InMemoryTable) NumberMapping(tenantID string) map[string]string {
	return t.current.Load().numberMapping[tenantID]
}

func (t *InMemoryTable) ConcurrentCalls(agentID string) int {
	return t.current.Load().concurrency[agentID]
}

func (t *InMemoryTable) IsAgentActive(agentID string) bool {
	return !t.current.Load().inactive[agentID]
}
