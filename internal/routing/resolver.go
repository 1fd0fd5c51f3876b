// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package routing

import (
	"strings"
	"time"

	"github.com/rapidaai/voicegateway/internal/calldata"
	"github.com/rapidaai/voicegateway/internal/commons"
)

// DecisionKind is the outcome of Resolve.
type DecisionKind int

const (
	DecisionAgent DecisionKind = iota
	DecisionForward
	DecisionRejected
	DecisionOverloaded
)

// RejectReason explains a DecisionRejected outcome.
type RejectReason string

const (
	RejectDoNotCall    RejectReason = "do_not_call"
	RejectNoEligibleAgent RejectReason = "no_eligible_agent"
)

// Decision is what Resolve returns: exactly one of Agent, ForwardTarget,
// or RejectReason is meaningful, selected by Kind.
type Decision struct {
	Kind          DecisionKind
	Agent         *calldata.AgentConfiguration
	ForwardTarget string
	RejectReason  RejectReason
}

// Resolver implements the §4.4 algorithm against an injected RoutingTable.
type Resolver struct {
	table  RoutingTable
	logger commons.Logger
}

// New builds a Resolver over table.
func New(table RoutingTable, logger commons.Logger) *Resolver {
	return &Resolver{table: table, logger: logger}
}

// Resolve runs the six-step algorithm in §4.4, in order.
func (r *Resolver) Resolve(tenantID string, direction calldata.Direction, calledNumber, callingNumber string, now time.Time) Decision {
	// 1. Do-not-call.
	if r.table.IsDoNotCall(tenantID, callingNumber) {
		return Decision{Kind: DecisionRejected, RejectReason: RejectDoNotCall}
	}

	// 2. Direction + business-hours eligible set.
	policy := directionPolicy(direction)
	var eligible []calldata.AgentConfiguration
	for _, agent := range r.table.Agents(tenantID) {
		if !r.table.IsAgentActive(agent.AgentID) {
			continue
		}
		if !admitsDirection(agent.CallDirection, policy) {
			continue
		}
		if !r.isWithinBusinessHours(agent.BusinessHours, now) {
			continue
		}
		eligible = append(eligible, agent)
	}
	if len(eligible) == 0 {
		return Decision{Kind: DecisionRejected, RejectReason: RejectNoEligibleAgent}
	}

	// 3. Number mapping, longest-prefix wins, restricted to the eligible set.
	chosen := r.matchByNumberMapping(tenantID, calledNumber, eligible)

	// 4. Primary agent fallback, else earliest-created.
	if chosen == nil {
		chosen = pickPrimaryOrEarliest(eligible)
	}

	// 5. Forward routing type.
	if chosen.RoutingType == calldata.RoutingForward {
		return Decision{Kind: DecisionForward, ForwardTarget: chosen.ForwardTarget}
	}

	// 6. Concurrency ceiling.
	if chosen.MaxConcurrent > 0 && r.table.ConcurrentCalls(chosen.AgentID) >= chosen.MaxConcurrent {
		return Decision{Kind: DecisionOverloaded, Agent: chosen}
	}

	return Decision{Kind: DecisionAgent, Agent: chosen}
}

func directionPolicy(d calldata.Direction) calldata.CallDirectionPolicy {
	if d == calldata.DirectionOutbound {
		return calldata.PolicyOutbound
	}
	return calldata.PolicyInbound
}

func admitsDirection(agentPolicy, callPolicy calldata.CallDirectionPolicy) bool {
	return agentPolicy == calldata.PolicyBoth || agentPolicy == callPolicy
}

// matchByNumberMapping returns the mapped agent with the longest-prefix
// match against calledNumber, restricted to agents already in eligible, or
// nil if no mapping applies.
func (r *Resolver) matchByNumberMapping(tenantID, calledNumber string, eligible []calldata.AgentConfiguration) *calldata.AgentConfiguration {
	mapping := r.table.NumberMapping(tenantID)
	if len(mapping) == 0 {
		return nil
	}

	byID := make(map[string]*calldata.AgentConfiguration, len(eligible))
	for i := range eligible {
		byID[eligible[i].AgentID] = &eligible[i]
	}

	var bestPrefix string
	var bestAgentID string
	for prefix, agentID := range mapping {
		if !strings.HasPrefix(calledNumber, prefix) {
			continue
		}
		if _, ok := byID[agentID]; !ok {
			continue
		}
		if len(prefix) > len(bestPrefix) {
			bestPrefix, bestAgentID = prefix, agentID
		}
	}
	if bestAgentID == "" {
		return nil
	}
	return byID[bestAgentID]
}

// pickPrimaryOrEarliest returns the agent marked primary, or the earliest
// by CreatedAt if none is.
func pickPrimaryOrEarliest(agents []calldata.AgentConfiguration) *calldata.AgentConfiguration {
	var earliest *calldata.AgentConfiguration
	for i := range agents {
		a := &agents[i]
		if a.IsPrimary {
			return a
		}
		if earliest == nil || a.CreatedAt.Before(earliest.CreatedAt) {
			earliest = a
		}
	}
	return earliest
}

// isWithinBusinessHours reports whether now, converted to window's
// timezone, falls in [StartHHMM, EndHHMM). Timezone parse failure falls
// back to UTC with a logged warning; a malformed or degenerate window
// (either boundary fails to parse, or Start == End) resolves to "open"
// per §4.4's edge-case rule.
func (r *Resolver) isWithinBusinessHours(window calldata.BusinessHoursWindow, now time.Time) bool {
	loc, err := time.LoadLocation(window.Timezone)
	if err != nil {
		r.logger.Warnf("routing: unknown timezone %q, falling back to UTC", window.Timezone)
		loc = time.UTC
	}

	start, startErr := parseHHMM(window.StartHHMM)
	end, endErr := parseHHMM(window.EndHHMM)
	if startErr != nil || endErr != nil || window.StartHHMM == window.EndHHMM {
		return true
	}

	local := now.In(loc)
	minutesNow := local.Hour()*60 + local.Minute()

	if start <= end {
		return minutesNow >= start && minutesNow < end
	}
	// Window wraps past midnight, e.g. 22:00-06:00.
	return minutesNow >= start || minutesNow < end
}

func parseHHMM(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
