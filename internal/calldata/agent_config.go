// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package calldata

import (
	"fmt"
	"time"
)

// Sensitivity is a VAD start/end sensitivity level.
type Sensitivity string

const (
	SensitivityLow  Sensitivity = "low"
	SensitivityMed  Sensitivity = "med"
	SensitivityHigh Sensitivity = "high"
)

// RoutingType selects how a resolved agent handles a call.
type RoutingType string

const (
	RoutingDirect  RoutingType = "direct"
	RoutingMenu    RoutingType = "menu"
	RoutingForward RoutingType = "forward"
)

// CallDirectionPolicy says which call directions an agent may serve.
type CallDirectionPolicy string

const (
	PolicyInbound  CallDirectionPolicy = "inbound"
	PolicyOutbound CallDirectionPolicy = "outbound"
	PolicyBoth     CallDirectionPolicy = "both"
)

// ModelName is restricted to the model vendor's enumerated set (§6).
type ModelName string

const (
	ModelGeminiLive25FlashPreview    ModelName = "gemini-live-2.5-flash-preview"
	ModelGemini20FlashLive001        ModelName = "gemini-2.0-flash-live-001"
	ModelGemini25FlashNativeAudio    ModelName = "gemini-2.5-flash-preview-native-audio-dialog"
)

var allowedModels = map[ModelName]bool{
	ModelGeminiLive25FlashPreview: true,
	ModelGemini20FlashLive001:     true,
	ModelGemini25FlashNativeAudio: true,
}

// Voice is restricted to the model vendor's enumerated voice set (§6).
type Voice string

const (
	VoicePuck   Voice = "Puck"
	VoiceCharon Voice = "Charon"
	VoiceKore   Voice = "Kore"
	VoiceFenrir Voice = "Fenrir"
	VoiceAoede  Voice = "Aoede"
	VoiceLeda   Voice = "Leda"
	VoiceOrus   Voice = "Orus"
	VoiceZephyr Voice = "Zephyr"
)

var allowedVoices = map[Voice]bool{
	VoicePuck: true, VoiceCharon: true, VoiceKore: true, VoiceFenrir: true,
	VoiceAoede: true, VoiceLeda: true, VoiceOrus: true, VoiceZephyr: true,
}

// VADTuning holds caller-speech-detection tuning (§3).
type VADTuning struct {
	StartSensitivity Sensitivity
	EndSensitivity   Sensitivity
	SilenceMs        int
	PrefixPaddingMs  int
}

// BusinessHoursWindow is a [Start,End) local-time-of-day window plus the
// agent's IANA timezone, used by the routing resolver (§4.4).
type BusinessHoursWindow struct {
	Timezone string // IANA zone name, e.g. "America/New_York"
	StartHHMM string // "09:00"
	EndHHMM   string // "17:00"
}

// AgentConfiguration is the immutable, validated snapshot resolved once per
// call by C4 and consumed read-only thereafter by C2/C5 (§3).
type AgentConfiguration struct {
	AgentID          string
	Voice            Voice
	LanguageCode     string // BCP-47
	SystemPrompt     string
	ModelName        ModelName
	VAD              VADTuning
	CallDirection    CallDirectionPolicy
	RoutingType      RoutingType
	ForwardTarget    string
	BusinessHours    BusinessHoursWindow
	MaxConcurrent    int
	ExtendedSession  bool // requests sliding-window context compression
	GreetFirst       bool // always false per §9; retained for validation symmetry
	DisableAutoVAD   bool // when true, C2 relies on signal_activity_start/end
	CreatedAt        time.Time
	IsPrimary        bool
}

// Validate checks the model name, voice and VAD sensitivities against
// their enumerated allowed sets, that a forward agent has a forward
// target, and that MaxConcurrent is not negative; CallDirection and
// RoutingType values are not checked. Invalid configurations fail at call
// start, never mid-call (§9 redesign note).
func (a *AgentConfiguration) Validate() error {
	if !allowedModels[a.ModelName] {
		return fmt.Errorf("agent %s: model %q is not an allowed model", a.AgentID, a.ModelName)
	}
	if !allowedVoices[a.Voice] {
		return fmt.Errorf("agent %s: voice %q is not an allowed voice", a.AgentID, a.Voice)
	}
	if a.VAD.StartSensitivity != SensitivityLow && a.VAD.StartSensitivity != SensitivityMed && a.VAD.StartSensitivity != SensitivityHigh {
		return fmt.Errorf("agent %s: invalid VAD start sensitivity %q", a.AgentID, a.VAD.StartSensitivity)
	}
	if a.VAD.EndSensitivity != SensitivityLow && a.VAD.EndSensitivity != SensitivityMed && a.VAD.EndSensitivity != SensitivityHigh {
		return fmt.Errorf("agent %s: invalid VAD end sensitivity %q", a.AgentID, a.VAD.EndSensitivity)
	}
	if a.RoutingType == RoutingForward && a.ForwardTarget == "" {
		return fmt.Errorf("agent %s: routing type forward requires a forward target", a.AgentID)
	}
	if a.MaxConcurrent < 0 {
		return fmt.Errorf("agent %s: max concurrent calls must be >= 0", a.AgentID)
	}
	return nil
}
