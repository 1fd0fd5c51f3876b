// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package modelsession

import "google.golang.org/genai"

// Wire types mirror google.golang.org/genai's Live API message shapes
// (LiveConnectConfig, SessionResumptionConfig, LiveServerGoAway,
// LiveServerMessage) but are sent/received as plain JSON over a
// gorilla/websocket connection instead of through the SDK's own transport,
// per SPEC_FULL.md §4.2's implementation note: the session manager owns
// reconnect/backoff/resumption itself. Where genai's own exported types
// are a direct fit for a piece of that wire format — session resumption,
// the tool-call/tool-response envelope, and inline audio blobs, all
// grounded on google-adk-go's base_flow_live.go and OpenConverse's
// session.go — this package uses the real genai structs instead of
// hand-rolled mirrors, so this remains the one genai-typed seam even
// though the transport around it is this package's own.

// clientSetup is the first message sent on every connection (§4.2:
// "connection establishment").
type clientSetup struct {
	Setup *liveConnectConfig `json:"setup"`
}

type liveConnectConfig struct {
	Model               string                    `json:"model"`
	ResponseModality     string                    `json:"responseModality"` // always "AUDIO"
	Voice                string                    `json:"voice,omitempty"`
	LanguageCode         string                    `json:"languageCode,omitempty"`
	SystemInstruction    string                    `json:"systemInstruction,omitempty"`
	RealtimeInputConfig  *realtimeInputConfig      `json:"realtimeInputConfig,omitempty"`
	InputAudioTranscription  *transcriptionConfig  `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *transcriptionConfig  `json:"outputAudioTranscription,omitempty"`
	SessionResumption    *genai.SessionResumptionConfig `json:"sessionResumption,omitempty"`
	ContextWindowCompression *contextCompression   `json:"contextWindowCompression,omitempty"`
}

type realtimeInputConfig struct {
	AutomaticActivityDetection *automaticActivityDetection `json:"automaticActivityDetection,omitempty"`
}

type automaticActivityDetection struct {
	Disabled          bool   `json:"disabled,omitempty"`
	StartSensitivity  string `json:"startOfSpeechSensitivity,omitempty"`
	EndSensitivity    string `json:"endOfSpeechSensitivity,omitempty"`
	SilenceDurationMs int    `json:"silenceDurationMs,omitempty"`
	PrefixPaddingMs   int    `json:"prefixPaddingMs,omitempty"`
}

type transcriptionConfig struct{}

// contextCompression declares (but does not implement) sliding-window
// compression per §4.2: "the client does not implement the window itself,
// it merely declares it."
type contextCompression struct {
	SlidingWindow bool `json:"slidingWindow"`
}

// clientRealtimeInput carries one chunk of caller audio.
type clientRealtimeInput struct {
	RealtimeInput *realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	Audio *genai.Blob `json:"audio,omitempty"`
	Text  string      `json:"text,omitempty"`
}

// clientActivitySignal carries manual turn markers, used only when
// automatic VAD is disabled (§4.2).
type clientActivitySignal struct {
	ActivityStart *struct{} `json:"activityStart,omitempty"`
	ActivityEnd   *struct{} `json:"activityEnd,omitempty"`
	AudioStreamEnd bool     `json:"audioStreamEnd,omitempty"`
}

// clientToolResponse completes a model-initiated tool call.
type clientToolResponse struct {
	ToolResponse *toolResponsePayload `json:"toolResponse"`
}

type toolResponsePayload struct {
	FunctionResponses []*genai.FunctionResponse `json:"functionResponses"`
}

// serverMessage is the envelope for every inbound frame; exactly one of
// the pointer fields is populated per message, mirroring genai's
// LiveServerMessage union.
type serverMessage struct {
	SetupComplete              *struct{}                    `json:"setupComplete,omitempty"`
	ServerContent               *serverContent               `json:"serverContent,omitempty"`
	ToolCall                    *serverToolCall               `json:"toolCall,omitempty"`
	SessionResumptionUpdate     *sessionResumptionUpdate      `json:"sessionResumptionUpdate,omitempty"`
	GoAway                      *goAway                       `json:"goAway,omitempty"`
	Error                       *serverError                  `json:"error,omitempty"`
}

type serverContent struct {
	ModelTurn             *modelTurn `json:"modelTurn,omitempty"`
	TurnComplete          bool       `json:"turnComplete,omitempty"`
	GenerationComplete    bool       `json:"generationComplete,omitempty"`
	Interrupted           bool       `json:"interrupted,omitempty"`
	InputTranscription    *transcriptionText `json:"inputTranscription,omitempty"`
	OutputTranscription   *transcriptionText `json:"outputTranscription,omitempty"`
}

type transcriptionText struct {
	Text string `json:"text"`
}

type modelTurn struct {
	Parts []modelPart `json:"parts"`
}

type modelPart struct {
	InlineData *genai.Blob `json:"inlineData,omitempty"`
}

type serverToolCall struct {
	FunctionCalls []*genai.FunctionCall `json:"functionCalls"`
}

type sessionResumptionUpdate struct {
	NewHandle  string `json:"newHandle"`
	Resumable  bool   `json:"resumable"`
}

type goAway struct {
	TimeLeftMs int64 `json:"timeLeftMs"`
}

type serverError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
