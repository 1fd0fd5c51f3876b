// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package toolregistry is the §4.5 tool-handler extensibility seam
// (Open Question 3, resolved): a string-keyed lookup from tool name to a
// ToolHandler function, populated at process start from configuration. A
// call with no registered handler for a given tool name always gets the
// stub. Grounded on an MCP-backed tool caller shape
// placeholder interface, generalized from an MCP-specific shape to a
// plain named-function registry since tool handlers here are not
// exclusively MCP-backed.
package toolregistry

import (
	"context"
	"sync"
)

// ToolCallRequest is what C5 hands a handler for a model-initiated tool
// call (§3's ToolCallRecord, minus persistence fields).
type ToolCallRequest struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolHandler computes a tool call's response. Handlers must respect ctx's
// deadline; the orchestrator always calls with a bounded-wall-clock
// context and falls back to Stub on timeout or error.
type ToolHandler func(ctx context.Context, call ToolCallRequest) (map[string]any, error)

// Stub is the default handler: always responds result="ok" (§4.5).
func Stub(ctx context.Context, call ToolCallRequest) (map[string]any, error) {
	return map[string]any{"result": "ok"}, nil
}

// Registry is a concurrency-safe string-keyed lookup from tool name to
// handler, populated once at process start and read per-call thereafter.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]ToolHandler
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{handlers: make(map[string]ToolHandler)}
}

// Register installs h for name, replacing any existing handler.
func (r *Registry) Register(name string, h ToolHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Lookup returns the registered handler for name, or (nil, false) when
// the caller should fall back to Stub.
func (r *Registry) Lookup(name string) (ToolHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// HandlerOrStub returns the registered handler for name, or Stub when
// none is registered — the single call site C5 needs.
func (r *Registry) HandlerOrStub(name string) ToolHandler {
	if h, ok := r.Lookup(name); ok {
		return h
	}
	return Stub
}
