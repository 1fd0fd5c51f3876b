// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package toolregistry

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rapidaai/voicegateway/internal/commons"
)

// MCPToolServer proxies one tool call to a configured MCP tool server,
// the one concrete ToolHandler registrant named in §4.5. The exact
// mcp-go client surface (NewSSEMCPClient/Start/CallTool) is assumed from
// the package's documented usage, not grounded on a pack call site — see
// DESIGN.md.
type MCPToolServer struct {
	client *client.Client
	logger commons.Logger
}

// DialMCPToolServer connects to an MCP server reachable over SSE at
// serverURL and returns a handler that proxies CallTool requests to it.
func DialMCPToolServer(ctx context.Context, serverURL string, logger commons.Logger) (*MCPToolServer, error) {
	c, err := client.NewSSEMCPClient(serverURL)
	if err != nil {
		return nil, fmt.Errorf("toolregistry: dial mcp server %s: %w", serverURL, err)
	}
	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("toolregistry: start mcp client %s: %w", serverURL, err)
	}
	if _, err := c.Initialize(ctx, mcp.InitializeRequest{}); err != nil {
		return nil, fmt.Errorf("toolregistry: initialize mcp client %s: %w", serverURL, err)
	}
	return &MCPToolServer{client: c, logger: logger}, nil
}

// Handle implements ToolHandler by forwarding call as an MCP CallTool
// request and translating the structured result content back into a
// plain map for §3's ToolCallRecord.Response encoding.
func (m *MCPToolServer) Handle(ctx context.Context, call ToolCallRequest) (map[string]any, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = call.Name
	req.Params.Arguments = call.Args

	result, err := m.client.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("toolregistry: mcp call %s: %w", call.Name, err)
	}
	if result.IsError {
		return nil, fmt.Errorf("toolregistry: mcp tool %s returned an error result", call.Name)
	}

	out := make(map[string]any, len(result.Content))
	for i, item := range result.Content {
		if tc, ok := item.(mcp.TextContent); ok {
			out[fmt.Sprintf("content_%d", i)] = tc.Text
		}
	}
	return out, nil
}

// Close releases the underlying MCP client connection.
func (m *MCPToolServer) Close() error {
	return m.client.Close()
}
