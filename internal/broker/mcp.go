package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/pratikjadhav2726/unified-mcp-gateway/internal/contracts"
)

const (
	clientName    = "unified-mcp-gateway"
	clientVersion = "1.0.0"
)

// Dialer opens one exclusive session against a backend transport. Split out
// so tests can substitute a fake.
type Dialer interface {
	Dial(ctx context.Context, tc contracts.TransportConfig) (Session, error)
}

// MCPDialer is the production dialer over mcp-go. URL transports use
// streamable HTTP; command-only transports spawn a stdio child for the life
// of the session.
type MCPDialer struct {
	httpTimeout time.Duration
	logger      *zap.Logger
}

// NewMCPDialer creates the production dialer.
func NewMCPDialer(httpTimeout time.Duration, logger *zap.Logger) *MCPDialer {
	return &MCPDialer{httpTimeout: httpTimeout, logger: logger}
}

// Dial creates the client and starts its transport. The handshake is a
// separate step so the caller can budget it independently.
func (d *MCPDialer) Dial(ctx context.Context, tc contracts.TransportConfig) (Session, error) {
	c, err := d.createClient(tc)
	if err != nil {
		return nil, err
	}

	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to start transport: %w", err)
	}

	return &mcpSession{client: c, logger: d.logger}, nil
}

func (d *MCPDialer) createClient(tc contracts.TransportConfig) (*client.Client, error) {
	switch {
	case tc.URL != "":
		httpTransport, err := transport.NewStreamableHTTP(tc.URL,
			transport.WithHTTPTimeout(d.httpTimeout))
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP transport for %s: %w", tc.URL, err)
		}
		return client.NewClient(httpTransport), nil

	case tc.Command != "":
		envVars := make([]string, 0, len(tc.Env))
		for k, v := range tc.Env {
			envVars = append(envVars, k+"="+v)
		}
		stdioTransport := transport.NewStdio(tc.Command, envVars, tc.Args...)
		return client.NewClient(stdioTransport), nil

	default:
		return nil, fmt.Errorf("transport has neither url nor command")
	}
}

// mcpSession wraps one mcp-go client for exactly one call.
type mcpSession struct {
	client *client.Client
	logger *zap.Logger
}

func (s *mcpSession) Handshake(ctx context.Context) error {
	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    clientName,
		Version: clientVersion,
	}
	initRequest.Params.Capabilities = mcp.ClientCapabilities{}

	serverInfo, err := s.client.Initialize(ctx, initRequest)
	if err != nil {
		return fmt.Errorf("MCP initialize failed: %w", err)
	}

	s.logger.Debug("MCP initialization successful",
		zap.String("server_name", serverInfo.ServerInfo.Name),
		zap.String("server_version", serverInfo.ServerInfo.Version),
		zap.String("protocol_version", serverInfo.ProtocolVersion))
	return nil
}

func (s *mcpSession) CallTool(ctx context.Context, name string, args map[string]interface{}) (*ToolResult, error) {
	request := mcp.CallToolRequest{}
	request.Params.Name = name
	request.Params.Arguments = args

	result, err := s.client.CallTool(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("tool call failed: %w", err)
	}

	content, err := json.Marshal(result.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool result: %w", err)
	}

	return &ToolResult{IsError: result.IsError, Content: content}, nil
}

func (s *mcpSession) ListTools(ctx context.Context) ([]ToolInfo, error) {
	toolsResult, err := s.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}

	tools := make([]ToolInfo, 0, len(toolsResult.Tools))
	for i := range toolsResult.Tools {
		tool := &toolsResult.Tools[i]
		schemaBytes, err := json.Marshal(tool.InputSchema)
		if err != nil {
			schemaBytes = nil
		}
		tools = append(tools, ToolInfo{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schemaBytes,
		})
	}
	return tools, nil
}

func (s *mcpSession) Close() error {
	return s.client.Close()
}
