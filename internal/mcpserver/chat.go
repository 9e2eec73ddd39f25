package mcpserver

import (
	"context"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	sdkserver "github.com/mark3labs/mcp-go/server"

	"github.com/gaspardpetit/chatrelay/internal/logx"
	"github.com/gaspardpetit/chatrelay/internal/relay"
)

// Chatter answers one chat message with a complete reply.
type Chatter interface {
	Chat(ctx context.Context, req relay.ChatRequest) (relay.ChatReply, error)
}

// NewServer returns an MCP server exposing the "chat" tool.
func NewServer(g Chatter, version string) *sdkserver.MCPServer {
	srv := sdkserver.NewMCPServer(
		"chatrelay",
		version,
		sdkserver.WithResourceCapabilities(false, false),
		sdkserver.WithToolCapabilities(false),
		sdkserver.WithPromptCapabilities(false),
	)
	srv.AddTool(mcp.NewTool("chat",
		mcp.WithDescription("Ask the assistant a question and get its complete answer."),
		mcp.WithString("message", mcp.Required(), mcp.Description("The user message.")),
	), chatTool(g))
	return srv
}

// NewHandler constructs a Streamable HTTP MCP handler around NewServer.
func NewHandler(g Chatter, version string) http.Handler {
	return sdkserver.NewStreamableHTTPServer(
		NewServer(g, version),
		sdkserver.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			return ctx
		}),
	)
}

func chatTool(g Chatter) sdkserver.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		msg, err := req.RequireString("message")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		reply, err := g.Chat(ctx, relay.ChatRequest{Message: msg})
		if err != nil {
			logx.Log.Warn().Err(err).Str("outcome", relay.Outcome(err)).Msg("mcp chat failed")
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(reply.Response), nil
	}
}
