package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/folio/internal/editor"
	"github.com/kalambet/folio/internal/syncer"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Registry *editor.Registry
	Version  string
}

// NewMCPServer creates an MCP server with all folio tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"folio",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("folio edits portfolio websites. Ask for changes in plain language, pick themes and fonts, reorder sections, publish."),
		server.WithRecovery(),
	)

	idArg := mcp.WithString("portfolio_id", mcp.Description("Portfolio id"), mcp.Required())
	userArg := mcp.WithString("user_id", mcp.Description("Identity of the acting user; must own the portfolio"), mcp.Required())

	s.AddTool(
		mcp.NewTool("list_portfolios",
			mcp.WithDescription("List a user's portfolios, newest first, with publish links."),
			mcp.WithString("owner_id", mcp.Description("Owner identity"), mcp.Required()),
		),
		mcpListPortfolios(deps),
	)

	s.AddTool(
		mcp.NewTool("get_portfolio",
			mcp.WithDescription("Return the current portfolio document as JSON."),
			idArg,
		),
		mcpGetPortfolio(deps),
	)

	s.AddTool(
		mcp.NewTool("edit_portfolio",
			mcp.WithDescription("Ask the portfolio assistant to change the portfolio. Returns the assistant's reply."),
			idArg, userArg,
			mcp.WithString("instruction", mcp.Description("What to change, in plain language"), mcp.Required()),
		),
		mcpEditPortfolio(deps),
	)

	s.AddTool(
		mcp.NewTool("reorder_sections",
			mcp.WithDescription("Reorder the movable sections. hero, userInfo and themes keep their positions."),
			idArg, userArg,
			mcp.WithArray("order", mcp.Description("Every movable section type in the new order"), mcp.Required()),
		),
		mcpReorder(deps),
	)

	s.AddTool(
		mcp.NewTool("set_theme",
			mcp.WithDescription("Apply a theme."),
			idArg, userArg,
			mcp.WithString("theme", mcp.Description("Theme name"), mcp.Required()),
		),
		mcpSetField(deps, "theme", (*editor.Session).SetTheme),
	)

	s.AddTool(
		mcp.NewTool("set_font",
			mcp.WithDescription("Apply a font."),
			idArg, userArg,
			mcp.WithString("font", mcp.Description("Font family"), mcp.Required()),
		),
		mcpSetField(deps, "font", (*editor.Session).SetFont),
	)

	s.AddTool(
		mcp.NewTool("set_custom_style",
			mcp.WithDescription("Replace the portfolio's custom CSS."),
			idArg, userArg,
			mcp.WithString("css", mcp.Description("CSS text"), mcp.Required()),
		),
		mcpSetField(deps, "css", (*editor.Session).SetCustomStyle),
	)

	s.AddTool(
		mcp.NewTool("publish_portfolio",
			mcp.WithDescription("Publish the portfolio and return its public link."),
			idArg, userArg,
		),
		mcpPublish(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"folio://sessions",
			"Editing Sessions",
			mcp.WithResourceDescription("Portfolios currently loaded for editing, with processing and in-flight state"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceSessions(deps),
	)

	return s
}

func mcpListPortfolios(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		owner, err := req.RequireString("owner_id")
		if err != nil {
			return mcpError("owner_id is required"), nil
		}
		list, err := deps.Registry.List(ctx, owner)
		if err != nil {
			return mcpError(fmt.Sprintf("list failed: %v", err)), nil
		}
		return mcpJSON(list)
	}
}

func mcpGetPortfolio(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("portfolio_id")
		if err != nil {
			return mcpError("portfolio_id is required"), nil
		}
		rec, err := deps.Registry.Get(ctx, id)
		if err != nil {
			return mcpError(fmt.Sprintf("get failed: %v", err)), nil
		}
		return mcpJSON(rec)
	}
}

// mcpSession resolves the acting user's session from the common arguments.
func mcpSession(ctx context.Context, deps MCPDeps, req mcp.CallToolRequest) (*editor.Session, *mcp.CallToolResult) {
	id, err := req.RequireString("portfolio_id")
	if err != nil {
		return nil, mcpError("portfolio_id is required")
	}
	user, err := req.RequireString("user_id")
	if err != nil {
		return nil, mcpError("user_id is required")
	}
	s, err := deps.Registry.Edit(ctx, id, user)
	if err != nil {
		return nil, mcpError(err.Error())
	}
	return s, nil
}

func mcpEditPortfolio(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		s, errResult := mcpSession(ctx, deps, req)
		if errResult != nil {
			return errResult, nil
		}
		instruction, err := req.RequireString("instruction")
		if err != nil {
			return mcpError("instruction is required"), nil
		}
		reply, err := s.Send(ctx, instruction)
		switch {
		case errors.Is(err, syncer.ErrBusy):
			return mcpError("another edit is still processing; try again when it finishes"), nil
		case errors.Is(err, editor.ErrEmptyInstruction):
			return mcpError("instruction is required"), nil
		case err != nil && reply.Text != "":
			return mcpError(reply.Text), nil
		case err != nil:
			return mcpError(err.Error()), nil
		}
		return mcpText(reply.Text), nil
	}
}

func mcpReorder(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		s, errResult := mcpSession(ctx, deps, req)
		if errResult != nil {
			return errResult, nil
		}
		order := req.GetStringSlice("order", nil)
		if len(order) == 0 {
			return mcpError("order is required"), nil
		}
		if err := s.Reorder(ctx, order); err != nil {
			return mcpError(fmt.Sprintf("reorder failed: %v", err)), nil
		}
		return mcpJSON(s.Document().Types())
	}
}

func mcpSetField(deps MCPDeps, arg string, set fieldSetter) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		s, errResult := mcpSession(ctx, deps, req)
		if errResult != nil {
			return errResult, nil
		}
		value, err := req.RequireString(arg)
		if err != nil {
			return mcpError(arg + " is required"), nil
		}
		err = set(s, ctx, value)
		switch {
		case errors.Is(err, syncer.ErrSuperseded):
			return mcpText("A newer change to the same setting was applied instead."), nil
		case err != nil:
			return mcpError(fmt.Sprintf("update failed: %v", err)), nil
		}
		msgs := s.Transcript()
		return mcpText(msgs[len(msgs)-1].Text), nil
	}
}

func mcpPublish(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("portfolio_id")
		if err != nil {
			return mcpError("portfolio_id is required"), nil
		}
		user, err := req.RequireString("user_id")
		if err != nil {
			return mcpError("user_id is required"), nil
		}
		link, err := deps.Registry.Publish(ctx, id, user)
		if err != nil {
			return mcpError(fmt.Sprintf("publish failed: %v", err)), nil
		}
		return mcpJSON(link)
	}
}

func mcpResourceSessions(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Registry.Sessions())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal sessions: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
