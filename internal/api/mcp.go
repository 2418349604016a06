package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/inkwell/internal/items"
	"github.com/kalambet/inkwell/internal/tracking"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Jobs     JobService
	Tracking *tracking.Service
	Version  string
}

// NewMCPServer creates an MCP server exposing the queue and tracker tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"inkwell",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("inkwell: serialized fiction production. Check power progression and item consistency before writing a scene, and inspect the chapter job queue."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("queue_stats",
			mcp.WithDescription("Return job counts per status and the mean duration of completed jobs."),
		),
		mcpQueueStats(deps),
	)

	s.AddTool(
		mcp.NewTool("validate_breakthrough",
			mcp.WithDescription("Check whether a character may break through to a new realm and level at a chapter. Does not record anything."),
			mcp.WithString("project_id", mcp.Description("Project the character belongs to"), mcp.Required()),
			mcp.WithString("character", mcp.Description("Character name"), mcp.Required()),
			mcp.WithNumber("chapter", mcp.Description("Chapter of the breakthrough"), mcp.Required()),
			mcp.WithString("new_realm", mcp.Description("Target realm"), mcp.Required()),
			mcp.WithNumber("new_level", mcp.Description("Target level within the realm"), mcp.Required()),
		),
		mcpValidateBreakthrough(deps),
	)

	s.AddTool(
		mcp.NewTool("validate_item_name",
			mcp.WithDescription("Check a proposed item name for duplicates and near-duplicates, with alternatives when it collides."),
			mcp.WithString("project_id", mcp.Description("Project to check against"), mcp.Required()),
			mcp.WithString("name", mcp.Description("Proposed item name"), mcp.Required()),
		),
		mcpValidateItemName(deps),
	)

	s.AddTool(
		mcp.NewTool("item_reminders",
			mcp.WithDescription("List active items that have not been mentioned for a while, with a usage suggestion for each."),
			mcp.WithString("project_id", mcp.Description("Project to inspect"), mcp.Required()),
			mcp.WithNumber("chapter", mcp.Description("Current chapter"), mcp.Required()),
			mcp.WithNumber("threshold", mcp.Description("Idle chapters before an item is reminded (default 30)")),
		),
		mcpItemReminders(deps),
	)

	s.AddTool(
		mcp.NewTool("progression_summary",
			mcp.WithDescription("Summarise a character's realm, level, skills and items, or every tracked character when no name is given."),
			mcp.WithString("project_id", mcp.Description("Project to inspect"), mcp.Required()),
			mcp.WithString("character", mcp.Description("Character name (optional)")),
			mcp.WithNumber("chapter", mcp.Description("Current chapter"), mcp.Required()),
		),
		mcpProgressionSummary(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"inkwell://queue/stats",
			"Queue Statistics",
			mcp.WithResourceDescription("Current job queue statistics as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceQueueStats(deps),
	)

	return s
}

func mcpQueueStats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		stats, err := deps.Jobs.GetQueueStats(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("reading queue stats failed: %v", err)), nil
		}
		return mcpJSON(stats), nil
	}
}

func mcpValidateBreakthrough(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, err := req.RequireString("project_id")
		if err != nil {
			return mcpError("project_id is required"), nil
		}
		name, err := req.RequireString("character")
		if err != nil {
			return mcpError("character is required"), nil
		}
		realm, err := req.RequireString("new_realm")
		if err != nil {
			return mcpError("new_realm is required"), nil
		}
		chapter, err := req.RequireInt("chapter")
		if err != nil {
			return mcpError("chapter is required"), nil
		}
		level, err := req.RequireInt("new_level")
		if err != nil {
			return mcpError("new_level is required"), nil
		}

		var out any
		err = deps.Tracking.View(ctx, projectID, func(s *tracking.Session) error {
			out = s.Progression.ValidateBreakthrough(name, chapter, realm, level)
			return nil
		})
		if err != nil {
			return mcpError(fmt.Sprintf("validation failed: %v", err)), nil
		}
		return mcpJSON(out), nil
	}
}

func mcpValidateItemName(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, err := req.RequireString("project_id")
		if err != nil {
			return mcpError("project_id is required"), nil
		}
		name, err := req.RequireString("name")
		if err != nil {
			return mcpError("name is required"), nil
		}

		var check items.NameCheck
		err = deps.Tracking.View(ctx, projectID, func(s *tracking.Session) error {
			check = s.Items.ValidateItemName(name)
			return nil
		})
		if err != nil {
			return mcpError(fmt.Sprintf("validation failed: %v", err)), nil
		}
		return mcpJSON(check), nil
	}
}

func mcpItemReminders(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, err := req.RequireString("project_id")
		if err != nil {
			return mcpError("project_id is required"), nil
		}
		chapter, err := req.RequireInt("chapter")
		if err != nil {
			return mcpError("chapter is required"), nil
		}
		threshold := req.GetInt("threshold", 0)

		var reminders []items.Reminder
		err = deps.Tracking.View(ctx, projectID, func(s *tracking.Session) error {
			reminders = s.Items.GetUnusedItemReminders(chapter, threshold)
			return nil
		})
		if err != nil {
			return mcpError(fmt.Sprintf("reading reminders failed: %v", err)), nil
		}
		if len(reminders) == 0 {
			return mcpText("[]"), nil
		}
		return mcpJSON(reminders), nil
	}
}

func mcpProgressionSummary(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		projectID, err := req.RequireString("project_id")
		if err != nil {
			return mcpError("project_id is required"), nil
		}
		chapter, err := req.RequireInt("chapter")
		if err != nil {
			return mcpError("chapter is required"), nil
		}
		name := req.GetString("character", "")

		var text string
		var missing bool
		err = deps.Tracking.View(ctx, projectID, func(s *tracking.Session) error {
			if name == "" {
				text = s.Progression.ContextBlock(chapter)
				return nil
			}
			if _, ok := s.Progression.State(name); !ok {
				missing = true
				return nil
			}
			text = s.Progression.GetProgressionSummary(name, chapter)
			return nil
		})
		if err != nil {
			return mcpError(fmt.Sprintf("reading progression failed: %v", err)), nil
		}
		if missing {
			return mcpError(fmt.Sprintf("character %q is not tracked", name)), nil
		}
		if text == "" {
			text = "No characters tracked yet."
		}
		return mcpText(text), nil
	}
}

func mcpResourceQueueStats(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		stats, err := deps.Jobs.GetQueueStats(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get queue stats: %w", err)
		}
		b, err := json.Marshal(stats)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal queue stats: %w", err)
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

func mcpJSON(v any) *mcp.CallToolResult {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err))
	}
	return mcpText(string(b))
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
