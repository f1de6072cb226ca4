package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/cliprecall/internal/clips"
)

const recentClipsLimit = 10

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Clips    ClipIndex
	Searcher Searcher
	Version  string
}

// clipSummary is the MCP view of a clip.
type clipSummary struct {
	ID          string   `json:"id"`
	Start       string   `json:"start"`
	End         string   `json:"end"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
	Enriched    bool     `json:"enriched"`
	Score       *float64 `json:"score,omitempty"`
	Method      string   `json:"method,omitempty"`
}

// NewMCPServer creates an MCP server with the clip search tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.Version == "" {
		deps.Version = "dev"
	}
	s := server.NewMCPServer(
		"cliprecall",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("cliprecall keeps the last minute of camera footage as short clips. Use find_clip to locate the moment something was seen."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("find_clip",
			mcp.WithDescription("Find the recent camera clip that best matches a description of what was seen."),
			mcp.WithString("query", mcp.Description("What to look for, e.g. 'where did I leave my keys'"), mcp.Required()),
		),
		mcpFindClip(deps),
	)

	s.AddTool(
		mcp.NewTool("score_clips",
			mcp.WithDescription("Rank every retained clip by semantic similarity to a query."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpScoreClips(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"clips://recent",
			"Recent Clips",
			mcp.WithResourceDescription("The most recent retained clips, newest first"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpFindClip(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		res, ok := deps.Searcher.Search(ctx, query)
		if !ok {
			return mcpText("No clips recorded yet."), nil
		}

		s := summarize(res.Clip)
		s.Score = &res.Score
		s.Method = string(res.Method)
		b, err := json.Marshal(s)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpScoreClips(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		scored := deps.Searcher.ScoreAll(ctx, query)
		if len(scored) > limit {
			scored = scored[:limit]
		}

		results := make([]clipSummary, len(scored))
		for i, sc := range scored {
			results[i] = summarize(sc.Clip)
			score := sc.Score
			results[i].Score = &score
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		snap := deps.Clips.Snapshot()

		n := min(len(snap), recentClipsLimit)
		summaries := make([]clipSummary, 0, n)
		for i := len(snap) - 1; i >= len(snap)-n; i-- {
			summaries = append(summaries, summarize(snap[i]))
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal clips: %w", err)
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

func summarize(c clips.Clip) clipSummary {
	kw := c.Keywords
	if kw == nil {
		kw = []string{}
	}
	return clipSummary{
		ID:          c.ID,
		Start:       c.Start.Format(time.RFC3339Nano),
		End:         c.End.Format(time.RFC3339Nano),
		Description: c.Description,
		Keywords:    kw,
		Enriched:    c.Enriched,
	}
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
