package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/quotagate/quotagate/internal/model"
)

var windowEnum = mcp.Enum(
	string(model.WindowTrailingDay),
	string(model.WindowTrailingMonth),
	string(model.WindowAllTime),
)

// registerTools registers all quotagate MCP tools on the given server.
func (s *MCPServer) registerTools(srv *server.MCPServer) {

	// ----- Discovery tools -----

	srv.AddTool(
		mcp.NewTool("quotagate_list_keys",
			mcp.WithDescription(
				"List API keys with their quotas, expiry and enabled state. Secrets "+
					"are never returned. Use this first to find a key_id.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithBoolean("enabled_only",
				mcp.Description("Only return keys that are currently enabled"),
			),
		),
		s.handleListKeys,
	)

	srv.AddTool(
		mcp.NewTool("quotagate_key_usage",
			mcp.WithDescription(
				"Usage statistics for one key: total requests, total cost and the "+
					"top endpoints by cost within a window.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("key_id",
				mcp.Required(),
				mcp.Description("The 16-character key id"),
			),
			mcp.WithString("window",
				mcp.Description("trailing_day, trailing_month or all_time (default)"),
				windowEnum,
			),
		),
		s.handleKeyUsage,
	)

	srv.AddTool(
		mcp.NewTool("quotagate_check_quota",
			mcp.WithDescription(
				"Current daily and monthly usage against a key's quotas, with the "+
					"remaining headroom. Does not spend any quota.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("key_id",
				mcp.Required(),
				mcp.Description("The 16-character key id"),
			),
		),
		s.handleCheckQuota,
	)

	// ----- Mutation tools -----

	srv.AddTool(
		mcp.NewTool("quotagate_disable_key",
			mcp.WithDescription(
				"Disable an API key. Every later call with its secret is refused. "+
					"There is no re-enable; a new key must be issued.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("key_id",
				mcp.Required(),
				mcp.Description("The 16-character key id"),
			),
		),
		s.handleDisableKey,
	)
}

func (s *MCPServer) handleListKeys(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	keys, err := s.keys.List(ctx, request.GetBool("enabled_only", false))
	if err != nil {
		return serviceError("Failed to list keys", err)
	}
	return successJSON(map[string]interface{}{
		"keys":  keys,
		"count": len(keys),
	})
}

func (s *MCPServer) handleKeyUsage(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	keyID, err := requireString(request, "key_id")
	if err != nil {
		return toolError("%v", err)
	}
	window, err := windowArg(request)
	if err != nil {
		return toolError("%v", err)
	}
	if _, err := s.keys.Get(ctx, keyID); err != nil {
		return serviceError("Failed to compute usage", err)
	}

	stats, err := s.ledger.Stats(ctx, keyID, window)
	if err != nil {
		return serviceError("Failed to compute usage", err)
	}
	return successJSON(stats)
}

func (s *MCPServer) handleCheckQuota(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	keyID, err := requireString(request, "key_id")
	if err != nil {
		return toolError("%v", err)
	}
	within, detail, err := s.quota.Peek(ctx, keyID)
	if err != nil {
		return serviceError("Failed to check quota", err)
	}
	return successJSON(map[string]interface{}{
		"within_quota": within,
		"key_id":       detail.KeyID,
		"daily":        detail.Daily,
		"monthly":      detail.Monthly,
	})
}

func (s *MCPServer) handleDisableKey(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	keyID, err := requireString(request, "key_id")
	if err != nil {
		return toolError("%v", err)
	}
	if _, err := s.keys.Get(ctx, keyID); err != nil {
		return serviceError("Failed to disable key", err)
	}
	changed, err := s.keys.Disable(ctx, keyID)
	if err != nil {
		return serviceError("Failed to disable key", err)
	}
	s.logger.Info("api key disabled via MCP", "key_id", keyID, "changed", changed)
	if s.audit != nil {
		err := s.audit.Record(context.WithoutCancel(ctx), model.AuditEntry{
			Method:      "MCP",
			Path:        request.Params.Name,
			Action:      model.AuditDisableKey,
			KeyAffected: keyID,
			Details:     json.RawMessage(fmt.Sprintf(`{"changed":%t}`, changed)),
		})
		if err != nil {
			s.logger.Error("agent action not audited", "key_id", keyID, "error", err)
		}
	}
	return successJSON(map[string]interface{}{
		"key_id":   keyID,
		"disabled": changed,
	})
}
