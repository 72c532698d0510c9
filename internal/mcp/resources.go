package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/quotagate/quotagate/internal/model"
)

const (
	keysURI        = "quotagate://keys"
	usageURIPrefix = "quotagate://usage/"
)

// registerResources adds MCP resource definitions to the server. Resources
// provide read-only data that LLM clients can load into their context.
func (s *MCPServer) registerResources(srv *server.MCPServer) {

	// -------------------------------------------------------------------
	// quotagate://keys: all keys, without secrets
	// -------------------------------------------------------------------
	srv.AddResource(
		mcp.NewResource(
			keysURI,
			"API Keys",
			mcp.WithResourceDescription(
				"All API keys with quotas, expiry and enabled state. Secret hashes are omitted.",
			),
			mcp.WithMIMEType("application/json"),
		),
		s.handleKeysResource,
	)

	// -------------------------------------------------------------------
	// quotagate://usage/{key_id}: trailing-month usage for one key
	// -------------------------------------------------------------------
	srv.AddResourceTemplate(
		mcp.NewResourceTemplate(
			usageURIPrefix+"{key_id}",
			"Key Usage",
			mcp.WithTemplateDescription(
				"Trailing-month usage statistics for one key, including top endpoints by cost.",
			),
			mcp.WithTemplateMIMEType("application/json"),
		),
		s.handleUsageResource,
	)
}

func (s *MCPServer) handleKeysResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	keys, err := s.keys.List(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	return jsonContents(keysURI, keys)
}

func (s *MCPServer) handleUsageResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	uri := request.Params.URI
	keyID := strings.TrimPrefix(uri, usageURIPrefix)
	if keyID == "" || keyID == uri {
		return nil, fmt.Errorf("invalid usage URI %q: expected %s{key_id}", uri, usageURIPrefix)
	}
	if _, err := s.keys.Get(ctx, keyID); err != nil {
		return nil, fmt.Errorf("key %q: %w", keyID, err)
	}

	stats, err := s.ledger.Stats(ctx, keyID, model.WindowTrailingMonth)
	if err != nil {
		return nil, fmt.Errorf("failed to compute usage for %q: %w", keyID, err)
	}
	return jsonContents(uri, stats)
}

func jsonContents(uri string, v interface{}) ([]mcp.ResourceContents, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}
