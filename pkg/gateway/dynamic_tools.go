package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/docker/metamcp-gateway/pkg/catalog"
	"github.com/docker/metamcp-gateway/pkg/registry"
)

// DynamicTools implements the namespace-scoped catalog-management tools
// spec.md §11 carries forward from the teacher's mcp-find/mcp-add/
// mcp-remove (pkg/gateway/dynamic_mcps.go), generalized from a single
// global server list to one namespace's catalog.Membership rows. Adding
// or removing a membership immediately triggers a Refresh so the
// namespace's tool set reflects the change without waiting for the next
// scheduled reload.
type DynamicTools struct {
	namespaceUUID string
	catalog       registry.Catalog
	memberships   registry.Memberships
	endpoint      *NamespaceEndpoint
}

func NewDynamicTools(namespaceUUID string, cat registry.Catalog, memberships registry.Memberships, endpoint *NamespaceEndpoint) *DynamicTools {
	return &DynamicTools{
		namespaceUUID: namespaceUUID,
		catalog:       cat,
		memberships:   memberships,
		endpoint:      endpoint,
	}
}

// Register adds the three dynamic tools directly to the endpoint's
// *mcp.Server, outside the mangled backend-tool set Refresh manages, so
// they survive every Refresh's remove-then-add cycle untouched.
func (dt *DynamicTools) Register() {
	dt.endpoint.server.AddTool(dt.findToolDef(), dt.findHandler)
	dt.endpoint.server.AddTool(dt.addToolDef(), dt.addHandler)
	dt.endpoint.server.AddTool(dt.removeToolDef(), dt.removeHandler)
}

func (dt *DynamicTools) findToolDef() *mcp.Tool {
	return &mcp.Tool{
		Name:        "mcp-find",
		Description: "Find MCP servers in the catalog by name. Returns matching servers not yet members of this namespace as well as current members.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"query": {Type: "string", Description: "Search query to match against server names (case-insensitive)"},
				"limit": {Type: "integer", Description: "Maximum number of results to return (default: 10)"},
			},
			Required: []string{"query"},
		},
	}
}

func (dt *DynamicTools) findHandler(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params struct {
		Query string `json:"query"`
		Limit int    `json:"limit"`
	}
	if err := unmarshalParams(req, &params); err != nil {
		return nil, err
	}

	matches, err := dt.catalog.SearchServers(ctx, params.Query, params.Limit)
	if err != nil {
		return nil, fmt.Errorf("mcp-find: %w", err)
	}
	if len(matches) == 0 {
		return textResult(fmt.Sprintf("No servers found matching %q.", params.Query)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d server(s):\n", len(matches))
	for _, s := range matches {
		fmt.Fprintf(&sb, "- %s", s.Name)
		if s.Spec.Image != "" {
			fmt.Fprintf(&sb, " (image: %s)", s.Spec.Image)
		}
		sb.WriteString("\n")
	}
	return textResult(sb.String()), nil
}

func (dt *DynamicTools) addToolDef() *mcp.Tool {
	return &mcp.Tool{
		Name:        "mcp-add",
		Description: "Add an MCP server from the catalog as a member of this namespace. The server must already exist in the catalog.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"name": {Type: "string", Description: "Name of the catalog server to add"},
			},
			Required: []string{"name"},
		},
	}
}

func (dt *DynamicTools) addHandler(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params struct {
		Name string `json:"name"`
	}
	if err := unmarshalParams(req, &params); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(params.Name)
	if name == "" {
		return nil, fmt.Errorf("mcp-add: name parameter is required")
	}

	server, found, err := dt.catalog.FindServer(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("mcp-add: %w", err)
	}
	if !found {
		return textResult(fmt.Sprintf("Error: server %q not found in catalog. Use mcp-find to search for available servers.", name)), nil
	}

	if err := dt.memberships.Add(ctx, catalog.Membership{
		NamespaceUUID: dt.namespaceUUID,
		ServerUUID:    server.UUID,
		Status:        catalog.MembershipActive,
	}); err != nil {
		return nil, fmt.Errorf("mcp-add: recording membership: %w", err)
	}

	if err := dt.endpoint.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("mcp-add: refreshing namespace after adding %q: %w", name, err)
	}

	return textResult(fmt.Sprintf("Successfully added server %q to this namespace.", name)), nil
}

func (dt *DynamicTools) removeToolDef() *mcp.Tool {
	return &mcp.Tool{
		Name:        "mcp-remove",
		Description: "Remove an MCP server from this namespace's membership.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"name": {Type: "string", Description: "Name of the catalog server to remove"},
			},
			Required: []string{"name"},
		},
	}
}

func (dt *DynamicTools) removeHandler(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params struct {
		Name string `json:"name"`
	}
	if err := unmarshalParams(req, &params); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(params.Name)
	if name == "" {
		return nil, fmt.Errorf("mcp-remove: name parameter is required")
	}

	server, found, err := dt.catalog.FindServer(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("mcp-remove: %w", err)
	}
	if !found {
		return textResult(fmt.Sprintf("Error: server %q not found in catalog.", name)), nil
	}

	if err := dt.memberships.Remove(ctx, dt.namespaceUUID, server.UUID); err != nil {
		return nil, fmt.Errorf("mcp-remove: %w", err)
	}

	if err := dt.endpoint.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("mcp-remove: refreshing namespace after removing %q: %w", name, err)
	}

	return textResult(fmt.Sprintf("Successfully removed server %q from this namespace.", name)), nil
}

// unmarshalParams decodes a tool call's arguments into dst, matching the
// teacher's marshal-then-unmarshal parameter parsing
// (pkg/gateway/dynamic_mcps.go's createMcpAddTool/createMcpRemoveTool).
func unmarshalParams(req *mcp.CallToolRequest, dst any) error {
	if req.Params == nil || req.Params.Arguments == nil {
		return fmt.Errorf("missing arguments")
	}
	raw, err := json.Marshal(req.Params.Arguments)
	if err != nil {
		return fmt.Errorf("failed to marshal arguments: %w", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("failed to parse arguments: %w", err)
	}
	return nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}
