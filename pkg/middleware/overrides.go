package middleware

import (
	"context"

	"github.com/docker/metamcp-gateway/pkg/proxy"
)

// ToolOverrides builds the Tool-Overrides middleware pair (spec.md §4.3
// #2): listTools renames sanitize(server)__<original> ->
// sanitize(server)__<override_name> (and overrides description when
// configured); callTool maps a possibly-overridden name back to its
// original before routing.
//
// Composition order matters: ToolOverrides must be the OUTERMOST
// middleware relative to FilterTools (added to the Chain before it) so
// that, on the call path, the override name is translated back to the
// original name before FilterTools checks the enabled flag (which is
// keyed by original name); on the list path the raw merged list is
// filtered by FilterTools first (inner), then renamed for display by
// ToolOverrides last (outer) on the way back out.
func ToolOverrides(lookup OverrideLookup, cache *NamespaceCache[resolvedOverrides]) (ListToolsMiddleware, CallToolMiddleware) {
	listMw := func(next ListToolsHandler) ListToolsHandler {
		return func(ctx context.Context, req ListToolsRequest) (ListToolsResult, error) {
			result, err := next(ctx, req)
			if err != nil {
				return result, err
			}

			table, err := resolve(ctx, lookup, cache, req.NamespaceUUID)
			if err != nil {
				return result, err
			}

			for i, t := range result.Tools {
				o, ok := table[t.MangledName]
				if !ok {
					continue
				}
				if o.OverrideName != "" {
					result.Tools[i].MangledName = proxy.Mangle(t.ServerName, o.OverrideName)
				}
				if o.DescriptionOverride != "" {
					result.Tools[i].Description = o.DescriptionOverride
				}
			}
			return result, nil
		}
	}

	// reverseIndex maps an override's display mangled name back to the
	// original, so callTool can undo the rename before FilterTools/dispatch
	// ever sees it.
	reverseIndex := func(table resolvedOverrides) map[string]string {
		rev := make(map[string]string, len(table))
		for originalMangled, o := range table {
			if o.OverrideName == "" {
				continue
			}
			rev[proxy.Mangle(o.ServerName, o.OverrideName)] = originalMangled
		}
		return rev
	}

	callMw := func(next CallToolHandler) CallToolHandler {
		return func(ctx context.Context, req CallToolRequest) (CallToolResult, error) {
			table, err := resolve(ctx, lookup, cache, req.NamespaceUUID)
			if err != nil {
				return CallToolResult{}, err
			}

			if original, ok := reverseIndex(table)[req.MangledName]; ok {
				req.MangledName = original
			}
			return next(ctx, req)
		}
	}

	return listMw, callMw
}
