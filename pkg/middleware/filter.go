package middleware

import (
	"context"

	"github.com/docker/metamcp-gateway/pkg/catalog"
	"github.com/docker/metamcp-gateway/pkg/proxy"
)

// OverrideLookup resolves every Tool Override row for a namespace.
// Implementations typically read from the catalog store, cached behind a
// NamespaceCache by FilterTools/ToolOverrides so repeated requests for the
// same namespace don't re-hit the store.
type OverrideLookup interface {
	OverridesForNamespace(ctx context.Context, namespaceUUID string) ([]catalog.ToolOverride, error)
}

// resolvedOverrides is the per-namespace cached lookup table: mangled
// original name -> override row.
type resolvedOverrides map[string]catalog.ToolOverride

// OverridesCache is the concrete cache type ToolOverrides/FilterTools
// share; callers outside this package construct one with NewOverridesCache
// since resolvedOverrides itself isn't exported.
type OverridesCache = NamespaceCache[resolvedOverrides]

// NewOverridesCache constructs the cache ToolOverrides and FilterTools
// expect. Callers typically build two (one per middleware) so a namespace's
// overrides and filter checks invalidate independently.
func NewOverridesCache(disableCache bool) *OverridesCache {
	return NewNamespaceCache[resolvedOverrides](disableCache)
}

func resolve(ctx context.Context, lookup OverrideLookup, cache *NamespaceCache[resolvedOverrides], namespaceUUID string) (resolvedOverrides, error) {
	if cached, ok := cache.Get(namespaceUUID); ok {
		return cached, nil
	}

	rows, err := lookup.OverridesForNamespace(ctx, namespaceUUID)
	if err != nil {
		return nil, err
	}

	table := make(resolvedOverrides, len(rows))
	for _, o := range rows {
		table[proxy.Mangle(o.ServerName, o.OriginalName)] = o
	}

	cache.Set(namespaceUUID, table)
	return table, nil
}

// FilterTools builds the Filter-Tools middleware pair (spec.md §4.3 #1):
// listTools drops tools whose override has enabled=false; callTool
// short-circuits disabled targets with a structured error result.
//
// deniedMessage formats the human-readable denial text; E3 uses
// `Access denied to tool "<name>": <reason>`.
func FilterTools(lookup OverrideLookup, cache *NamespaceCache[resolvedOverrides], deniedMessage func(mangledName string) string) (ListToolsMiddleware, CallToolMiddleware) {
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

			filtered := result.Tools[:0]
			for _, t := range result.Tools {
				if o, ok := table[t.MangledName]; ok && !o.Enabled {
					continue
				}
				filtered = append(filtered, t)
			}
			result.Tools = filtered
			return result, nil
		}
	}

	callMw := func(next CallToolHandler) CallToolHandler {
		return func(ctx context.Context, req CallToolRequest) (CallToolResult, error) {
			table, err := resolve(ctx, lookup, cache, req.NamespaceUUID)
			if err != nil {
				return CallToolResult{}, err
			}

			if o, found := table[req.MangledName]; found && !o.Enabled {
				return errorResult(deniedMessage(req.MangledName)), nil
			}
			return next(ctx, req)
		}
	}

	return listMw, callMw
}
