package proxy

import "sync"

// RoutingTable holds the tool_name/prompt_name/resource_uri -> backend
// mappings populated during each tools/list or prompts/list fan-out
// (spec.md §4.2). It is rebuilt wholesale on each successful list and
// consulted (then lazily repaired) on every call.
type RoutingTable struct {
	mu sync.RWMutex

	toolToBackend     map[string]Backend // mangled tool name -> backend
	toolToServerUUID  map[string]string
	promptToBackend   map[string]Backend
	resourceToBackend map[string]Backend
}

func NewRoutingTable() *RoutingTable {
	return &RoutingTable{
		toolToBackend:     make(map[string]Backend),
		toolToServerUUID:  make(map[string]string),
		promptToBackend:   make(map[string]Backend),
		resourceToBackend: make(map[string]Backend),
	}
}

// ReplaceTools atomically swaps in a freshly computed tool routing table.
func (r *RoutingTable) ReplaceTools(entries map[string]Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toolToBackend = entries
	r.toolToServerUUID = make(map[string]string, len(entries))
	for name, b := range entries {
		r.toolToServerUUID[name] = b.UUID
	}
}

// ReplacePrompts/ReplaceResources mirror ReplaceTools for the other two
// routing tables.
func (r *RoutingTable) ReplacePrompts(entries map[string]Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.promptToBackend = entries
}

func (r *RoutingTable) ReplaceResources(entries map[string]Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resourceToBackend = entries
}

// LookupTool returns the backend registered for a mangled tool name.
func (r *RoutingTable) LookupTool(mangledName string) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.toolToBackend[mangledName]
	return b, ok
}

// CacheTool inserts a single resolved mapping, used by the dynamic
// rediscovery path (§4.2) so subsequent calls skip the re-scan.
func (r *RoutingTable) CacheTool(mangledName string, backend Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toolToBackend[mangledName] = backend
	r.toolToServerUUID[mangledName] = backend.UUID
}

func (r *RoutingTable) LookupPrompt(name string) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.promptToBackend[name]
	return b, ok
}

// CachePrompt inserts a single resolved mapping, mirroring CacheTool for
// the prompt routing table's dynamic rediscovery path.
func (r *RoutingTable) CachePrompt(mangledName string, backend Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.promptToBackend[mangledName] = backend
}

func (r *RoutingTable) LookupResource(uri string) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.resourceToBackend[uri]
	return b, ok
}

// CacheResource inserts a single resolved uri->backend mapping, used by
// the dynamic rediscovery path so subsequent reads skip the re-scan.
func (r *RoutingTable) CacheResource(uri string, backend Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resourceToBackend[uri] = backend
}
