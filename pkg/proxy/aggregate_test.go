package proxy

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient is an in-memory BackendClient stand-in; no pagination, no
// network, just enough surface for Aggregator's tests.
type fakeClient struct {
	name      string
	tools     []Tool
	listErr   error
	nameErr   error
	calls     []string
	callResp  CallResult
	callErr   error
	prompts   []string
	promptTxt map[string]string
	resources []Resource
	resourceTxt map[string]string
}

func (f *fakeClient) ServerName(ctx context.Context) (string, error) {
	if f.nameErr != nil {
		return "", f.nameErr
	}
	return f.name, nil
}

func (f *fakeClient) ListTools(ctx context.Context, cursor string) ([]Tool, string, error) {
	if f.listErr != nil {
		return nil, "", f.listErr
	}
	return f.tools, "", nil
}

func (f *fakeClient) CallTool(ctx context.Context, name string, arguments any) (CallResult, error) {
	f.calls = append(f.calls, name)
	if f.callErr != nil {
		return CallResult{}, f.callErr
	}
	return f.callResp, nil
}

func (f *fakeClient) ListPrompts(ctx context.Context, cursor string) ([]string, string, error) {
	return f.prompts, "", nil
}
func (f *fakeClient) GetPrompt(ctx context.Context, name string) (string, error) {
	return f.promptTxt[name], nil
}
func (f *fakeClient) ListResources(ctx context.Context, cursor string) ([]Resource, string, error) {
	return f.resources, "", nil
}
func (f *fakeClient) ReadResource(ctx context.Context, uri string) (string, string, error) {
	return f.resourceTxt[uri], "text/plain", nil
}
func (f *fakeClient) ListResourceTemplates(ctx context.Context, cursor string) ([]string, string, error) {
	return nil, "", nil
}

type fixedResolver struct {
	backends []Backend
}

func (r *fixedResolver) BackendsForNamespace(ctx context.Context, namespaceUUID string) ([]Backend, error) {
	return r.backends, nil
}

// TestE1NameManglingThroughAggregator exercises the literal E1 scenario end
// to end: two backends named "math" and "weather!" each expose "add"/"now";
// the merged list surfaces "math__add" and "weather__now".
func TestE1NameManglingThroughAggregator(t *testing.T) {
	mathClient := &fakeClient{name: "math", tools: []Tool{{Name: "add"}}}
	weatherClient := &fakeClient{name: "weather!", tools: []Tool{{Name: "now"}}}

	resolver := &fixedResolver{backends: []Backend{
		{UUID: "A", ConfiguredName: "math", Client: mathClient},
		{UUID: "B", ConfiguredName: "weather!", Client: weatherClient},
	}}

	agg := NewAggregator(resolver, nil)
	summaries, err := agg.ListTools(context.Background(), "N")
	require.NoError(t, err)

	var names []string
	for _, s := range summaries {
		names = append(names, s.MangledName)
	}
	assert.ElementsMatch(t, []string{"math__add", "weather__now"}, names)
}

// TestProperty5OneBackendFailingDoesNotDropOthers is Testable Property 5:
// a failure on one backend's tools/list must not remove healthy backends'
// tools from the merged result, nor fail the aggregation.
func TestProperty5OneBackendFailingDoesNotDropOthers(t *testing.T) {
	healthy := &fakeClient{name: "math", tools: []Tool{{Name: "add"}, {Name: "sub"}}}
	broken := &fakeClient{name: "broken", listErr: fmt.Errorf("backend unreachable")}

	resolver := &fixedResolver{backends: []Backend{
		{UUID: "A", ConfiguredName: "math", Client: healthy},
		{UUID: "B", ConfiguredName: "broken", Client: broken},
	}}

	agg := NewAggregator(resolver, nil)
	summaries, err := agg.ListTools(context.Background(), "N")
	require.NoError(t, err)

	var names []string
	for _, s := range summaries {
		names = append(names, s.MangledName)
	}
	assert.ElementsMatch(t, []string{"math__add", "math__sub"}, names)
}

// TestCallToolRoutesToBackendAfterList verifies a call is dispatched to the
// correct backend's original (unmangled) tool name once routing has been
// populated by a prior ListTools.
func TestCallToolRoutesToBackendAfterList(t *testing.T) {
	mathClient := &fakeClient{name: "math", tools: []Tool{{Name: "add"}}, callResp: CallResult{Content: []Content{{Type: "text", Text: "3"}}}}
	resolver := &fixedResolver{backends: []Backend{{UUID: "A", ConfiguredName: "math", Client: mathClient}}}

	agg := NewAggregator(resolver, nil)
	_, err := agg.ListTools(context.Background(), "N")
	require.NoError(t, err)

	result, err := agg.CallTool(context.Background(), "N", "math__add", map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"add"}, mathClient.calls)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "3", result.Content[0].Text)
}

// TestCallToolRediscoversWhenRoutingMissesAndExactlyOneConnectedClient is
// the literal E4 scenario adapted to the aggregator: a call arrives before
// any tools/list has populated routing; the aggregator must re-probe the
// named backend exactly once and still dispatch correctly, never fanning
// out to every backend in the namespace.
func TestCallToolRediscoversWhenRoutingMissesAndExactlyOneConnectedClient(t *testing.T) {
	mathClient := &fakeClient{name: "math", tools: []Tool{{Name: "add"}}, callResp: CallResult{Content: []Content{{Type: "text", Text: "3"}}}}
	otherClient := &fakeClient{name: "other", tools: []Tool{{Name: "noop"}}}

	resolver := &fixedResolver{backends: []Backend{
		{UUID: "A", ConfiguredName: "math", Client: mathClient},
		{UUID: "B", ConfiguredName: "other", Client: otherClient},
	}}

	agg := NewAggregator(resolver, nil)
	result, err := agg.CallTool(context.Background(), "N", "math__add", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"add"}, mathClient.calls)
	assert.Empty(t, otherClient.calls)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "3", result.Content[0].Text)

	backend, ok := agg.routing.LookupTool("math__add")
	require.True(t, ok)
	assert.Equal(t, "A", backend.UUID)
}

func TestCallToolUnknownBackendReturnsError(t *testing.T) {
	resolver := &fixedResolver{backends: nil}
	agg := NewAggregator(resolver, nil)
	_, err := agg.CallTool(context.Background(), "N", "ghost__tool", nil)
	assert.Error(t, err)
}

// TestSelfReferenceGuardExcludesOwnInstance ensures a namespace wired with
// itself as a backend (via a live ServerName match) contributes no tools
// and does not error the whole fan-out.
func TestSelfReferenceGuardExcludesOwnInstance(t *testing.T) {
	selfClient := &fakeClient{name: InstanceServerName("N"), tools: []Tool{{Name: "should-not-appear"}}}
	otherClient := &fakeClient{name: "math", tools: []Tool{{Name: "add"}}}

	resolver := &fixedResolver{backends: []Backend{
		{UUID: "self", ConfiguredName: "metamcp-unified-N", Client: selfClient},
		{UUID: "A", ConfiguredName: "math", Client: otherClient},
	}}

	agg := NewAggregator(resolver, nil)
	summaries, err := agg.ListTools(context.Background(), "N")
	require.NoError(t, err)

	var names []string
	for _, s := range summaries {
		names = append(names, s.MangledName)
	}
	assert.Equal(t, []string{"math__add"}, names)
}

func TestListPromptsManglesNamesLikeTools(t *testing.T) {
	client := &fakeClient{name: "math", prompts: []string{"explain"}, promptTxt: map[string]string{"explain": "hi"}}
	resolver := &fixedResolver{backends: []Backend{{UUID: "A", ConfiguredName: "math", Client: client}}}

	agg := NewAggregator(resolver, nil)
	summaries, err := agg.ListPrompts(context.Background(), "N")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "math__explain", summaries[0].MangledName)
}

func TestGetPromptRoutesThroughPromptTable(t *testing.T) {
	client := &fakeClient{name: "math", prompts: []string{"explain"}, promptTxt: map[string]string{"explain": "hi there"}}
	resolver := &fixedResolver{backends: []Backend{{UUID: "A", ConfiguredName: "math", Client: client}}}

	agg := NewAggregator(resolver, nil)
	_, err := agg.ListPrompts(context.Background(), "N")
	require.NoError(t, err)

	text, err := agg.GetPrompt(context.Background(), "N", "math__explain")
	require.NoError(t, err)
	assert.Equal(t, "hi there", text)
}

func TestListResourcesAndReadResourceRouteByURI(t *testing.T) {
	client := &fakeClient{
		name:        "math",
		resources:   []Resource{{URI: "mem://math/notes", Name: "notes"}},
		resourceTxt: map[string]string{"mem://math/notes": "some notes"},
	}
	resolver := &fixedResolver{backends: []Backend{{UUID: "A", ConfiguredName: "math", Client: client}}}

	agg := NewAggregator(resolver, nil)
	summaries, err := agg.ListResources(context.Background(), "N")
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "mem://math/notes", summaries[0].URI)

	text, mime, err := agg.ReadResource(context.Background(), "N", "mem://math/notes")
	require.NoError(t, err)
	assert.Equal(t, "some notes", text)
	assert.Equal(t, "text/plain", mime)
}

func TestReadResourceRediscoversWhenRoutingTableEmpty(t *testing.T) {
	client := &fakeClient{
		name:        "math",
		resources:   []Resource{{URI: "mem://math/notes", Name: "notes"}},
		resourceTxt: map[string]string{"mem://math/notes": "some notes"},
	}
	resolver := &fixedResolver{backends: []Backend{{UUID: "A", ConfiguredName: "math", Client: client}}}

	agg := NewAggregator(resolver, nil)
	text, _, err := agg.ReadResource(context.Background(), "N", "mem://math/notes")
	require.NoError(t, err)
	assert.Equal(t, "some notes", text)
}
