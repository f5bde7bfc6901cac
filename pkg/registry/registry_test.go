package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docker/metamcp-gateway/pkg/catalog"
)

func TestSearchServersRanksExactMatchAboveSubstring(t *testing.T) {
	c := NewInMemoryCatalog()
	c.AddServer(catalog.ServerConfig{UUID: "1", Name: "math"})
	c.AddServer(catalog.ServerConfig{UUID: "2", Name: "math-advanced"})

	matches, err := c.SearchServers(context.Background(), "math", 10)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "math", matches[0].Name, "exact match must rank first")
}

func TestSearchServersRespectsLimit(t *testing.T) {
	c := NewInMemoryCatalog()
	for i := 0; i < 5; i++ {
		c.AddServer(catalog.ServerConfig{UUID: string(rune('a' + i)), Name: "server" + string(rune('a'+i))})
	}

	matches, err := c.SearchServers(context.Background(), "server", 2)
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestFindServerReportsMissing(t *testing.T) {
	c := NewInMemoryCatalog()
	_, found, err := c.FindServer(context.Background(), "ghost")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMembershipAddIsIdempotent(t *testing.T) {
	c := NewInMemoryCatalog()
	m := catalog.Membership{NamespaceUUID: "ns-1", ServerUUID: "srv-1", Status: catalog.MembershipActive}

	require.NoError(t, c.Add(context.Background(), m))
	require.NoError(t, c.Add(context.Background(), m))

	members, err := c.ListForNamespace(context.Background(), "ns-1")
	require.NoError(t, err)
	assert.Len(t, members, 1)
}

func TestMembershipRemoveOnlyDropsNamedServer(t *testing.T) {
	c := NewInMemoryCatalog()
	ctx := context.Background()
	require.NoError(t, c.Add(ctx, catalog.Membership{NamespaceUUID: "ns-1", ServerUUID: "srv-1"}))
	require.NoError(t, c.Add(ctx, catalog.Membership{NamespaceUUID: "ns-1", ServerUUID: "srv-2"}))

	require.NoError(t, c.Remove(ctx, "ns-1", "srv-1"))

	members, err := c.ListForNamespace(ctx, "ns-1")
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "srv-2", members[0].ServerUUID)
}
