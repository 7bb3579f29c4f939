package rbac

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePermission(t *testing.T) {
	require.True(t, ParsePermission(" * ").IsWildcard())
	p := ParsePermission("doorlock:devices:read")
	require.False(t, p.IsWildcard())
	require.Equal(t, "doorlock:devices:read", p.String())
}

func TestPermissionSetExactMatchOnly(t *testing.T) {
	set := NewPermissionSet("doorlock:cards:read", "")
	require.True(t, set.Has("doorlock:cards:read"))
	require.False(t, set.Has("doorlock:cards"))
	require.False(t, set.Has("doorlock:cards:*"))
	require.False(t, set.IsEmpty())

	var empty PermissionSet
	require.True(t, empty.IsEmpty())
	require.False(t, empty.Has("x"))
}

func TestPermissionSetUnionKeepsWildcard(t *testing.T) {
	set := NewPermissionSet("a")
	set.Union(NewPermissionSet("*"))
	require.True(t, set.Has("b"))
	require.Equal(t, []string{"*", "a"}, set.Strings())
}
