package connector

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComparison(t *testing.T) {
	t.Parallel()

	c := NewComparison().
		Field("public", "false", "true").
		Field("file_size_limit", "100", "100").
		Field("allowed_mime_types", "image/png", "")

	require.True(t, c.Drifted())
	require.True(t, c.Has("public"))
	require.False(t, c.Has("file_size_limit"))
	require.Equal(t, []string{"allowed_mime_types", "public"}, c.Mismatched())
	require.Equal(t, "allowed_mime_types, public differ", c.Summary())
	require.Contains(t, c.Diff(), "-public: false")
	require.Contains(t, c.Diff(), "+public: true")

	clean := NewComparison().Field("color", "ff0000", "ff0000")
	require.False(t, clean.Drifted())
	require.Empty(t, clean.Diff())
	require.Equal(t, "matches desired state", clean.Summary())
}
