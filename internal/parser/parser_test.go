package parser

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()

	p, err := New(" TopCV ", "https://www.topcv.vn/viec-lam-it")
	require.NoError(t, err)
	require.NotNil(t, p)

	_, err = New("vietnamworks", "https://www.vietnamworks.com")
	require.ErrorContains(t, err, "unsupported site")

	_, err = New("topcv", "://bad")
	require.Error(t, err)
}

func TestSupported(t *testing.T) {
	t.Parallel()

	require.True(t, Supported("topcv"))
	require.False(t, Supported(""))
	require.Equal(t, []string{"topcv"}, Sites())
}
