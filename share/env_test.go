package mxshare

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func readFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	return string(b), err
}

func TestEnvFallbackOrder(t *testing.T) {
	t.Setenv("MX_A", "")
	t.Setenv("MX_B", "  second ")
	require.Equal(t, "second", EnvString("def", "MX_A", "MX_B"))
	require.Equal(t, "def", EnvString("def", "MX_A"))

	t.Setenv("MX_A", "first")
	require.Equal(t, "first", EnvString("def", "MX_A", "MX_B"))
}

func TestEnvTypedValues(t *testing.T) {
	t.Setenv("MX_INT", "8080")
	t.Setenv("MX_BOOL", "false")
	t.Setenv("MX_DUR", "250ms")
	t.Setenv("MX_BAD", "x")

	n, err := EnvInt(1, "MX_INT")
	require.NoError(t, err)
	require.Equal(t, 8080, n)
	n, err = EnvInt(1, "MX_UNSET_INT")
	require.NoError(t, err)
	require.Equal(t, 1, n)
	_, err = EnvInt(1, "MX_BAD")
	require.Error(t, err)

	b, err := EnvBool(true, "MX_BOOL")
	require.NoError(t, err)
	require.False(t, b)
	_, err = EnvBool(true, "MX_BAD")
	require.Error(t, err)

	d, err := EnvDuration(time.Second, "MX_DUR")
	require.NoError(t, err)
	require.Equal(t, 250*time.Millisecond, d)
	_, err = EnvDuration(time.Second, "MX_BAD")
	require.Error(t, err)
}
