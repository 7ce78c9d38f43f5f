package app

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRefreshTestMode(t *testing.T) {
	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	require.True(t, InTestMode())

	t.Setenv(testModeEnv, "0")
	RefreshTestMode()
	require.False(t, InTestMode())

	// Anything other than "1" leaves test mode off.
	t.Setenv(testModeEnv, "true")
	RefreshTestMode()
	require.False(t, InTestMode())
}
