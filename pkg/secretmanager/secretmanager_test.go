package secretmanager

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProvideVault_Disabled(t *testing.T) {
	t.Setenv("VAULT_ADDR", "")
	client, err := ProvideVault()
	require.NoError(t, err)
	require.Nil(t, client)
}

func TestProvideVault_Enabled(t *testing.T) {
	t.Setenv("VAULT_ADDR", "http://127.0.0.1:8200")
	t.Setenv("VAULT_TOKEN", "test")
	client, err := ProvideVault()
	require.NoError(t, err)
	require.NotNil(t, client)
}
