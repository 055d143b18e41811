package secrets_test

import (
	"testing"

	"github.com/zalando/go-keyring"

	"github.com/opt-outta/engine/internal/secrets"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	keyring.MockInit()
	m.Run()
}

func TestGetFailsBeforeLoad(t *testing.T) {
	c := secrets.New()
	_, err := c.Get()
	require.Error(t, err)
}

func TestLoadGeneratesKeyOnFirstRun(t *testing.T) {
	c := secrets.New()
	require.NoError(t, c.Load())

	key, err := c.Get()
	require.NoError(t, err)
	require.NotZero(t, key)
}

func TestLoadIsIdempotent(t *testing.T) {
	c := secrets.New()
	require.NoError(t, c.Load())
	first, err := c.Get()
	require.NoError(t, err)

	require.NoError(t, c.Load())
	second, err := c.Get()
	require.NoError(t, err)

	require.Equal(t, first, second)
}
