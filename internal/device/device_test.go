package device_test

import (
	"testing"

	"github.com/opt-outta/engine/internal/device"
	"github.com/stretchr/testify/require"
)

func TestIDIsStableAndHexEncoded(t *testing.T) {
	a := device.ID()
	b := device.ID()
	require.Equal(t, a, b)
	require.Len(t, a, 64) // sha256 hex digest
}
