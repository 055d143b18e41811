package browser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFindChromeBinaryFailsDiagnosticallyWhenAbsent(t *testing.T) {
	// In a CI/container environment with no browser installed, every
	// candidate path is absent; FindChromeBinary must fail with a
	// Configuration error rather than panic or hang.
	_, err := FindChromeBinary()
	if err == nil {
		t.Skip("a Chromium binary is installed in this environment")
	}
	require.Error(t, err)
}

func TestJSStringEscapesQuotesAndBackslashes(t *testing.T) {
	require.Equal(t, `"it\"s"`, jsString(`it"s`))
	require.Equal(t, `"back\\slash"`, jsString(`back\slash`))
}

func TestCleanupStaleLockRemovesLockFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "SingletonSocket"), nil, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "SingletonCookie"), nil, 0o600))

	cleanupStaleLock(dir)

	_, err := os.Stat(filepath.Join(dir, "SingletonSocket"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "SingletonCookie"))
	require.True(t, os.IsNotExist(err))
}

func TestCleanupStaleLockToleratesMissingLock(t *testing.T) {
	dir := t.TempDir()
	require.NotPanics(t, func() { cleanupStaleLock(dir) })
}
