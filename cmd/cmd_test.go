package cmd

import (
	"bytes"
	"chat-autopilot/internal/browser/snapshot/snapshottest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)

	err := root.Execute()

	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "autopilot dev")
}

func TestProbeCommand(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")

	page := filepath.Join(t.TempDir(), "auth.html")
	require.NoError(t, os.WriteFile(page, []byte(snapshottest.AuthPage), 0o600))

	out, err := execute(t, "probe", "--html", page, "--url", "https://www.mamba.ru/auth")
	require.NoError(t, err)

	assert.Contains(t, out, `login_input`)
	assert.Contains(t, out, `attribute input[name="login"]`)
	assert.Contains(t, out, "Phase at https://www.mamba.ru/auth: unauthenticated")
}

func TestProbeRequiresHTML(t *testing.T) {
	_, err := execute(t, "probe")
	assert.Error(t, err)
}

func TestHistoryWithoutStore(t *testing.T) {
	t.Setenv("SESSION_STORE_PATH", "")

	_, err := execute(t, "history")
	assert.ErrorContains(t, err, "SESSION_STORE_PATH")
}

func TestExitCodeError(t *testing.T) {
	assert.Equal(t, "exit status 1", exitCode(1).Error())
}
