package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetConfigFromEnv(t *testing.T) {
	t.Setenv("TARGET_LOGIN", "user@example.com")
	t.Setenv("TARGET_PASSWORD", "secret")
	t.Setenv("TIMING_ELEMENT_TIMEOUT", "3s")
	t.Setenv("LOCALE_SEND_LABELS", " Send , ,Send,Отправить")
	t.Setenv("BROWSER_ENGINE", EngineChromedp)

	cfg, err := GetConfig()
	require.NoError(t, err)

	assert.Equal(t, 3*time.Second, cfg.TimingConfig.ElementTimeout)
	assert.Equal(t, 30*time.Second, cfg.TimingConfig.NavigationTimeout)
	assert.Equal(t, []string{"Send", "Отправить"}, cfg.LocaleConfig.SendLabels)
	assert.Equal(t, EngineChromedp, cfg.BrowserConfig.Engine)
	assert.Equal(t, 10, cfg.TimingConfig.DialogScanLimit)
	assert.True(t, cfg.SessionConfig.PersistCookies)
}

func TestGetConfigRequiresCredentials(t *testing.T) {
	t.Setenv("TARGET_LOGIN", "")
	t.Setenv("TARGET_PASSWORD", "")

	_, err := GetConfig()
	require.Error(t, err)
	assert.ErrorContains(t, err, "TARGET_LOGIN is required")
	assert.ErrorContains(t, err, "TARGET_PASSWORD is required")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.TargetConfig.Login)
}

func TestValidateStatic(t *testing.T) {
	t.Setenv("TARGET_CONVERSATION_URL_PATTERN", "/chats/(")
	t.Setenv("TIMING_POLL_INTERVAL", "0s")
	t.Setenv("TIMING_BACKOFF_FACTOR", "0.5")
	t.Setenv("BROWSER_ENGINE", "netscape")

	_, err := Load()
	require.Error(t, err)
	assert.ErrorContains(t, err, "TARGET_CONVERSATION_URL_PATTERN")
	assert.ErrorContains(t, err, "TIMING_POLL_INTERVAL must be positive")
	assert.ErrorContains(t, err, "TIMING_BACKOFF_FACTOR")
	assert.ErrorContains(t, err, `BROWSER_ENGINE "netscape"`)
}

func TestTargetURL(t *testing.T) {
	target := &TargetConfig{BaseURL: "https://chat.test/"}

	assert.Equal(t, "https://chat.test/contact/list", target.URL("/contact/list"))
	assert.Equal(t, "https://chat.test/rating", target.URL("rating"))
}
