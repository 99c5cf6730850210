package session_test

import (
	"chat-autopilot/internal/browser/snapshot"
	"chat-autopilot/internal/config"
	"chat-autopilot/internal/entity"
	"chat-autopilot/internal/ports"
	"chat-autopilot/internal/session"
	"chat-autopilot/pkg/apperr"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() *config.Config {
	return &config.Config{
		TargetConfig: &config.TargetConfig{
			Login: "anna@example.com",
		},
		BrowserConfig: &config.BrowserConfig{
			UserAgent:      "test-agent/1.0",
			ViewportWidth:  1024,
			ViewportHeight: 768,
			Locale:         "ru-RU",
			Timezone:       "Europe/Moscow",
		},
	}
}

func TestOpenSeedsCookiesAndIdentity(t *testing.T) {
	drv := snapshot.New()
	opener := session.NewOpener(session.Params{Factory: drv, Config: testConfig(), Logger: zap.NewNop()})

	cookies := []entity.Cookie{{Name: "sid", Value: "abc", Domain: "chat.test", Path: "/"}}

	s, err := opener.Open(context.Background(), cookies)
	require.NoError(t, err)

	assert.Equal(t, "anna@example.com", s.Identity)
	assert.False(t, s.Authenticated())

	opened := drv.Opened()
	require.Len(t, opened, 1)
	assert.Equal(t, "test-agent/1.0", opened[0].UserAgent)
	assert.Equal(t, 1024, opened[0].ViewportWidth)
	assert.Equal(t, "Europe/Moscow", opened[0].Timezone)

	got, err := s.Driver().Cookies(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cookies, got)
}

type failingFactory struct{}

func (failingFactory) Open(context.Context, entity.SessionOptions) (ports.Driver, error) {
	return nil, errors.New("browser binary missing")
}

func TestOpenFailureIsDriverFault(t *testing.T) {
	opener := session.NewOpener(session.Params{Factory: failingFactory{}, Config: testConfig(), Logger: zap.NewNop()})

	_, err := opener.Open(context.Background(), nil)
	assert.True(t, apperr.HasCode(err, apperr.CodeDriverFault), err)
}

func TestCloseExactlyOnce(t *testing.T) {
	drv := snapshot.New()
	s := session.New(drv, "test", zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Close(context.Background()))
		}()
	}
	wg.Wait()

	assert.NoError(t, s.Close(context.Background()))
	assert.True(t, s.Closed())
	assert.Equal(t, 1, drv.Closes())
}

func TestCloseIgnoresCancelledContext(t *testing.T) {
	drv := snapshot.New()
	s := session.New(drv, "test", zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.NoError(t, s.Close(ctx))
	assert.Equal(t, 1, drv.Closes())
}
