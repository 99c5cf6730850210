package selector_test

import (
	"chat-autopilot/internal/browser/snapshot"
	"chat-autopilot/internal/config"
	"chat-autopilot/internal/governor"
	"chat-autopilot/internal/ports"
	"chat-autopilot/internal/selector"
	"chat-autopilot/pkg/apperr"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const page = `<html><body>
<form>
  <input name="email" type="email">
  <input type="password" name="password">
  <button type="button">Cancel</button>
  <button class="primary">  Log   IN </button>
</form>
<ul class="dialogs">
  <li><a href="/chats/1">Anna</a></li>
  <li><a href="/chats/2">Boris</a><span class="badge-unread">2</span></li>
</ul>
</body></html>`

func newResolver(t *testing.T, logger *zap.Logger) *selector.Resolver {
	t.Helper()

	gov := governor.New(governor.Policy{
		LocatorTimeout:  50 * time.Millisecond,
		PollInterval:    2 * time.Millisecond,
		MaxPollInterval: 10 * time.Millisecond,
		BackoffFactor:   1.5,
	}, logger)

	return selector.New(gov, logger)
}

func loaded(t *testing.T, html string) *snapshot.Driver {
	t.Helper()

	drv := snapshot.New()
	require.NoError(t, drv.Load("https://chat.test/", html))

	return drv
}

func TestResolveFirstMatchWins(t *testing.T) {
	r := newResolver(t, zap.NewNop())
	drv := loaded(t, page)

	s := selector.Strategy{
		Target:   selector.TargetLoginInput,
		Singular: true,
		Locators: []selector.Locator{
			selector.Attribute("input", "name", selector.OpEquals, "login"),
			selector.Attribute("input", "type", selector.OpEquals, "email"),
			selector.Attribute("input", "name", selector.OpEquals, "email"),
		},
	}

	res, err := r.Probe(context.Background(), drv, s)
	require.NoError(t, err)

	require.True(t, res.Found)
	assert.Equal(t, `attribute input[type="email"]`, res.Label)
	assert.Len(t, res.Elements, 1)
	assert.Empty(t, res.Tried)
	assert.Contains(t, res.Element.Describe(), `name="email"`)
}

func TestResolveNotFoundListsEveryLabel(t *testing.T) {
	r := newResolver(t, zap.NewNop())
	drv := loaded(t, page)

	s := selector.Strategy{
		Target: selector.TargetSendControl,
		Locators: []selector.Locator{
			selector.Attribute("button", "aria-label", selector.OpContains, "Send"),
			selector.Text("button", "Отправить", false),
			selector.Structural("textarea", 1),
		},
	}

	res, err := r.Resolve(context.Background(), drv, s, 20*time.Millisecond)
	require.NoError(t, err)

	assert.False(t, res.Found)
	assert.Nil(t, res.Element)
	assert.Empty(t, res.Label)
	if diff := cmp.Diff(s.Labels(), res.Tried); diff != "" {
		t.Errorf("tried labels mismatch (-want +got):\n%s", diff)
	}

	err = res.Err("SendReply")
	assert.True(t, apperr.HasCode(err, apperr.CodeElementNotFound))
	assert.Equal(t, s.Labels(), apperr.Tried(err))
}

func TestResolveLocatorKinds(t *testing.T) {
	r := newResolver(t, zap.NewNop())
	drv := loaded(t, page)
	ctx := context.Background()

	t.Run("text match ignores case and whitespace", func(t *testing.T) {
		res, err := r.Probe(ctx, drv, selector.Strategy{
			Target:   selector.TargetSubmitControl,
			Locators: []selector.Locator{selector.Text("button", "log in", true)},
		})
		require.NoError(t, err)
		require.True(t, res.Found)
		assert.Contains(t, res.Element.Describe(), `class="primary"`)
	})

	t.Run("structural honours minimum count", func(t *testing.T) {
		res, err := r.Probe(ctx, drv, selector.Strategy{
			Target: selector.TargetDialogEntry,
			Locators: []selector.Locator{
				selector.Structural("li", 3),
				selector.Structural("li", 2),
			},
		})
		require.NoError(t, err)
		require.True(t, res.Found)
		assert.Equal(t, "structural li (min 2)", res.Label)
		assert.Len(t, res.Elements, 2)
	})

	t.Run("invalid selector counts as a miss", func(t *testing.T) {
		res, err := r.Probe(ctx, drv, selector.Strategy{
			Target: selector.TargetDialogEntry,
			Locators: []selector.Locator{
				selector.Structural("li[", 1),
				selector.Structural("ul.dialogs li", 1),
			},
		})
		require.NoError(t, err)
		require.True(t, res.Found)
		assert.Equal(t, "structural ul.dialogs li", res.Label)
	})

	t.Run("nested scope only sees descendants", func(t *testing.T) {
		entries, err := r.Probe(ctx, drv, selector.Strategy{
			Target:   selector.TargetDialogEntry,
			Locators: []selector.Locator{selector.Structural("li", 1)},
		})
		require.NoError(t, err)
		require.Len(t, entries.Elements, 2)

		unread := selector.Strategy{
			Target:   selector.TargetUnreadIndicator,
			Locators: []selector.Locator{selector.Attribute("span", "class", selector.OpContains, "unread")},
		}

		first, err := r.Probe(ctx, entries.Elements[0], unread)
		require.NoError(t, err)
		assert.False(t, first.Found)

		second, err := r.Probe(ctx, entries.Elements[1], unread)
		require.NoError(t, err)
		assert.True(t, second.Found)
	})
}

func TestResolveAmbiguityIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	r := newResolver(t, zap.New(core))
	drv := loaded(t, page)

	res, err := r.Probe(context.Background(), drv, selector.Strategy{
		Target:   selector.TargetDialogActivation,
		Singular: true,
		Locators: []selector.Locator{selector.Attribute("a", "href", selector.OpPresent, "")},
	})
	require.NoError(t, err)
	require.True(t, res.Found)
	assert.Contains(t, res.Element.Describe(), `href="/chats/1"`)
	assert.Equal(t, 1, logs.FilterMessage("Ambiguous match, using first element").Len())
}

type delayedScope struct {
	ports.Scope
	misses int32
	calls  atomic.Int32
}

func (s *delayedScope) QueryAll(ctx context.Context, css string) ([]ports.Element, error) {
	if s.calls.Add(1) <= s.misses {
		return nil, nil
	}

	return s.Scope.QueryAll(ctx, css)
}

func TestResolvePollsUntilElementAppears(t *testing.T) {
	r := newResolver(t, zap.NewNop())
	scope := &delayedScope{Scope: loaded(t, page), misses: 3}

	res, err := r.Resolve(context.Background(), scope, selector.Strategy{
		Target:   selector.TargetPasswordInput,
		Locators: []selector.Locator{selector.Attribute("input", "type", selector.OpEquals, "password")},
	}, time.Second)

	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.EqualValues(t, 4, scope.calls.Load())
}

func TestResolvePropagatesDriverFault(t *testing.T) {
	r := newResolver(t, zap.NewNop())
	drv := loaded(t, page)
	drv.Fault(errors.New("target closed"))

	_, err := r.Resolve(context.Background(), drv, selector.Strategy{
		Target:   selector.TargetLoginInput,
		Locators: []selector.Locator{selector.Attribute("input", "name", selector.OpEquals, "login")},
	}, time.Second)

	assert.True(t, apperr.HasCode(err, apperr.CodeDriverFault), err)
}

func TestResolveCancelled(t *testing.T) {
	r := newResolver(t, zap.NewNop())
	drv := loaded(t, page)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Resolve(ctx, drv, selector.Strategy{
		Target:   selector.TargetLoginInput,
		Locators: []selector.Locator{selector.Attribute("input", "name", selector.OpEquals, "login")},
	}, time.Second)

	assert.True(t, apperr.HasCode(err, apperr.CodeCancelled), err)
}

func TestDefaultTable(t *testing.T) {
	table, err := selector.NewDefaultTable(&config.LocaleConfig{
		MessagePlaceholders: []string{"Message", "Сообщение"},
		SendLabels:          []string{"Send", "Отправить"},
		SubmitLabels:        []string{"Войти"},
		LikeLabels:          []string{"Like"},
		ChallengeProviders:  []string{"recaptcha", "hcaptcha"},
	})
	require.NoError(t, err)

	assert.Equal(t, selector.Targets, table.Targets())

	for _, target := range selector.Targets {
		s := table.MustStrategy(target)
		seen := map[string]bool{}
		for _, label := range s.Labels() {
			assert.False(t, seen[label], "duplicate label %s in %s", label, target)
			seen[label] = true
		}
	}

	send := table.MustStrategy(selector.TargetSendControl)
	assert.Equal(t, []string{
		`attribute button[aria-label*="Send"]`,
		`attribute button[aria-label*="Отправить"]`,
		`text button~"Send"`,
		`text button~"Отправить"`,
		`attribute button[class*="send"]`,
		`attribute [data-testid*="send"]`,
	}, send.Labels())

	// Callers cannot reach the table's backing slice.
	send.Locators[0].Label = "mutated"
	assert.NotEqual(t, "mutated", table.MustStrategy(selector.TargetSendControl).Locators[0].Label)
}

func TestNewTableRejectsBrokenStrategies(t *testing.T) {
	_, err := selector.NewTable(
		selector.Strategy{Target: selector.TargetLikeControl},
		selector.Strategy{Target: selector.TargetProfileLink, Locators: []selector.Locator{
			selector.Attribute("a", "", selector.OpEquals, "x"),
		}},
	)

	assert.Error(t, err)
}
