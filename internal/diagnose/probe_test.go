package diagnose_test

import (
	"chat-autopilot/internal/browser/snapshot/snapshottest"
	"chat-autopilot/internal/diagnose"
	"chat-autopilot/internal/entity"
	"chat-autopilot/internal/selector"
	"chat-autopilot/pkg/apperr"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func target(t *testing.T, r *diagnose.Report, name selector.Target) diagnose.TargetReport {
	t.Helper()

	for _, tr := range r.Targets {
		if tr.Target == name {
			return tr
		}
	}
	t.Fatalf("target %s missing from report", name)

	return diagnose.TargetReport{}
}

func TestProbeConversationPage(t *testing.T) {
	report, err := diagnose.Probe(context.Background(), snapshottest.Config(), zaptest.NewLogger(t),
		snapshottest.BaseURL+"/chats/1", snapshottest.ConversationPage)
	require.NoError(t, err)

	assert.True(t, report.Derived)
	assert.Equal(t, entity.PhaseOnConversation, report.Phase)
	assert.Len(t, report.Targets, len(selector.Targets))

	input := target(t, report, selector.TargetMessageInput)
	assert.True(t, input.Found)
	assert.Equal(t, `attribute textarea[placeholder*="Сообщение"]`, input.Label)
	assert.Equal(t, "textarea", input.Element)

	login := target(t, report, selector.TargetLoginInput)
	assert.False(t, login.Found)
	assert.NotEmpty(t, login.Tried)
}

func TestProbeUnknownPage(t *testing.T) {
	report, err := diagnose.Probe(context.Background(), snapshottest.Config(), zaptest.NewLogger(t),
		snapshottest.BaseURL+"/about", `<html><body><p>About</p></body></html>`)
	require.NoError(t, err)

	assert.False(t, report.Derived)
	assert.Empty(t, report.Phase)
	for _, tr := range report.Targets {
		assert.False(t, tr.Found, tr.Target)
	}
}

func TestProbeRejectsRelativeURL(t *testing.T) {
	_, err := diagnose.Probe(context.Background(), snapshottest.Config(), zaptest.NewLogger(t), "/auth", snapshottest.AuthPage)
	assert.True(t, apperr.HasCode(err, apperr.CodeInvalidArgument))
}
