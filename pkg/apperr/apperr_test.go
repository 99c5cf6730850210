package apperr_test

import (
	"chat-autopilot/pkg/apperr"
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOfOutermost(t *testing.T) {
	inner := apperr.DriverFault("snapshot.Click", errors.New("target closed"))
	outer := apperr.Wrap("SendReply", apperr.CodeInternal, inner, nil)

	assert.Equal(t, apperr.CodeInternal, apperr.CodeOf(outer))
	assert.True(t, apperr.HasCode(outer, apperr.CodeDriverFault))
	assert.True(t, apperr.IsFatal(outer))
	assert.Equal(t, "", apperr.CodeOf(context.Canceled))
	assert.False(t, apperr.HasCode(nil, apperr.CodeInternal))
}

func TestHasCodeThroughForeignWrapping(t *testing.T) {
	err := fmt.Errorf("run: %w", apperr.Wrap("Authenticate", apperr.CodeLoginFailure, errors.New("rejected"), nil))

	assert.Equal(t, apperr.CodeLoginFailure, apperr.CodeOf(err))
	assert.True(t, apperr.IsFatal(err))
	assert.False(t, apperr.IsFatal(apperr.Wrap("x", apperr.CodeElementNotFound, nil, nil)))
}

func TestNotFoundCarriesTried(t *testing.T) {
	tried := []string{`attribute input[name="login"]`, `attribute input[type="email"]`}
	err := apperr.NotFoundError("Resolve", tried)
	tried[0] = "mutated"

	assert.Equal(t, apperr.CodeElementNotFound, apperr.CodeOf(err))
	assert.Equal(t, []string{`attribute input[name="login"]`, `attribute input[type="email"]`}, apperr.Tried(err))

	wrapped := apperr.Wrap("SendReply", apperr.CodeElementNotFound, err, nil)
	assert.Len(t, apperr.Tried(wrapped), 2)
	assert.Nil(t, apperr.Tried(errors.New("plain")))
}

func TestErrorMessage(t *testing.T) {
	err := apperr.Wrap("Navigate", apperr.CodeNavigationTimeout, context.DeadlineExceeded, nil)

	assert.Equal(t, "Navigate: context deadline exceeded", err.Error())
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	var e *apperr.Error
	assert.ErrorAs(t, err, &e)
	assert.NotNil(t, e.Metadata)
}
