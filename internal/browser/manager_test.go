package browser

import (
	"errors"
	"testing"

	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingHandle answers the label script and counts how often it ran.
type countingHandle struct {
	playwright.ElementHandle
	label string
	err   error
	calls int
}

func (h *countingHandle) Evaluate(expression string, arg ...interface{}) (interface{}, error) {
	h.calls++
	if h.err != nil {
		return nil, h.err
	}

	return h.label, nil
}

func TestWrapHandlesLabelsLazily(t *testing.T) {
	first := &countingHandle{label: "  a[href=\"/chats/1\"] "}
	second := &countingHandle{err: errors.New("execution context was destroyed")}

	els := wrapHandles([]playwright.ElementHandle{first, second})
	require.Len(t, els, 2)
	assert.Zero(t, first.calls)
	assert.Zero(t, second.calls)

	assert.Equal(t, `a[href="/chats/1"]`, els[0].Describe())
	assert.Equal(t, `a[href="/chats/1"]`, els[0].Describe())
	assert.Equal(t, 1, first.calls)
	assert.Zero(t, second.calls)

	assert.Equal(t, "element", els[1].Describe())
	assert.Equal(t, 1, second.calls)
}
