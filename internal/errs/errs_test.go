package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

var errRoot = errors.New("connection refused")

func TestWrapKeepsChain(t *testing.T) {
	assert.Nil(t, Wrap(nil, "ignored"))

	err := Wrapf(Wrap(errRoot, "load asset"), "decide %s", "a-1")
	assert.True(t, errors.Is(err, errRoot))
	assert.Equal(t, "decide a-1: load asset: connection refused", err.Error())
	assert.Equal(t, []string{
		"decide a-1: load asset: connection refused",
		"load asset: connection refused",
		"connection refused",
	}, Chain(err))
}

func TestLoggableGroupsMessage(t *testing.T) {
	v := Loggable(Wrap(errRoot, "ping")).LogValue()
	attrs := v.Group()
	if assert.Len(t, attrs, 2) {
		assert.Equal(t, "message", attrs[0].Key)
		assert.Equal(t, "ping: connection refused", attrs[0].Value.String())
	}
	assert.Empty(t, Loggable(nil).LogValue().Group())
}
