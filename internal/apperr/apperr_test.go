package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

var errTooSmall = New(Validation, "box is too small")

func TestIsMatchesKindAndMessage(t *testing.T) {
	err := fmt.Errorf("commit: %w", New(Validation, "box is too small"))

	assert.True(t, errors.Is(err, errTooSmall))
	assert.False(t, errors.Is(New(Network, "box is too small"), errTooSmall))
}

func TestKindOf(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrapf(Network, cause, "create annotation %s", "abc")

	assert.Equal(t, Network, KindOf(err))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "create annotation abc: connection refused", err.Error())
	assert.Equal(t, Unknown, KindOf(cause))
	assert.Nil(t, Wrap(Session, nil))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "session", Session.String())
	assert.Equal(t, "concurrency", Concurrency.String())
}
