package cperrors_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/intouch-cp/lb-controlplane/cperrors"
)

func TestValidationIsDetectable(t *testing.T) {
	err := cperrors.Validation("bad input")

	assert.True(t, cperrors.IsValidation(err))
	assert.False(t, cperrors.IsTransient(err))
	assert.False(t, cperrors.IsInvariant(err))
	assert.True(t, errors.Is(err, cperrors.ErrValidation))
	assert.Equal(t, "bad input", err.Error())
}

func TestTransientIsDetectable(t *testing.T) {
	err := cperrors.Transient("store unreachable")

	assert.True(t, cperrors.IsTransient(err))
	assert.False(t, cperrors.IsValidation(err))
}

func TestInvariantIsDetectable(t *testing.T) {
	err := cperrors.Invariant("rendered config is malformed")

	assert.True(t, cperrors.IsInvariant(err))
	assert.False(t, cperrors.IsTransient(err))
}

func TestMessageRewrapLosesKind(t *testing.T) {
	inner := cperrors.Validation("server_id is required")
	wrapped := errors.New("handler: " + inner.Error())

	// A plain errors.New re-wrap loses the kind, demonstrating why
	// callers must propagate the cperrors value itself rather than its
	// message.
	assert.False(t, cperrors.IsValidation(wrapped))
	assert.True(t, cperrors.IsValidation(inner))
}
