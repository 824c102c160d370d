package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReasonErrorUnwrapsToKind(t *testing.T) {
	err := fmt.Errorf("join: %w", NewReasonError(ErrAuthFailed, ReasonUserAlreadyInRoom))

	assert.True(t, errors.Is(err, ErrAuthFailed))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, ReasonUserAlreadyInRoom, ReasonOf(err))
	assert.Equal(t, "", ReasonOf(ErrNotFound))
}

func TestIdentityDisplayName(t *testing.T) {
	assert.Equal(t, "Ann", Identity{ID: "u1", Name: "Ann", Email: "a@x.io"}.DisplayName())
	assert.Equal(t, "bob", Identity{ID: "u2", Email: "bob@x.io"}.DisplayName())
	assert.Equal(t, "u3", Identity{ID: "u3"}.DisplayName())
}

func TestUserActionHas(t *testing.T) {
	a := ActionForward | ActionRun
	assert.True(t, a.Has(ActionForward))
	assert.True(t, a.Has(ActionRun))
	assert.False(t, a.Has(ActionJump))
	assert.Equal(t, UserAction(64), ActionCrouch)
}
