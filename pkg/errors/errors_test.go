package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesClonedAndWrappedErrors(t *testing.T) {
	cloned := Clone(ErrRosterAlreadyExists, "roster RST-1 exists")
	assert.True(t, Is(cloned, ErrRosterAlreadyExists))
	assert.True(t, Is(fmt.Errorf("generate: %w", cloned), ErrRosterAlreadyExists))
	assert.False(t, Is(cloned, ErrRosterModification))
	assert.False(t, Is(fmt.Errorf("plain"), ErrRosterAlreadyExists))
}

func TestFromErrorDefaultsToInternal(t *testing.T) {
	appErr := FromError(fmt.Errorf("boom"))
	assert.Equal(t, ErrInternal.Code, appErr.Code)
	assert.Equal(t, http.StatusInternalServerError, appErr.Status)
	assert.Nil(t, FromError(nil))
}
