package dialog

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/m3rciful/edubot/internal/apperr"
)

func TestAuthorize(t *testing.T) {
	h := &Handlers{Engine: &Engine{AdminID: 777}}

	assert.NoError(t, h.authorize(777))
	assert.ErrorIs(t, h.authorize(42), apperr.ErrUnauthorized)
	assert.ErrorIs(t, h.authorize(0), apperr.ErrUnauthorized)
}
