package media

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/coziyoo/backend/internal/apperr"
)

func TestRegisterRejectsUnknownKind(t *testing.T) {
	s := NewStore(nil)
	_, err := s.Register(context.Background(), "u1", "screenshot", "https://cdn.example/x.png", nil, nil)
	assert.True(t, apperr.IsCode(err, "VALIDATION_ERROR"))
}

func TestRegisterRequiresFileURL(t *testing.T) {
	s := NewStore(nil)
	_, err := s.Register(context.Background(), "u1", KindFoodPhoto, "", nil, nil)
	assert.True(t, apperr.IsCode(err, "VALIDATION_ERROR"))
}
