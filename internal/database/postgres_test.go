package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func TestIsUniqueViolation(t *testing.T) {
	err := &pq.Error{Code: "23505", Constraint: "sessions_token_hash_active_key"}

	assert.True(t, IsUniqueViolation(err, ""))
	assert.True(t, IsUniqueViolation(err, "sessions_token_hash_active_key"))
	assert.False(t, IsUniqueViolation(err, "other_key"))

	// Wrapping must not hide the code.
	assert.True(t, IsUniqueViolation(fmt.Errorf("insert: %w", err), ""))

	assert.False(t, IsUniqueViolation(&pq.Error{Code: "40001"}, ""))
	assert.False(t, IsUniqueViolation(errors.New("plain"), ""))
	assert.False(t, IsUniqueViolation(nil, ""))
}

func TestIsSerializationFailure(t *testing.T) {
	serr := &pq.Error{Code: "40001", Message: "could not serialize access due to concurrent update"}

	assert.True(t, IsSerializationFailure(serr))
	assert.True(t, IsSerializationFailure(fmt.Errorf("order create: %w", serr)))

	assert.False(t, IsSerializationFailure(&pq.Error{Code: "23505"}))
	assert.False(t, IsSerializationFailure(errors.New("plain")))
	assert.False(t, IsSerializationFailure(nil))
}
