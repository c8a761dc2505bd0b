package httpapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTasksAuthOK(t *testing.T) {
	// No configured secret means the deployment gates the endpoint at the
	// network layer instead.
	assert.True(t, tasksAuthOK("", ""))
	assert.True(t, tasksAuthOK("", "anything"))

	assert.True(t, tasksAuthOK("s3cret", "s3cret"))
	assert.False(t, tasksAuthOK("s3cret", ""))
	assert.False(t, tasksAuthOK("s3cret", "wrong"))
	assert.False(t, tasksAuthOK("s3cret", "s3cret "))
}
