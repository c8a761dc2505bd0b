package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coziyoo/backend/internal/apperr"
)

func TestFoodOrderBy(t *testing.T) {
	cases := []struct {
		sort string
		want string
	}{
		{"", "created_at DESC, id DESC"},
		{"createdAt", "created_at ASC, id DESC"},
		{"-createdAt", "created_at DESC, id DESC"},
		{"price", "price ASC, id DESC"},
		{"-rating", "rating DESC, id DESC"},
	}
	for _, tc := range cases {
		got, err := foodOrderBy(tc.sort)
		require.NoError(t, err, tc.sort)
		assert.Equal(t, tc.want, got, tc.sort)
	}
}

func TestFoodOrderByRejectsUnknownField(t *testing.T) {
	for _, sort := range []string{"name; DROP TABLE foods", "-sellerId", "random"} {
		_, err := foodOrderBy(sort)
		require.Error(t, err, sort)
		assert.True(t, apperr.IsCode(err, "SORT_FIELD_INVALID"), sort)
	}
}
