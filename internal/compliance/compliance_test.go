package compliance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequiredChecksPerCountry(t *testing.T) {
	tr, ok := requiredChecks["TR"]
	require.True(t, ok)
	assert.ElementsMatch(t, []string{"identity_verified", "hygiene_training", "kitchen_declaration"}, tr)

	uk, ok := requiredChecks["UK"]
	require.True(t, ok)
	assert.ElementsMatch(t, []string{
		"identity_verified", "food_hygiene_rating", "council_registration", "allergen_training",
	}, uk)

	// Identity verification is the shared baseline everywhere.
	for country, checks := range requiredChecks {
		assert.Contains(t, checks, "identity_verified", country)
	}
}

func TestUnknownCountryHasNoChecks(t *testing.T) {
	_, ok := requiredChecks["DE"]
	assert.False(t, ok)
}
