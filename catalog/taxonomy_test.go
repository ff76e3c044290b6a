package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTaxonomyHierarchy(t *testing.T) {
	tax := DefaultTaxonomy()

	laptops, ok := tax.Lookup("Electronics/Laptops")
	require.True(t, ok)
	assert.Equal(t, "electronics", laptops.Parent)

	assert.True(t, tax.IsAncestor("electronics", "electronics/laptops"))
	assert.False(t, tax.IsAncestor("electronics/laptops", "electronics"))
	assert.False(t, tax.IsAncestor("books", "electronics/laptops"))

	assert.True(t, tax.Siblings("electronics/laptops", "electronics/phones"))
	assert.False(t, tax.Siblings("electronics/laptops", "electronics/laptops"))
	assert.False(t, tax.Siblings("electronics", "books"))

	_, ok = tax.Lookup("spaceships")
	assert.False(t, ok)
	assert.Positive(t, tax.FallbackBase())
}

func TestParseTaxonomyRejectsBadDocuments(t *testing.T) {
	cases := map[string]string{
		"no fallback":    "categories: []",
		"unknown parent": "fallback_base: 10\ncategories:\n  - {name: a, parent: b, base: 1, min: 0, max: 5, depreciation_months: 1}",
		"bad bounds":     "fallback_base: 10\ncategories:\n  - {name: a, base: 1, min: 9, max: 5, depreciation_months: 1}",
		"duplicate":      "fallback_base: 10\ncategories:\n  - {name: a, base: 1, min: 0, max: 5, depreciation_months: 1}\n  - {name: A, base: 1, min: 0, max: 5, depreciation_months: 1}",
		"cycle":          "fallback_base: 10\ncategories:\n  - {name: a, parent: b, base: 1, min: 0, max: 5, depreciation_months: 1}\n  - {name: b, parent: a, base: 1, min: 0, max: 5, depreciation_months: 1}",
	}
	for name, doc := range cases {
		_, err := ParseTaxonomy([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestConditionOrderingAndText(t *testing.T) {
	for i := 1; i < len(Conditions); i++ {
		assert.Greater(t, Conditions[i-1].Rank(), Conditions[i].Rank())
	}

	c, err := ParseCondition("like_new")
	require.NoError(t, err)
	assert.Equal(t, ConditionLikeNew, c)

	b, err := ConditionFair.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "FAIR", string(b))

	_, err = Condition(0).MarshalText()
	assert.Error(t, err)

	var s Status
	require.NoError(t, s.UnmarshalText([]byte("swapped")))
	assert.Equal(t, StatusSwapped, s)
	assert.Error(t, s.UnmarshalText([]byte("sold")))
}

func TestNormalizeCategoryComposesAccents(t *testing.T) {
	assert.Equal(t, "caf\u00e9", normalizeCategory("  CAFE\u0301 "))
	assert.Equal(t, normalizeCategory("caf\u00e9"), normalizeCategory("Cafe\u0301"))
	assert.Equal(t, "books", normalizeCategory("Books"))
}
