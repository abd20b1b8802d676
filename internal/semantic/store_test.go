package semantic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchText_JoinsFactAndKeywords(t *testing.T) {
	t.Parallel()

	got := searchText("prefers tea over coffee", []string{"tea", "coffee", "beverage"})
	assert.Equal(t, "prefers tea over coffee tea coffee beverage", got)
}

func TestEmbeddingText_PrefixesCategory(t *testing.T) {
	t.Parallel()

	got := embeddingText(CategoryPreference, "prefers tea", []string{"tea"})
	assert.Equal(t, "preference: prefers tea tea", got)
}

func TestToVectorLiteral_RoundTripsThroughParse(t *testing.T) {
	t.Parallel()

	in := []float32{1, -2.5, 0, 3.25}
	lit := toVectorLiteral(in)

	out, err := parseVectorLiteral(lit)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestParseVectorLiteral_EmptyBracketsYieldsNil(t *testing.T) {
	t.Parallel()

	out, err := parseVectorLiteral("[]")
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestParseVectorLiteral_InvalidNumberErrors(t *testing.T) {
	t.Parallel()

	_, err := parseVectorLiteral("[1,not-a-number,3]")
	require.Error(t, err)
}

func TestMemory_ActiveWhenNotInvalidated(t *testing.T) {
	t.Parallel()

	assert.True(t, Memory{InvalidAt: nil}.Active())
}
