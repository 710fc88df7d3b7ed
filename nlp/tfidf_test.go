package nlp

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenizeDropsStopwordsAndShortTokens(t *testing.T) {
	assert.Equal(t, []string{"btc", "moon", "etf"}, Tokenize("the btc x is to moon etf"))
	assert.Empty(t, Tokenize(""))
}

func TestVectorizerVocabularyOrdering(t *testing.T) {
	v := NewVectorizer(3, 1)
	require.NoError(t, v.Fit([]string{
		"btc btc btc etf",
		"btc etf miners",
		"zeta alpha",
	}))
	// btc(4) etf(2) then alpha/miners/zeta tie at 1; lexical tie-break keeps alpha.
	assert.Equal(t, []string{"alpha", "btc", "etf"}, v.Terms)
	assert.Equal(t, 3, v.Width())
	assert.InDelta(t, math.Log(4.0/3.0)+1, v.IDF[1], 1e-12, "btc appears in 2 of 3 docs")
	assert.InDelta(t, math.Log(4.0/2.0)+1, v.IDF[0], 1e-12)
}

func TestVectorizerMinDocumentFrequency(t *testing.T) {
	v := NewVectorizer(0, 2)
	require.NoError(t, v.Fit([]string{"btc etf", "btc miners", "btc etf"}))
	assert.Equal(t, []string{"btc", "etf"}, v.Terms)
}

func TestVectorizerTransformDoesNotGrowVocabulary(t *testing.T) {
	v := NewVectorizer(100, 1)
	require.NoError(t, v.Fit([]string{"bitcoin rally", "bitcoin dump"}))
	before := append([]string(nil), v.Terms...)

	vec := v.Transform("bitcoin halving unseen words")
	assert.Equal(t, before, v.Terms)
	require.Equal(t, 1, vec.Len())
	assert.InDelta(t, 1.0, vec.Values[0], 1e-12, "single term is unit length")

	vec = v.Transform("rally dump dump")
	norm := 0.0
	for _, x := range vec.Values {
		norm += x * x
	}
	assert.InDelta(t, 1.0, norm, 1e-12)
	assert.True(t, vec.Indices[0] < vec.Indices[1])
}

func TestVectorizerEmptyDocument(t *testing.T) {
	v := NewVectorizer(10, 1)
	require.NoError(t, v.Fit([]string{"btc"}))
	vec := v.Transform("")
	assert.Equal(t, 0, vec.Len())
	assert.Equal(t, []float64{0}, vec.Dense(v.Width()))
}

func TestVectorizerRejectsEmptyCorpus(t *testing.T) {
	assert.ErrorIs(t, NewVectorizer(10, 1).Fit(nil), ErrEmptyCorpus)
}

func TestVectorizerJSONRestoresIndex(t *testing.T) {
	v := NewVectorizer(10, 1)
	require.NoError(t, v.Fit([]string{"btc etf", "btc"}))
	payload, err := json.Marshal(v)
	require.NoError(t, err)

	var restored Vectorizer
	require.NoError(t, json.Unmarshal(payload, &restored))
	assert.Equal(t, v.Transform("etf btc"), restored.Transform("etf btc"))
}
