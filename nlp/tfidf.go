package nlp

import (
	"encoding/json"
	"errors"
	"math"
	"sort"
	"strings"
	"unicode/utf8"
)

var ErrEmptyCorpus = errors.New("nlp: cannot fit on an empty corpus")

// SparseVector holds the non-zero entries of a document vector, indices ascending.
type SparseVector struct {
	Indices []int     `json:"indices"`
	Values  []float64 `json:"values"`
}

// Len is the number of non-zero entries.
func (s SparseVector) Len() int {
	return len(s.Indices)
}

// Dense expands the vector to width positions.
func (s SparseVector) Dense(width int) []float64 {
	out := make([]float64, width)
	s.DenseInto(out)
	return out
}

// DenseInto writes the vector into dst, which must already be zeroed.
func (s SparseVector) DenseInto(dst []float64) {
	for i, idx := range s.Indices {
		if idx < len(dst) {
			dst[idx] = s.Values[i]
		}
	}
}

// Vectorizer is a TF-IDF transform. The vocabulary and idf weights are fixed by
// Fit; Transform only reads them.
type Vectorizer struct {
	MaxFeatures int       `json:"max_features"`
	MinDF       int       `json:"min_df"`
	Terms       []string  `json:"terms"`
	IDF         []float64 `json:"idf"`
	Documents   int       `json:"documents"`

	index map[string]int
}

func NewVectorizer(maxFeatures, minDF int) *Vectorizer {
	if minDF < 1 {
		minDF = 1
	}
	return &Vectorizer{MaxFeatures: maxFeatures, MinDF: minDF}
}

// Fit learns the vocabulary and idf weights from docs.
// Terms are ranked by total frequency (ties lexically), cut to MaxFeatures,
// then indexed in lexical order.
func (v *Vectorizer) Fit(docs []string) error {
	if len(docs) == 0 {
		return ErrEmptyCorpus
	}

	freq := make(map[string]int)
	df := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]struct{})
		for _, tok := range Tokenize(doc) {
			freq[tok]++
			if _, ok := seen[tok]; !ok {
				seen[tok] = struct{}{}
				df[tok]++
			}
		}
	}

	candidates := make([]string, 0, len(freq))
	for term := range freq {
		if df[term] >= v.MinDF {
			candidates = append(candidates, term)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if freq[a] != freq[b] {
			return freq[a] > freq[b]
		}
		return a < b
	})
	if v.MaxFeatures > 0 && len(candidates) > v.MaxFeatures {
		candidates = candidates[:v.MaxFeatures]
	}
	sort.Strings(candidates)

	n := float64(len(docs))
	v.Terms = candidates
	v.IDF = make([]float64, len(candidates))
	for i, term := range candidates {
		v.IDF[i] = math.Log((1+n)/(1+float64(df[term]))) + 1
	}
	v.Documents = len(docs)
	v.buildIndex()
	return nil
}

func (v *Vectorizer) buildIndex() {
	v.index = make(map[string]int, len(v.Terms))
	for i, term := range v.Terms {
		v.index[term] = i
	}
}

// Width is the vocabulary size.
func (v *Vectorizer) Width() int {
	return len(v.Terms)
}

// Fitted reports whether Fit has run.
func (v *Vectorizer) Fitted() bool {
	return v.Documents > 0
}

// Transform maps doc to an L2-normalised tf-idf vector. Out-of-vocabulary
// tokens are ignored and an empty document gives an empty vector.
func (v *Vectorizer) Transform(doc string) SparseVector {
	counts := make(map[int]float64)
	for _, tok := range Tokenize(doc) {
		if idx, ok := v.index[tok]; ok {
			counts[idx]++
		}
	}
	if len(counts) == 0 {
		return SparseVector{}
	}

	indices := make([]int, 0, len(counts))
	for idx := range counts {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	values := make([]float64, len(indices))
	norm := 0.0
	for i, idx := range indices {
		values[i] = counts[idx] * v.IDF[idx]
		norm += values[i] * values[i]
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range values {
			values[i] /= norm
		}
	}
	return SparseVector{Indices: indices, Values: values}
}

func (v *Vectorizer) UnmarshalJSON(data []byte) error {
	type plain Vectorizer
	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	if len(decoded.Terms) != len(decoded.IDF) {
		return errors.New("nlp: vectorizer terms and idf differ in length")
	}
	*v = Vectorizer(decoded)
	v.buildIndex()
	return nil
}

// Tokenize splits cleaned text on whitespace, dropping one-rune tokens and stopwords.
func Tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	out := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) < 2 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		out = append(out, f)
	}
	return out
}
