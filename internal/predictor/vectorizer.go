package predictor

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

var tokenPattern = regexp.MustCompile(`[a-z0-9_]{2,}`)

// stopWords is a compact English stop list. Tokens in it are removed before
// n-grams are formed.
var stopWords = func() map[string]struct{} {
	words := strings.Fields(`
		a about above after again against all am an and any are as at be because been
		before being below between both but by can could did do does doing down during
		each few for from further had has have having he her here hers herself him
		himself his how i if in into is it its itself just me more most my myself
		nor of off on once only or other our ours ourselves out over own same she
		should so some such than that the their theirs them themselves then there these
		they this those through to too under until up very was we were what when where
		which while who whom why will with would you your yours yourself yourselves`)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}()

// Vectorizer turns text into L2-normalized TF-IDF vectors over a vocabulary
// of word n-grams learned by Fit.
type Vectorizer struct {
	MaxFeatures int            `json:"max_features"`
	MinN        int            `json:"min_n"`
	MaxN        int            `json:"max_n"`
	Vocabulary  map[string]int `json:"vocabulary"`
	IDF         []float64      `json:"idf"`
}

// NewVectorizer creates an unfitted vectorizer.
func NewVectorizer(maxFeatures, minN, maxN int) *Vectorizer {
	return &Vectorizer{
		MaxFeatures: maxFeatures,
		MinN:        minN,
		MaxN:        maxN,
	}
}

// Terms splits text into stop-word-filtered n-grams.
func (v *Vectorizer) Terms(text string) []string {
	var tokens []string
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(text), -1) {
		if _, stop := stopWords[tok]; !stop {
			tokens = append(tokens, tok)
		}
	}

	var terms []string
	for n := v.MinN; n <= v.MaxN; n++ {
		for i := 0; i+n <= len(tokens); i++ {
			terms = append(terms, strings.Join(tokens[i:i+n], " "))
		}
	}
	return terms
}

// Fit learns the vocabulary and IDF weights from docs. The vocabulary keeps
// the MaxFeatures most frequent terms across the corpus, ties broken
// alphabetically, and indexes them in alphabetical order.
func (v *Vectorizer) Fit(docs []string) {
	total := make(map[string]int)
	df := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]bool)
		for _, term := range v.Terms(doc) {
			total[term]++
			if !seen[term] {
				seen[term] = true
				df[term]++
			}
		}
	}

	terms := make([]string, 0, len(total))
	for term := range total {
		terms = append(terms, term)
	}
	sort.Slice(terms, func(i, j int) bool {
		if total[terms[i]] != total[terms[j]] {
			return total[terms[i]] > total[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if v.MaxFeatures > 0 && len(terms) > v.MaxFeatures {
		terms = terms[:v.MaxFeatures]
	}
	sort.Strings(terms)

	n := float64(len(docs))
	v.Vocabulary = make(map[string]int, len(terms))
	v.IDF = make([]float64, len(terms))
	for i, term := range terms {
		v.Vocabulary[term] = i
		v.IDF[i] = math.Log((1+n)/(1+float64(df[term]))) + 1
	}
}

// Transform maps text to a sparse TF-IDF vector keyed by feature index.
// Terms outside the vocabulary are ignored.
func (v *Vectorizer) Transform(text string) map[int]float64 {
	vec := make(map[int]float64)
	for _, term := range v.Terms(text) {
		if idx, ok := v.Vocabulary[term]; ok {
			vec[idx]++
		}
	}

	var norm float64
	for idx, tf := range vec {
		w := tf * v.IDF[idx]
		vec[idx] = w
		norm += w * w
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for idx := range vec {
			vec[idx] /= norm
		}
	}
	return vec
}

// FeatureNames returns the vocabulary indexed by feature position.
func (v *Vectorizer) FeatureNames() []string {
	names := make([]string, len(v.IDF))
	for term, idx := range v.Vocabulary {
		names[idx] = term
	}
	return names
}

// Size returns the number of features.
func (v *Vectorizer) Size() int {
	return len(v.IDF)
}

func (v *Vectorizer) valid() bool {
	if v == nil || len(v.Vocabulary) != len(v.IDF) || v.MinN < 1 || v.MaxN < v.MinN {
		return false
	}
	for _, idx := range v.Vocabulary {
		if idx < 0 || idx >= len(v.IDF) {
			return false
		}
	}
	return true
}
