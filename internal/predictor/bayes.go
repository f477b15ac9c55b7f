package predictor

import (
	"math"
	"sort"
)

// Outcome codes used by the model.
const (
	codeFailure   = 0
	codeSuccess   = 1
	codeUncertain = 2
)

const smoothing = 1.0

// NaiveBayes is a multinomial naive Bayes classifier over TF-IDF weights.
type NaiveBayes struct {
	Classes        []int       `json:"classes"`
	LogPrior       []float64   `json:"log_prior"`
	FeatureLogProb [][]float64 `json:"feature_log_prob"`
}

// fitNaiveBayes trains a model on sparse vectors with integer labels.
func fitNaiveBayes(vectors []map[int]float64, labels []int, features int) *NaiveBayes {
	classCount := make(map[int]int)
	for _, l := range labels {
		classCount[l]++
	}
	classes := make([]int, 0, len(classCount))
	for c := range classCount {
		classes = append(classes, c)
	}
	sort.Ints(classes)

	pos := make(map[int]int, len(classes))
	for i, c := range classes {
		pos[c] = i
	}

	sums := make([][]float64, len(classes))
	for i := range sums {
		sums[i] = make([]float64, features)
	}
	for n, vec := range vectors {
		row := sums[pos[labels[n]]]
		for idx, w := range vec {
			row[idx] += w
		}
	}

	m := &NaiveBayes{
		Classes:        classes,
		LogPrior:       make([]float64, len(classes)),
		FeatureLogProb: make([][]float64, len(classes)),
	}
	for i, c := range classes {
		m.LogPrior[i] = math.Log(float64(classCount[c]) / float64(len(labels)))

		var total float64
		for _, w := range sums[i] {
			total += w
		}
		denom := total + smoothing*float64(features)
		m.FeatureLogProb[i] = make([]float64, features)
		for j, w := range sums[i] {
			m.FeatureLogProb[i][j] = math.Log((w + smoothing) / denom)
		}
	}
	return m
}

// probabilities returns the posterior of each class for vec, in Classes order.
func (m *NaiveBayes) probabilities(vec map[int]float64) []float64 {
	joint := make([]float64, len(m.Classes))
	for i := range m.Classes {
		joint[i] = m.LogPrior[i]
		for idx, w := range vec {
			joint[i] += w * m.FeatureLogProb[i][idx]
		}
	}

	maxJoint := math.Inf(-1)
	for _, j := range joint {
		maxJoint = math.Max(maxJoint, j)
	}
	var sum float64
	probs := make([]float64, len(joint))
	for i, j := range joint {
		probs[i] = math.Exp(j - maxJoint)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// predict returns the most probable class and its probability. Ties go to
// the lower class code.
func (m *NaiveBayes) predict(vec map[int]float64) (int, float64) {
	probs := m.probabilities(vec)
	best := 0
	for i := range probs {
		if probs[i] > probs[best] {
			best = i
		}
	}
	return m.Classes[best], probs[best]
}

// contributions scores each present feature by how much it pushes vec toward
// class relative to the other classes.
func (m *NaiveBayes) contributions(vec map[int]float64, class int) map[int]float64 {
	ci := -1
	for i, c := range m.Classes {
		if c == class {
			ci = i
		}
	}
	out := make(map[int]float64, len(vec))
	if ci < 0 {
		return out
	}
	for idx, w := range vec {
		if len(m.Classes) == 1 {
			out[idx] = w
			continue
		}
		var others float64
		for i := range m.Classes {
			if i != ci {
				others += m.FeatureLogProb[i][idx]
			}
		}
		others /= float64(len(m.Classes) - 1)
		out[idx] = w * (m.FeatureLogProb[ci][idx] - others)
	}
	return out
}

func (m *NaiveBayes) valid(features int) bool {
	if m == nil || len(m.Classes) == 0 || len(m.LogPrior) != len(m.Classes) || len(m.FeatureLogProb) != len(m.Classes) {
		return false
	}
	for _, row := range m.FeatureLogProb {
		if len(row) != features {
			return false
		}
	}
	return true
}
