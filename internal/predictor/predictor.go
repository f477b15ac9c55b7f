// Package predictor estimates whether a proposed fix will succeed.
//
// An untrained predictor scores fix text with a keyword heuristic. Once
// trained (or loaded from an artifact) it classifies the error log and
// repository metadata with a TF-IDF naive Bayes model. The vectorizer and
// model are swapped together so a prediction never mixes a new vocabulary
// with old weights.
package predictor

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cicd-fixer/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	maxFeatures = 1000
	minNGram    = 1
	maxNGram    = 3
	splitSeed   = 42

	heuristicConfidence = 0.6
	tieConfidence       = 0.4
	errorConfidence     = 0.2

	fallbackVersion = "fallback"
)

var (
	successIndicators = []string{"clear cache", "update dependencies", "fix version", "correct path"}
	failureIndicators = []string{"restart service", "check logs", "manual intervention"}
)

// modelState is everything a trained prediction needs. It is immutable once
// published.
type modelState struct {
	vectorizer *Vectorizer
	model      *NaiveBayes
	version    string
	trainedAt  time.Time
	accuracy   float64
	samples    int
}

// Info describes the current model.
type Info struct {
	Version         string     `json:"model_version"`
	IsTrained       bool       `json:"is_trained"`
	LastTraining    *time.Time `json:"last_training,omitempty"`
	FeatureCount    int        `json:"feature_count"`
	Accuracy        float64    `json:"accuracy,omitempty"`
	TrainingSamples int        `json:"training_samples,omitempty"`
	ModelPath       string     `json:"model_path,omitempty"`
}

// Predictor is safe for concurrent use. Train calls are serialized; Predict
// never blocks on training.
type Predictor struct {
	state     atomic.Pointer[modelState]
	trainMu   sync.Mutex
	modelPath string
	now       func() time.Time
	logger    *zap.Logger
}

// Option configures a Predictor.
type Option func(*Predictor)

// WithModelPath sets the artifact location. Empty disables persistence.
func WithModelPath(path string) Option {
	return func(p *Predictor) {
		p.modelPath = path
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Predictor) {
		p.now = now
	}
}

// New creates a predictor and loads the artifact at the model path if one
// exists. A missing or unreadable artifact leaves the predictor untrained.
func New(logger *zap.Logger, opts ...Option) *Predictor {
	p := &Predictor{
		now:    time.Now,
		logger: logger.Named("predictor"),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.modelPath != "" {
		if state, err := loadArtifact(p.modelPath); err != nil {
			p.logger.Warn("model artifact not loaded, predictor untrained",
				zap.String("path", p.modelPath),
				zap.Error(err),
			)
		} else if state != nil {
			p.state.Store(state)
			p.logger.Info("model artifact loaded",
				zap.String("version", state.version),
				zap.Int("features", state.vectorizer.Size()),
			)
		}
	}
	return p
}

// IsTrained reports whether a model is loaded.
func (p *Predictor) IsTrained() bool {
	return p.state.Load() != nil
}

// LastTraining returns when the current model was trained, or the zero time.
func (p *Predictor) LastTraining() time.Time {
	if s := p.state.Load(); s != nil {
		return s.trainedAt
	}
	return time.Time{}
}

// Info returns a description of the current model.
func (p *Predictor) Info() Info {
	s := p.state.Load()
	if s == nil {
		return Info{Version: fallbackVersion, ModelPath: p.modelPath}
	}
	trainedAt := s.trainedAt
	return Info{
		Version:         s.version,
		IsTrained:       true,
		LastTraining:    &trainedAt,
		FeatureCount:    s.vectorizer.Size(),
		Accuracy:        s.accuracy,
		TrainingSamples: s.samples,
		ModelPath:       p.modelPath,
	}
}

// Predict estimates whether suggestedFix will resolve errorLog. It never
// fails: internal errors yield a low-confidence uncertain result.
func (p *Predictor) Predict(errorLog, suggestedFix string, ctx domain.RepoContext) (result domain.PredictionResult) {
	state := p.state.Load()
	if state == nil {
		return p.heuristic(suggestedFix, ctx)
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("prediction failed, returning uncertain", zap.Any("panic", r))
			result = p.uncertain(state.version, fmt.Sprintf("Prediction error: %v", r))
		}
	}()

	vec := state.vectorizer.Transform(featureText(errorLog, ctx))
	class, prob := state.model.predict(vec)
	if math.IsNaN(prob) || math.IsInf(prob, 0) {
		return p.uncertain(state.version, "Prediction error: non-finite probability")
	}

	factors := []string{
		"Language: " + orUnknown(ctx.Language),
		"Framework: " + orUnknown(ctx.Framework),
	}
	if top := topTerms(state, vec, class, 3); len(top) > 0 {
		factors = append(factors, "Key features: "+strings.Join(top, ", "))
	}

	return domain.PredictionResult{
		Label:        labelFor(class),
		Confidence:   clamp(prob),
		Factors:      factors,
		ModelVersion: state.version,
		Timestamp:    p.now().UTC(),
	}
}

func (p *Predictor) heuristic(fix string, ctx domain.RepoContext) domain.PredictionResult {
	lower := strings.ToLower(fix)
	success := countPresent(lower, successIndicators)
	failure := countPresent(lower, failureIndicators)

	label, confidence := domain.PredictionUncertain, tieConfidence
	switch {
	case success > failure:
		label, confidence = domain.PredictionLikelySuccess, heuristicConfidence
	case failure > success:
		label, confidence = domain.PredictionLikelyFailure, heuristicConfidence
	}

	return domain.PredictionResult{
		Label:      label,
		Confidence: confidence,
		Factors: []string{
			fmt.Sprintf("Rule-based analysis (success: %d, failure: %d)", success, failure),
			"Repository language: " + orUnknown(ctx.Language),
			"Framework: " + orUnknown(ctx.Framework),
		},
		ModelVersion: fallbackVersion,
		Timestamp:    p.now().UTC(),
	}
}

func (p *Predictor) uncertain(version, factor string) domain.PredictionResult {
	return domain.PredictionResult{
		Label:        domain.PredictionUncertain,
		Confidence:   errorConfidence,
		Factors:      []string{factor},
		ModelVersion: version,
		Timestamp:    p.now().UTC(),
	}
}

// Train fits a new vectorizer and model on examples and publishes them
// atomically. 20% of the examples (when there are at least five) are held
// out for accuracy; the split uses a fixed seed so equal inputs train equal
// models. asOf is when the examples were read and becomes the model's
// training time; a zero asOf means now.
func (p *Predictor) Train(examples []domain.TrainingExample, asOf time.Time) (*domain.TrainingReport, error) {
	if len(examples) == 0 {
		return nil, domain.WrapError("train", domain.ErrNoTrainingData, false)
	}

	p.trainMu.Lock()
	defer p.trainMu.Unlock()

	start := p.now()

	order := rand.New(rand.NewSource(splitSeed)).Perm(len(examples))
	testCount := 0
	if len(examples) >= 5 {
		testCount = len(examples) / 5
	}
	testIdx, trainIdx := order[:testCount], order[testCount:]

	docs := make([]string, len(trainIdx))
	labels := make([]int, len(trainIdx))
	for i, idx := range trainIdx {
		docs[i] = featureText(examples[idx].ErrorLog, examples[idx].Context)
		labels[i] = codeFor(examples[idx].Outcome)
	}

	vectorizer := NewVectorizer(maxFeatures, minNGram, maxNGram)
	vectorizer.Fit(docs)

	vectors := make([]map[int]float64, len(docs))
	for i, doc := range docs {
		vectors[i] = vectorizer.Transform(doc)
	}
	model := fitNaiveBayes(vectors, labels, vectorizer.Size())

	evalIdx := testIdx
	if len(evalIdx) == 0 {
		evalIdx = trainIdx
	}
	correct := 0
	for _, idx := range evalIdx {
		vec := vectorizer.Transform(featureText(examples[idx].ErrorLog, examples[idx].Context))
		if class, _ := model.predict(vec); class == codeFor(examples[idx].Outcome) {
			correct++
		}
	}
	accuracy := float64(correct) / float64(len(evalIdx))

	trainedAt := asOf.UTC()
	if asOf.IsZero() {
		trainedAt = p.now().UTC()
	}
	state := &modelState{
		vectorizer: vectorizer,
		model:      model,
		version:    fmt.Sprintf("1.%d-%s", trainedAt.Unix(), uuid.NewString()[:8]),
		trainedAt:  trainedAt,
		accuracy:   accuracy,
		samples:    len(trainIdx),
	}
	p.state.Store(state)

	if p.modelPath != "" {
		if err := saveArtifact(p.modelPath, state); err != nil {
			p.logger.Warn("failed to persist model artifact",
				zap.String("path", p.modelPath),
				zap.Error(err),
			)
		}
	}

	p.logger.Info("model trained",
		zap.String("version", state.version),
		zap.Float64("accuracy", accuracy),
		zap.Int("training_samples", len(trainIdx)),
		zap.Int("test_samples", testCount),
		zap.Int("features", vectorizer.Size()),
		zap.Duration("duration", p.now().Sub(start)),
	)

	return &domain.TrainingReport{
		Accuracy:        accuracy,
		ModelVersion:    state.version,
		TrainingSamples: len(trainIdx),
		TestSamples:     testCount,
		TrainedAt:       trainedAt,
	}, nil
}

func featureText(errorLog string, ctx domain.RepoContext) string {
	return errorLog + " " + ctx.Language + " " + ctx.Framework
}

func topTerms(state *modelState, vec map[int]float64, class, n int) []string {
	contrib := state.model.contributions(vec, class)
	names := state.vectorizer.FeatureNames()

	idxs := make([]int, 0, len(contrib))
	for idx, c := range contrib {
		if c > 0 {
			idxs = append(idxs, idx)
		}
	}
	sort.Slice(idxs, func(i, j int) bool {
		ci, cj := contrib[idxs[i]], contrib[idxs[j]]
		if ci != cj {
			return ci > cj
		}
		return names[idxs[i]] < names[idxs[j]]
	})
	if len(idxs) > n {
		idxs = idxs[:n]
	}

	terms := make([]string, len(idxs))
	for i, idx := range idxs {
		terms[i] = names[idx]
	}
	return terms
}

func codeFor(outcome domain.TrainingOutcome) int {
	switch outcome {
	case domain.OutcomeSuccess:
		return codeSuccess
	case domain.OutcomeFailure:
		return codeFailure
	default:
		return codeUncertain
	}
}

func labelFor(code int) domain.PredictionLabel {
	switch code {
	case codeSuccess:
		return domain.PredictionLikelySuccess
	case codeFailure:
		return domain.PredictionLikelyFailure
	default:
		return domain.PredictionUncertain
	}
}

func countPresent(s string, phrases []string) int {
	n := 0
	for _, p := range phrases {
		if strings.Contains(s, p) {
			n++
		}
	}
	return n
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
