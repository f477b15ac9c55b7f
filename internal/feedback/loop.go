// Package feedback records human decisions on fix suggestions and feeds
// them back into the success predictor out of band.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cicd-fixer/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store is the persistence the loop needs.
type Store interface {
	SetFixStatus(ctx context.Context, fixID string, status domain.FixStatus) error
	AppendFeedback(ctx context.Context, fb domain.FeedbackRecord) error
	CountFeedbackSince(ctx context.Context, since time.Time) (int, error)
	TrainingExamples(ctx context.Context) ([]domain.TrainingExample, error)
}

// Trainer is the model being retrained.
type Trainer interface {
	LastTraining() time.Time
	// Train fits on examples read at asOf, which becomes LastTraining.
	Train(examples []domain.TrainingExample, asOf time.Time) (*domain.TrainingReport, error)
}

// Invalidator drops cached pattern snapshots.
type Invalidator interface {
	Clear()
}

// Recorder observes loop activity.
type Recorder interface {
	FeedbackRecorded(outcome domain.FeedbackOutcome)
	RetrainObserved(result string)
}

// Retrain results reported to the Recorder; they match the metrics labels.
const (
	resultSucceeded = "succeeded"
	resultSkipped   = "skipped"
	resultFailed    = "failed"
)

// ErrNothingNew is returned by Retrain when no feedback arrived since the
// last training.
var ErrNothingNew = errors.New("no new feedback since last training")

type nopRecorder struct{}

func (nopRecorder) FeedbackRecorded(domain.FeedbackOutcome) {}

func (nopRecorder) RetrainObserved(string) {}

// Loop is the feedback/learning loop.
type Loop struct {
	store    Store
	trainer  Trainer
	patterns Invalidator
	recorder Recorder
	interval time.Duration
	onRecord bool
	trigger  chan struct{}
	now      func() time.Time
	logger   *zap.Logger

	trainMu    sync.Mutex
	reportMu   sync.RWMutex
	lastReport *domain.TrainingReport
}

// Option configures a Loop.
type Option func(*Loop)

// WithInvalidator clears pattern caches whenever feedback is recorded.
func WithInvalidator(inv Invalidator) Option {
	return func(l *Loop) { l.patterns = inv }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(l *Loop) { l.recorder = r }
}

// WithInterval makes Run retrain periodically. Zero disables the ticker.
func WithInterval(d time.Duration) Option {
	return func(l *Loop) { l.interval = d }
}

// WithRetrainOnFeedback queues a retrain after every recorded decision.
func WithRetrainOnFeedback(enabled bool) Option {
	return func(l *Loop) { l.onRecord = enabled }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) { l.now = now }
}

// New creates a feedback loop.
func New(store Store, trainer Trainer, logger *zap.Logger, opts ...Option) *Loop {
	l := &Loop{
		store:    store,
		trainer:  trainer,
		recorder: nopRecorder{},
		trigger:  make(chan struct{}, 1),
		now:      time.Now,
		logger:   logger.Named("feedback_loop"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record validates and persists a decision. It returns as soon as the
// decision is stored; retraining happens in the background.
func (l *Loop) Record(ctx context.Context, fixID string, outcome domain.FeedbackOutcome, comment string, effectiveness *float64) (*domain.FeedbackRecord, error) {
	fixID = strings.TrimSpace(fixID)
	if fixID == "" {
		return nil, domain.NewValidationError("record_feedback", errors.New("fix_id is required"))
	}
	if !outcome.IsValid() {
		return nil, domain.NewValidationError("record_feedback", domain.ErrInvalidOutcome)
	}
	if effectiveness != nil && (*effectiveness < 0 || *effectiveness > 1) {
		return nil, domain.NewValidationError("record_feedback",
			fmt.Errorf("effectiveness must be within [0, 1], got %v", *effectiveness))
	}

	if err := l.store.SetFixStatus(ctx, fixID, outcome.FixStatus()); err != nil {
		return nil, err
	}

	fb := domain.FeedbackRecord{
		ID:            uuid.NewString(),
		FixID:         fixID,
		Outcome:       outcome,
		Comment:       comment,
		Effectiveness: effectiveness,
		CreatedAt:     l.now().UTC(),
	}
	if err := l.store.AppendFeedback(ctx, fb); err != nil {
		return nil, err
	}

	l.recorder.FeedbackRecorded(outcome)
	if l.patterns != nil {
		l.patterns.Clear()
	}
	if l.onRecord {
		l.Trigger()
	}

	l.logger.Info("feedback recorded",
		zap.String("fix_id", fixID),
		zap.String("outcome", string(outcome)),
	)
	return &fb, nil
}

// Trigger queues a retrain for the background worker. It never blocks and
// reports whether a new request was queued.
func (l *Loop) Trigger() bool {
	select {
	case l.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Retrain trains the predictor on the full feedback history. Unless force
// is set it returns ErrNothingNew when no feedback arrived after the
// predictor's last training.
func (l *Loop) Retrain(ctx context.Context, force bool) (*domain.TrainingReport, error) {
	l.trainMu.Lock()
	defer l.trainMu.Unlock()

	if !force {
		fresh, err := l.store.CountFeedbackSince(ctx, l.trainer.LastTraining())
		if err != nil {
			l.recorder.RetrainObserved(resultFailed)
			return nil, err
		}
		if fresh == 0 {
			l.recorder.RetrainObserved(resultSkipped)
			return nil, ErrNothingNew
		}
	}

	// Feedback recorded after asOf is left for the next retrain.
	asOf := l.now()
	examples, err := l.store.TrainingExamples(ctx)
	if err != nil {
		l.recorder.RetrainObserved(resultFailed)
		return nil, err
	}
	if len(examples) == 0 {
		l.recorder.RetrainObserved(resultSkipped)
		return nil, domain.ErrNoTrainingData
	}

	start := l.now()
	report, err := l.trainer.Train(examples, asOf)
	if err != nil {
		l.recorder.RetrainObserved(resultFailed)
		return nil, err
	}

	l.reportMu.Lock()
	l.lastReport = report
	l.reportMu.Unlock()

	l.recorder.RetrainObserved(resultSucceeded)
	l.logger.Info("predictor retrained",
		zap.String("model_version", report.ModelVersion),
		zap.Float64("accuracy", report.Accuracy),
		zap.Int("samples", report.TrainingSamples+report.TestSamples),
		zap.Duration("duration", l.now().Sub(start)),
	)
	return report, nil
}

// LastReport returns the report of the most recent successful retrain.
func (l *Loop) LastReport() *domain.TrainingReport {
	l.reportMu.RLock()
	defer l.reportMu.RUnlock()
	return l.lastReport
}

// Run serves queued and periodic retrains until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	var tick <-chan time.Time
	if l.interval > 0 {
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	l.logger.Info("retrain worker started", zap.Duration("interval", l.interval))
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("retrain worker stopped")
			return
		case <-l.trigger:
			l.retrainQuietly(ctx)
		case <-tick:
			l.retrainQuietly(ctx)
		}
	}
}

func (l *Loop) retrainQuietly(ctx context.Context) {
	_, err := l.Retrain(ctx, false)
	switch {
	case err == nil:
	case errors.Is(err, ErrNothingNew), errors.Is(err, domain.ErrNoTrainingData):
		l.logger.Debug("retrain skipped", zap.Error(err))
	default:
		l.logger.Warn("background retrain failed", zap.Error(err))
	}
}
