package feedback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cicd-fixer/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeStore struct {
	mu       sync.Mutex
	statuses map[string]domain.FixStatus
	feedback []domain.FeedbackRecord
	examples []domain.TrainingExample
	sinceArg time.Time
	err      error
	onRead   func()
}

func newFakeStore(fixIDs ...string) *fakeStore {
	s := &fakeStore{statuses: map[string]domain.FixStatus{}}
	for _, id := range fixIDs {
		s.statuses[id] = domain.FixStatusPending
	}
	return s
}

func (s *fakeStore) SetFixStatus(_ context.Context, fixID string, status domain.FixStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.statuses[fixID]; !ok {
		return domain.ErrNotFound
	}
	s.statuses[fixID] = status
	return nil
}

func (s *fakeStore) AppendFeedback(_ context.Context, fb domain.FeedbackRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedback = append(s.feedback, fb)
	return nil
}

func (s *fakeStore) CountFeedbackSince(_ context.Context, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	s.sinceArg = since
	n := 0
	for _, fb := range s.feedback {
		if fb.CreatedAt.After(since) {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) TrainingExamples(context.Context) ([]domain.TrainingExample, error) {
	s.mu.Lock()
	examples := s.examples
	onRead := s.onRead
	s.mu.Unlock()
	if onRead != nil {
		onRead()
	}
	return examples, nil
}

type fakeTrainer struct {
	mu    sync.Mutex
	last  time.Time
	calls int
	seen  int
	done  chan struct{}
}

func (t *fakeTrainer) LastTraining() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

func (t *fakeTrainer) Train(examples []domain.TrainingExample, asOf time.Time) (*domain.TrainingReport, error) {
	t.mu.Lock()
	t.calls++
	t.seen = len(examples)
	t.last = asOf
	t.mu.Unlock()
	if t.done != nil {
		t.done <- struct{}{}
	}
	return &domain.TrainingReport{ModelVersion: "1.0-test", TrainingSamples: len(examples)}, nil
}

func (t *fakeTrainer) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

type fakeInvalidator struct{ cleared int }

func (f *fakeInvalidator) Clear() { f.cleared++ }

var now = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

func TestRecord_Validation(t *testing.T) {
	loop := New(newFakeStore("fix-1"), &fakeTrainer{}, zap.NewNop())
	ctx := context.Background()
	bad := 1.5

	tests := []struct {
		name          string
		fixID         string
		outcome       domain.FeedbackOutcome
		effectiveness *float64
	}{
		{name: "missing fix id", fixID: " ", outcome: domain.FeedbackApprove},
		{name: "unknown outcome", fixID: "fix-1", outcome: "maybe"},
		{name: "effectiveness out of range", fixID: "fix-1", outcome: domain.FeedbackApprove, effectiveness: &bad},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loop.Record(ctx, tt.fixID, tt.outcome, "", tt.effectiveness)
			require.Error(t, err)
			assert.True(t, domain.IsValidation(err))
		})
	}
}

func TestRecord_UnknownFix(t *testing.T) {
	loop := New(newFakeStore(), &fakeTrainer{}, zap.NewNop())

	_, err := loop.Record(context.Background(), "missing", domain.FeedbackReject, "", nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRecord_PersistsAndInvalidates(t *testing.T) {
	store := newFakeStore("fix-1")
	inv := &fakeInvalidator{}
	loop := New(store, &fakeTrainer{}, zap.NewNop(), WithInvalidator(inv), WithClock(func() time.Time { return now }))

	fb, err := loop.Record(context.Background(), "fix-1", domain.FeedbackApprove, "worked", nil)
	require.NoError(t, err)

	assert.NotEmpty(t, fb.ID)
	assert.Equal(t, now, fb.CreatedAt)
	assert.Equal(t, domain.FixStatusApproved, store.statuses["fix-1"])
	require.Len(t, store.feedback, 1)
	assert.Equal(t, "worked", store.feedback[0].Comment)
	assert.Equal(t, 1, inv.cleared)
	assert.True(t, loop.Trigger())
	assert.False(t, loop.Trigger(), "a pending request absorbs further triggers")
}

func TestRetrain_GatedOnNewFeedback(t *testing.T) {
	store := newFakeStore("fix-1")
	store.examples = []domain.TrainingExample{{ErrorLog: "npm ERR!", Outcome: domain.OutcomeSuccess}}
	trainer := &fakeTrainer{}
	loop := New(store, trainer, zap.NewNop(), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	_, err := loop.Retrain(ctx, false)
	assert.ErrorIs(t, err, ErrNothingNew)
	assert.Equal(t, 0, trainer.Calls())

	_, err = loop.Record(ctx, "fix-1", domain.FeedbackApprove, "", nil)
	require.NoError(t, err)

	report, err := loop.Retrain(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, "1.0-test", report.ModelVersion)
	assert.Equal(t, 1, trainer.seen)
	assert.Same(t, report, loop.LastReport())

	// The trainer's last training is now after the only feedback.
	_, err = loop.Retrain(ctx, false)
	assert.ErrorIs(t, err, ErrNothingNew)
	assert.Equal(t, trainer.LastTraining(), store.sinceArg)

	_, err = loop.Retrain(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 2, trainer.Calls())
}

func TestRetrain_FeedbackDuringTrainingIsNotLost(t *testing.T) {
	store := newFakeStore("fix-1", "fix-2")
	store.examples = []domain.TrainingExample{{ErrorLog: "npm ERR!", Outcome: domain.OutcomeSuccess}}
	trainer := &fakeTrainer{}

	var (
		clockMu sync.Mutex
		clock   = now
	)
	tick := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}
	loop := New(store, trainer, zap.NewNop(), WithClock(tick))
	ctx := context.Background()

	_, err := loop.Record(ctx, "fix-1", domain.FeedbackApprove, "", nil)
	require.NoError(t, err)

	// fix-2 is reviewed after the examples were read but before fitting ends.
	store.onRead = func() {
		store.onRead = nil
		_, err := loop.Record(ctx, "fix-2", domain.FeedbackReject, "", nil)
		require.NoError(t, err)
	}

	_, err = loop.Retrain(ctx, false)
	require.NoError(t, err)
	require.Len(t, store.feedback, 2)
	assert.True(t, store.feedback[1].CreatedAt.After(trainer.LastTraining()))

	_, err = loop.Retrain(ctx, false)
	require.NoError(t, err, "feedback recorded during training must trigger the next retrain")
	assert.Equal(t, 2, trainer.Calls())

	_, err = loop.Retrain(ctx, false)
	assert.ErrorIs(t, err, ErrNothingNew)
}

func TestRetrain_NoExamples(t *testing.T) {
	loop := New(newFakeStore(), &fakeTrainer{}, zap.NewNop())

	_, err := loop.Retrain(context.Background(), true)
	assert.ErrorIs(t, err, domain.ErrNoTrainingData)
}

func TestRetrain_StoreFailure(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("disk I/O error")
	loop := New(store, &fakeTrainer{}, zap.NewNop())

	_, err := loop.Retrain(context.Background(), false)
	assert.EqualError(t, err, "disk I/O error")
}

func TestRun_RetrainsOnTrigger(t *testing.T) {
	store := newFakeStore("fix-1")
	store.examples = []domain.TrainingExample{{ErrorLog: "x", Outcome: domain.OutcomeFailure}}
	trainer := &fakeTrainer{done: make(chan struct{}, 1)}
	loop := New(store, trainer, zap.NewNop(),
		WithRetrainOnFeedback(true),
		WithClock(func() time.Time { return now }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stopped := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(stopped)
	}()

	_, err := loop.Record(ctx, "fix-1", domain.FeedbackReject, "", nil)
	require.NoError(t, err)

	select {
	case <-trainer.done:
	case <-time.After(2 * time.Second):
		t.Fatal("retrain was not triggered")
	}

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}
