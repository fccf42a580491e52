package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thinkscotty/newsroom/internal/models"
)

type fakeRunner struct {
	calls    atomic.Int32
	sources  atomic.Int32
	deadline atomic.Pointer[time.Time]
	panics   bool
}

func (f *fakeRunner) RunIngestion(ctx context.Context, date string, sources []models.FeedSource) (*models.RunReport, error) {
	f.calls.Add(1)
	if d, ok := ctx.Deadline(); ok {
		f.deadline.Store(&d)
	}
	f.sources.Store(int32(len(sources)))
	if f.panics {
		panic("boom")
	}
	return &models.RunReport{Date: date, Status: models.RunSucceeded}, nil
}

type fakeFeeds struct {
	feeds []models.FeedSource
	err   error
}

func (f fakeFeeds) Enabled(ctx context.Context) ([]models.FeedSource, error) {
	return f.feeds, f.err
}

func TestTrigger(t *testing.T) {
	r := &fakeRunner{}
	s := New(r, fakeFeeds{feeds: []models.FeedSource{{Name: "a"}, {Name: "b"}}}, Options{})

	assert.Nil(t, s.LastReport())
	report, err := s.Trigger(context.Background(), "2024-05-02")
	require.NoError(t, err)
	assert.Equal(t, "2024-05-02", report.Date)
	assert.Equal(t, int32(2), r.sources.Load())
	assert.Same(t, report, s.LastReport())
}

func TestTrigger_RunTimeout(t *testing.T) {
	r := &fakeRunner{}
	_, err := New(r, fakeFeeds{}, Options{}).Trigger(context.Background(), "2024-05-02")
	require.NoError(t, err)
	assert.Nil(t, r.deadline.Load())

	start := time.Now()
	_, err = New(r, fakeFeeds{}, Options{RunTimeout: 30 * time.Minute}).Trigger(context.Background(), "2024-05-02")
	require.NoError(t, err)
	d := r.deadline.Load()
	require.NotNil(t, d)
	assert.WithinDuration(t, start.Add(30*time.Minute), *d, time.Minute)
}

func TestTrigger_FeedError(t *testing.T) {
	r := &fakeRunner{}
	s := New(r, fakeFeeds{err: errors.New("store down")}, Options{})

	_, err := s.Trigger(context.Background(), "")
	assert.ErrorContains(t, err, "store down")
	assert.Zero(t, r.calls.Load())
}

func TestRun_RunOnStartAndStop(t *testing.T) {
	r := &fakeRunner{}
	s := New(r, fakeFeeds{}, Options{Schedule: "0 7 * * *", RunOnStart: true})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	assert.Eventually(t, func() bool { return r.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestRun_BadSchedule(t *testing.T) {
	s := New(&fakeRunner{}, fakeFeeds{}, Options{Schedule: "whenever"})
	assert.Error(t, s.Run(context.Background()))
}

func TestSafeTrigger_RecoversPanic(t *testing.T) {
	r := &fakeRunner{panics: true}
	s := New(r, fakeFeeds{}, Options{RunTimeout: time.Second})

	assert.NotPanics(t, func() { s.safeTrigger(context.Background(), "test") })
	assert.Equal(t, int32(1), r.calls.Load())
	assert.Nil(t, s.LastReport())
}
