package subscriber_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"hubsub/models"
	"hubsub/subscriber"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingPoller holds every poll until release is closed
type blockingPoller struct {
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
	err     error
}

func newBlockingPoller() *blockingPoller {
	return &blockingPoller{
		entered: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
}

func (p *blockingPoller) Poll(ctx context.Context) (models.PollResult, error) {
	p.calls.Add(1)
	p.entered <- struct{}{}
	<-p.release
	return models.PollResult{Outcome: models.OutcomeDrained, Delivered: 1}, p.err
}

type staticChecker bool

func (c staticChecker) IsReady(ctx context.Context) bool {
	return bool(c)
}

func TestCoordinatorDropsOverlappingTicks(t *testing.T) {
	poller := newBlockingPoller()
	coordinator := subscriber.NewCoordinator(poller, nil)

	done := make(chan bool)
	go func() {
		accepted, _ := coordinator.Tick(context.Background())
		done <- accepted
	}()

	select {
	case <-poller.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("first poll never started")
	}
	assert.True(t, coordinator.Running())

	accepted, err := coordinator.Tick(context.Background())
	require.NoError(t, err)
	assert.False(t, accepted)

	close(poller.release)
	assert.True(t, <-done)
	assert.Equal(t, int32(1), poller.calls.Load())
	assert.False(t, coordinator.Running())

	// Idle again, the next tick runs
	accepted, err = coordinator.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.Equal(t, int32(2), poller.calls.Load())
}

func TestCoordinatorConcurrentTicksRunOnePoll(t *testing.T) {
	poller := newBlockingPoller()
	coordinator := subscriber.NewCoordinator(poller, nil)

	go coordinator.Tick(context.Background())
	<-poller.entered

	var wg sync.WaitGroup
	var accepted atomic.Int32
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := coordinator.Tick(context.Background()); ok {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()

	close(poller.release)
	assert.Equal(t, int32(0), accepted.Load())
	assert.Equal(t, int32(1), poller.calls.Load())
}

func TestCoordinatorPreconditionNotMet(t *testing.T) {
	poller := newBlockingPoller()
	coordinator := subscriber.NewCoordinator(poller, staticChecker(false))

	accepted, err := coordinator.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.Equal(t, int32(0), poller.calls.Load())
	assert.False(t, coordinator.Running())

	last, ok := coordinator.LastResult()
	require.True(t, ok)
	assert.Equal(t, models.OutcomeNotReady, last.Outcome)
}

func TestCoordinatorPropagatesPollError(t *testing.T) {
	poller := newBlockingPoller()
	poller.err = subscriber.ErrCursorWrite
	close(poller.release)
	coordinator := subscriber.NewCoordinator(poller, staticChecker(true))

	_, ok := coordinator.LastResult()
	assert.False(t, ok)

	accepted, err := coordinator.Tick(context.Background())
	assert.True(t, accepted)
	assert.True(t, errors.Is(err, subscriber.ErrCursorWrite))

	last, ok := coordinator.LastResult()
	require.True(t, ok)
	assert.Equal(t, 1, last.Delivered)
}

func TestCoordinatorWithWalkerDropsTickWithoutSideEffects(t *testing.T) {
	feed := threePageFeed()
	cursor := &memCursor{uri: "p2"}

	var coordinator *subscriber.Coordinator
	var nested bool
	consumer := &recorder{name: "a", journal: &journal{}}
	consumer.onEvent = func(payload string) {
		if payload == "e3" {
			nested, _ = coordinator.Tick(context.Background())
		}
	}
	coordinator = subscriber.NewCoordinator(
		subscriber.NewWalker("p1", feed, cursor, subscriber.NewRegistry(consumer)), nil)

	accepted, err := coordinator.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.False(t, nested)
	assert.Equal(t, []string{"e3", "e4", "e5", "e6"}, consumer.events)
	assert.Equal(t, 1, consumer.starts)
	assert.Equal(t, 1, cursor.writes)
}

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		spec    string
		wantErr bool
	}{
		{spec: "*/30 * * * * *"},
		{spec: "*/5 * * * *"},
		{spec: "@every 1m"},
		{spec: "@hourly"},
		{spec: "not a cron", wantErr: true},
		{spec: "", wantErr: true},
		{spec: "61 * * * *", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			_, err := subscriber.ParseSchedule(tt.spec)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
