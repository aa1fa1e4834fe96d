package subscriber_test

import (
	"context"
	"testing"
	"time"

	"hubsub/subscriber"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerStopWaitsForRunningPoll(t *testing.T) {
	poller := newBlockingPoller()
	coordinator := subscriber.NewCoordinator(poller, nil)

	// cron rounds @every to whole seconds
	scheduler, err := subscriber.NewScheduler("@every 1s", coordinator)
	require.NoError(t, err)
	scheduler.Start(context.Background())

	select {
	case <-poller.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler never ticked")
	}
	assert.True(t, coordinator.Running())

	stopped := scheduler.Stop()
	select {
	case <-stopped.Done():
		t.Fatal("stop returned while a poll was still running")
	case <-time.After(100 * time.Millisecond):
	}

	close(poller.release)

	select {
	case <-stopped.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("stop never returned after the poll finished")
	}
	assert.False(t, coordinator.Running())

	last, ok := coordinator.LastResult()
	require.True(t, ok)
	assert.Equal(t, 1, last.Delivered)
}

func TestSchedulerRejectsBadCron(t *testing.T) {
	_, err := subscriber.NewScheduler("every so often", subscriber.NewCoordinator(newBlockingPoller(), nil))
	assert.Error(t, err)
}
