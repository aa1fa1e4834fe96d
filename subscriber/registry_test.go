package subscriber_test

import (
	"context"
	"testing"

	"hubsub/subscriber"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryMembership(t *testing.T) {
	j := &journal{}
	a := &recorder{name: "a", journal: j}
	b := &recorder{name: "b", journal: j}
	c := &recorder{name: "c", journal: j}

	registry := subscriber.NewRegistry(a, b)
	require.NoError(t, registry.Add(a))
	require.NoError(t, registry.Add(nil))
	assert.Equal(t, 2, registry.Len())

	snapshot := registry.Snapshot()
	require.NoError(t, registry.Add(c))
	registry.Remove(a)

	assert.Equal(t, []subscriber.Consumer{a, b}, snapshot)
	assert.Equal(t, []subscriber.Consumer{b, c}, registry.Snapshot())

	registry.Remove(a)
	assert.Equal(t, 2, registry.Len())

	registry.Clear()
	assert.Equal(t, 0, registry.Len())
	assert.Empty(t, registry.Snapshot())
}

// tagConsumer is a value consumer that can't be compared with ==
type tagConsumer struct {
	tags []string
}

func (tagConsumer) StartConsumption(ctx context.Context) {}

func (tagConsumer) Consume(ctx context.Context, contentType string, payload string) error {
	return nil
}

func (tagConsumer) EndConsumption(ctx context.Context, completedCleanly bool) {}

// boxConsumer is comparable by type but may hold an uncomparable value
type boxConsumer struct {
	name  string
	value any
}

func (boxConsumer) StartConsumption(ctx context.Context) {}

func (boxConsumer) Consume(ctx context.Context, contentType string, payload string) error {
	return nil
}

func (boxConsumer) EndConsumption(ctx context.Context, completedCleanly bool) {}

func TestRegistryRejectsUncomparableConsumers(t *testing.T) {
	registry := subscriber.NewRegistry(tagConsumer{tags: []string{"skipped"}})
	assert.Zero(t, registry.Len())

	err := registry.Add(tagConsumer{tags: []string{"a"}})
	assert.ErrorIs(t, err, subscriber.ErrUncomparableConsumer)
	assert.NotPanics(t, func() { registry.Remove(tagConsumer{tags: []string{"a"}}) })
	assert.Zero(t, registry.Len())

	pointer := &tagConsumer{tags: []string{"a"}}
	require.NoError(t, registry.Add(pointer))
	registry.Remove(pointer)
	assert.Zero(t, registry.Len())
}

func TestRegistryValueConsumers(t *testing.T) {
	registry := subscriber.NewRegistry()

	require.NoError(t, registry.Add(boxConsumer{name: "a"}))
	require.NoError(t, registry.Add(boxConsumer{name: "a"}))
	assert.Equal(t, 1, registry.Len())

	// == on these panics, the registry treats them as distinct
	assert.NotPanics(t, func() {
		require.NoError(t, registry.Add(boxConsumer{name: "b", value: []string{"x"}}))
		require.NoError(t, registry.Add(boxConsumer{name: "b", value: []string{"x"}}))
		registry.Remove(boxConsumer{name: "b", value: []string{"x"}})
	})
	assert.Equal(t, 3, registry.Len())

	registry.Remove(boxConsumer{name: "a"})
	assert.Equal(t, 2, registry.Len())
}
