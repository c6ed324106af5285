package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startBus(t *testing.T) (*Bus[string, int], context.Context) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	b := NewBus[string, int](zap.NewNop())
	require.NoError(t, b.Start(ctx))
	<-b.Ready()
	return b, ctx
}

func receive(t *testing.T, ch <-chan Message[string, int]) Message[string, int] {
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return Message[string, int]{}
	}
}

func TestBusKeyedSubscription(t *testing.T) {
	b, ctx := startBus(t)

	sub := b.Subscribe(ctx, "a")
	go b.Publish(ctx, "a", 1)

	msg := receive(t, sub)
	assert.Equal(t, "a", msg.Key)
	assert.Equal(t, 1, msg.Message)
}

func TestBusKeyedSubscriptionIgnoresOtherKeys(t *testing.T) {
	b, ctx := startBus(t)

	subA := b.Subscribe(ctx, "a")
	go func() {
		b.Publish(ctx, "b", 2)
		b.Publish(ctx, "a", 1)
	}()

	msg := receive(t, subA)
	assert.Equal(t, "a", msg.Key)
}

func TestBusGlobalSubscription(t *testing.T) {
	b, ctx := startBus(t)

	sub := b.Subscribe(ctx)
	go func() {
		b.Publish(ctx, "a", 1)
		b.Publish(ctx, "b", 2)
	}()

	assert.Equal(t, 1, receive(t, sub).Message)
	assert.Equal(t, 2, receive(t, sub).Message)
}

func TestBusPublisherBindsKey(t *testing.T) {
	b, ctx := startBus(t)

	sub := b.Subscribe(ctx, "dev")
	pub := b.CreatePublisher("dev")
	go pub(ctx, 7)

	msg := receive(t, sub)
	assert.Equal(t, "dev", msg.Key)
	assert.Equal(t, 7, msg.Message)
}

func TestBusSubscriptionClosesOnCancel(t *testing.T) {
	b, ctx := startBus(t)

	subCtx, cancel := context.WithCancel(ctx)
	sub := b.Subscribe(subCtx, "a")
	cancel()

	select {
	case _, ok := <-sub:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription channel did not close")
	}
}
