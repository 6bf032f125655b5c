package eventbus

import (
	"sync"
	"testing"
)

func TestEmitInvokesInRegistrationOrder(t *testing.T) {
	b := New()
	var order []int
	var mu sync.Mutex

	for i := 0; i < 3; i++ {
		i := i
		b.Subscribe(ChannelBuild, func(msg interface{}) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}

	b.Emit(ChannelBuild, "go")

	if len(order) != 3 {
		t.Fatalf("expected 3 invocations, got %d", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Errorf("expected registration order %v, got %v", []int{0, 1, 2}, order)
		}
	}
}

func TestEmitIsolatesPanickingHandler(t *testing.T) {
	b := New()
	var secondCalled bool

	b.Subscribe(ChannelTest, func(msg interface{}) {
		panic("boom")
	})
	b.Subscribe(ChannelTest, func(msg interface{}) {
		secondCalled = true
	})

	b.Emit(ChannelTest, "run")

	if !secondCalled {
		t.Error("expected second handler to run despite first panicking")
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := New()
	calls := 0
	unsubscribe := b.Subscribe(ChannelClean, func(msg interface{}) { calls++ })

	b.Emit(ChannelClean, nil)
	unsubscribe()
	unsubscribe() // must not panic or double-remove another subscriber
	b.Emit(ChannelClean, nil)

	if calls != 1 {
		t.Errorf("expected 1 call before unsubscribe, got %d", calls)
	}
}

func TestSubscriberCount(t *testing.T) {
	b := New()
	if b.SubscriberCount(ChannelSetup) != 0 {
		t.Fatal("expected 0 subscribers initially")
	}

	unsubscribe := b.Subscribe(ChannelSetup, func(msg interface{}) {})
	if b.SubscriberCount(ChannelSetup) != 1 {
		t.Fatal("expected 1 subscriber after subscribe")
	}

	unsubscribe()
	if b.SubscriberCount(ChannelSetup) != 0 {
		t.Fatal("expected 0 subscribers after unsubscribe")
	}
}

func TestClearRemovesAllChannels(t *testing.T) {
	b := New()
	b.Subscribe(ChannelBuild, func(msg interface{}) {})
	b.Subscribe(ChannelTest, func(msg interface{}) {})

	b.Clear()

	if b.SubscriberCount(ChannelBuild) != 0 || b.SubscriberCount(ChannelTest) != 0 {
		t.Error("expected Clear() to remove subscribers from every channel")
	}
}

func TestLateSubscriberMissesPastEmit(t *testing.T) {
	b := New()
	var called bool

	b.Emit(ChannelActivity, "before subscribe")
	b.Subscribe(ChannelActivity, func(msg interface{}) { called = true })

	if called {
		t.Error("late subscriber must not receive events emitted before it subscribed")
	}
}
