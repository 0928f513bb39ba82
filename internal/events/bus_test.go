package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishDeliversOnlyToMatchingTypeSubscribers(t *testing.T) {
	b := NewBus()
	var mu sync.Mutex
	var gotOpened, gotClosed int

	b.Subscribe(TradeOpened, func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		gotOpened++
	})
	b.Subscribe(TradeClosed, func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		gotClosed++
	})

	b.Publish(Event{Type: TradeOpened})
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotOpened == 1 && gotClosed == 0
	})
}

func TestBus_SubscribeAllReceivesEveryType(t *testing.T) {
	b := NewBus()
	var mu sync.Mutex
	var seen []Type

	b.SubscribeAll(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, e.Type)
	})

	b.Publish(Event{Type: TradeOpened})
	b.Publish(Event{Type: PriceUpdate})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	})
}

func TestBus_PublishStampsTimestampWhenZero(t *testing.T) {
	b := NewBus()
	received := make(chan Event, 1)
	b.SubscribeAll(func(e Event) { received <- e })

	before := time.Now()
	b.Publish(Event{Type: TradeOpened})

	select {
	case e := <-received:
		assert.False(t, e.Timestamp.Before(before))
	case <-time.After(time.Second):
		t.Fatal("subscriber was never called")
	}
}

func TestBus_PublishWithNoSubscribersDoesNotBlock(t *testing.T) {
	b := NewBus()
	done := make(chan struct{})
	go func() {
		b.Publish(Event{Type: TradeOpened})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked with no subscribers")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, cond(), "condition never became true")
}
