package notifier

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifier_Subscribe_Unsubscribe(t *testing.T) {
	n := New()

	// Subscribe creates a channel under the topic
	ch := n.Subscribe("panel-1")
	require.NotNil(t, ch)

	n.mu.RLock()
	assert.Len(t, n.topics["panel-1"], 1)
	n.mu.RUnlock()

	// Unsubscribe removes the channel and forgets the empty topic
	n.Unsubscribe("panel-1", ch)

	n.mu.RLock()
	assert.Len(t, n.topics, 0)
	n.mu.RUnlock()

	// Channel is closed after unsubscribe
	_, ok := <-ch
	assert.False(t, ok)
}

func TestNotifier_Broadcast_TopicIsolation(t *testing.T) {
	n := New()

	ch1 := n.Subscribe("panel-1")
	ch2 := n.Subscribe("panel-2")
	defer n.Unsubscribe("panel-1", ch1)
	defer n.Unsubscribe("panel-2", ch2)

	n.Broadcast("panel-1")

	select {
	case <-ch1:
		// OK
	case <-time.After(100 * time.Millisecond):
		t.Error("ch1 did not receive broadcast")
	}

	// The other topic's listener must not be pinged
	select {
	case <-ch2:
		t.Error("ch2 received broadcast for another topic")
	case <-time.After(50 * time.Millisecond):
		// OK
	}
}

func TestNotifier_Broadcast_NonBlocking(t *testing.T) {
	n := New()

	ch := n.Subscribe("panel-1")
	defer n.Unsubscribe("panel-1", ch)

	// Fill the channel buffer
	ch <- struct{}{}

	done := make(chan bool)
	go func() {
		n.Broadcast("panel-1")
		done <- true
	}()

	select {
	case <-done:
		// OK - broadcast completed
	case <-time.After(100 * time.Millisecond):
		t.Error("Broadcast blocked on full channel")
	}
}

func TestNotifier_CloseTopic(t *testing.T) {
	n := New()

	ch1 := n.Subscribe("panel-1")
	ch2 := n.Subscribe("panel-1")

	n.CloseTopic("panel-1")

	// Both listeners observe the close
	_, ok := <-ch1
	assert.False(t, ok)
	_, ok = <-ch2
	assert.False(t, ok)

	n.mu.RLock()
	assert.Len(t, n.topics, 0)
	n.mu.RUnlock()

	// Unsubscribe after CloseTopic is safe
	n.Unsubscribe("panel-1", ch1)
}

func TestNotifier_Concurrent(t *testing.T) {
	n := New()

	var wg sync.WaitGroup
	const numGoroutines = 10

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch := n.Subscribe("panel-1")
			n.Broadcast("panel-1")
			n.Unsubscribe("panel-1", ch)
		}()
	}

	wg.Wait()

	n.mu.RLock()
	assert.Len(t, n.topics, 0)
	n.mu.RUnlock()
}
