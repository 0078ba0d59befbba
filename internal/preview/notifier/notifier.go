// Package notifier provides a keyed broadcast mechanism for panel refresh
// pushes.
package notifier

import "sync"

// Notifier broadcasts refresh signals to the listeners of a topic (one topic
// per open panel). Listeners receive an empty struct when the panel content
// changed and should re-fetch it. A closed topic closes all its listener
// channels, which tells listeners the panel is gone.
type Notifier struct {
	mu     sync.RWMutex
	topics map[string]map[chan struct{}]struct{}
}

// New creates a new Notifier instance.
func New() *Notifier {
	return &Notifier{
		topics: make(map[string]map[chan struct{}]struct{}),
	}
}

// Subscribe returns a channel that receives pings for the topic.
// The caller must call Unsubscribe when done to prevent leaks.
func (n *Notifier) Subscribe(topic string) chan struct{} {
	ch := make(chan struct{}, 1)
	n.mu.Lock()
	listeners, ok := n.topics[topic]
	if !ok {
		listeners = make(map[chan struct{}]struct{})
		n.topics[topic] = listeners
	}
	listeners[ch] = struct{}{}
	n.mu.Unlock()
	return ch
}

// Unsubscribe removes a listener channel and closes it. Safe to call after
// CloseTopic already closed the channel.
func (n *Notifier) Unsubscribe(topic string, ch chan struct{}) {
	n.mu.Lock()
	defer n.mu.Unlock()

	listeners, ok := n.topics[topic]
	if !ok {
		return
	}
	if _, ok := listeners[ch]; !ok {
		return
	}
	delete(listeners, ch)
	if len(listeners) == 0 {
		delete(n.topics, topic)
	}
	close(ch)
}

// Broadcast sends a ping to all listeners of the topic.
// Non-blocking: if a listener's channel is full, the ping is skipped.
func (n *Notifier) Broadcast(topic string) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for ch := range n.topics[topic] {
		select {
		case ch <- struct{}{}:
		default:
			// Channel full, skip (listener will catch up on next broadcast)
		}
	}
}

// CloseTopic closes all listener channels of the topic and forgets it.
// Listeners observe the close as a receive with ok == false.
func (n *Notifier) CloseTopic(topic string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for ch := range n.topics[topic] {
		close(ch)
	}
	delete(n.topics, topic)
}
