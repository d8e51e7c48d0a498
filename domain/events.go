// SPDX-License-Identifier: GPL-3.0-or-later
package domain

import "sync"

type EventKind int

const (
	EventProgress = EventKind(iota)
	EventConnected
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventProgress:
		return "progress"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	}
	return "unknown"
}

type Event struct {
	Kind     EventKind
	Protocol Protocol
	// Progress is set for EventProgress only.
	Progress *ProgressEvent
}

type Listener func(Event)

type subscription struct {
	id       int
	listener Listener
}

// Notifier delivers events synchronously to its subscribers in subscription
// order. The zero value is ready to use.
type Notifier struct {
	Protocol Protocol

	mu            sync.Mutex
	nextId        int
	subscriptions []subscription
}

func (n *Notifier) Subscribe(listener Listener) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextId
	n.nextId++
	n.subscriptions = append(n.subscriptions, subscription{id, listener})

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()

		for i, s := range n.subscriptions {
			if s.id == id {
				n.subscriptions = append(n.subscriptions[:i:i], n.subscriptions[i+1:]...)
				return
			}
		}
	}
}

func (n *Notifier) Emit(event Event) {
	event.Protocol = n.Protocol

	n.mu.Lock()
	subscriptions := make([]subscription, len(n.subscriptions))
	copy(subscriptions, n.subscriptions)
	n.mu.Unlock()

	for _, s := range subscriptions {
		s.listener(event)
	}
}

func (n *Notifier) Progress(progress ProgressEvent) {
	n.Emit(Event{Kind: EventProgress, Progress: &progress})
}

func (n *Notifier) Connected() {
	n.Emit(Event{Kind: EventConnected})
}

func (n *Notifier) Disconnected() {
	n.Emit(Event{Kind: EventDisconnected})
}
