// Package mq provides the in-process topic-addressed message bus.
//
// Topics are hierarchical strings with "/"-separated segments, e.g.
// "buildsets/200/complete". Delivery is fire-and-forget from the
// publisher's perspective; ordering is preserved per topic.
package mq

import (
	"log"
	"strings"
	"sync"
)

// defaultBuffer is the per-subscription channel capacity. Publishing never
// blocks: a subscriber that falls this far behind starts losing messages.
const defaultBuffer = 256

// Message is one published event.
type Message struct {
	Topic   string
	Payload any
}

// Bus is an in-process publish/subscribe hub. The zero value is not usable;
// create one with New.
type Bus struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// Subscription receives messages whose topic matches its pattern on C.
type Subscription struct {
	// C carries matching messages in publish order.
	C <-chan Message

	bus     *Bus
	ch      chan Message
	pattern []string
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Publish delivers payload to every subscription whose pattern matches
// topic. Publish never blocks; slow subscribers drop messages.
func (b *Bus) Publish(topic string, payload any) {
	segments := strings.Split(topic, "/")
	msg := Message{Topic: topic, Payload: payload}

	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		if !matchTopic(sub.pattern, segments) {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			log.Printf("mq: dropping %s for slow subscriber %q", topic, strings.Join(sub.pattern, "/"))
		}
	}
}

// Subscribe registers interest in topics matching pattern. Within a pattern
// segment, "*" matches exactly one topic segment; a trailing "#" matches
// any remainder including none. Cancel the subscription when done.
func (b *Bus) Subscribe(pattern string) *Subscription {
	ch := make(chan Message, defaultBuffer)
	sub := &Subscription{
		C:       ch,
		bus:     b,
		ch:      ch,
		pattern: strings.Split(pattern, "/"),
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Cancel removes the subscription and closes its channel.
func (s *Subscription) Cancel() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if _, ok := s.bus.subs[s]; !ok {
		return
	}
	delete(s.bus.subs, s)
	close(s.ch)
}

// matchTopic reports whether a topic matches a subscription pattern.
func matchTopic(pattern, topic []string) bool {
	for i, p := range pattern {
		if p == "#" && i == len(pattern)-1 {
			return true
		}
		if i >= len(topic) {
			return false
		}
		if p != "*" && p != topic[i] {
			return false
		}
	}
	return len(pattern) == len(topic)
}
