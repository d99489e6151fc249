// Package push publishes notification payloads for delivery. Platform push
// formatting and device delivery live downstream of the delivery topic.
package push

import (
	"context"
	"sync"
)

// Message is one push payload, addressed to a device token or a topic.
type Message struct {
	Token string            `json:"token,omitempty"`
	Topic string            `json:"topic,omitempty"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Notifier is the push-delivery capability.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// Nop discards every message. Used when push delivery is disabled.
type Nop struct{}

// Send implements Notifier.
func (Nop) Send(ctx context.Context, msg Message) error { return nil }

// Recorder captures sent messages. Test double.
type Recorder struct {
	mu   sync.Mutex
	Sent []Message
}

// Send implements Notifier.
func (r *Recorder) Send(ctx context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Sent = append(r.Sent, msg)
	return nil
}

// Messages returns a copy of everything sent so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.Sent))
	copy(out, r.Sent)
	return out
}
