// Package notify fans auction changes out to live viewers.
package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Message types.
const (
	SaleSettled      = "sale.settled"
	SaleReversed     = "sale.reversed"
	SaleDiscarded    = "sale.discarded"
	SelectionChanged = "selection.changed"
	RosterChanged    = "roster.changed"
)

// Message is one live update.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
	At   time.Time       `json:"at"`
}

// NewMessage builds a Message with data marshalled to JSON.
func NewMessage(typ string, data any, at time.Time) (Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: typ, Data: raw, At: at}, nil
}

// Publisher sends messages to every subscriber.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// Bus is a Publisher that can also be subscribed to.
type Bus interface {
	Publisher
	// Subscribe delivers messages until ctx is done, then closes the channel.
	Subscribe(ctx context.Context) (<-chan Message, error)
	Close() error
}

const subscriberBuffer = 64

// Local is an in-process Bus. A subscriber whose buffer is full misses
// messages instead of blocking publishers.
type Local struct {
	mu     sync.Mutex
	subs   map[chan Message]struct{}
	closed bool
}

// NewLocal returns an empty Local bus.
func NewLocal() *Local {
	return &Local{subs: make(map[chan Message]struct{})}
}

func (l *Local) Publish(_ context.Context, msg Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ch := range l.subs {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

func (l *Local) Subscribe(ctx context.Context) (<-chan Message, error) {
	ch := make(chan Message, subscriberBuffer)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		close(ch)
		return ch, nil
	}
	l.subs[ch] = struct{}{}

	go func() {
		<-ctx.Done()
		l.mu.Lock()
		defer l.mu.Unlock()
		if _, ok := l.subs[ch]; ok {
			delete(l.subs, ch)
			close(ch)
		}
	}()
	return ch, nil
}

func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	for ch := range l.subs {
		delete(l.subs, ch)
		close(ch)
	}
	return nil
}
