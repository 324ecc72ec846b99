package engine

import (
	"sync"
	"time"

	"github.com/postfleet/postfleet/internal/models"
)

// Event describes one committed lifecycle transition.
type Event struct {
	TaskID       string
	UserID       int64
	AccountID    int64
	Platform     string
	FromState    models.TaskState
	ToState      models.TaskState
	ErrorKind    models.ErrorKind
	ErrorMessage string
	At           time.Time
}

// Bus fans lifecycle events out to subscribers. Publishing never blocks a
// state commit: a subscriber that cannot keep up loses events rather than
// stalling the engine.
type Bus struct {
	mu   sync.RWMutex
	subs []chan Event
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) Subscribe(buffer int) <-chan Event {
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
