// Package notify records customer notifications. Delivery to a real channel
// is out of scope; every accepted message is kept in a bounded outbox and
// logged.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const DefaultOutboxSize = 1000

type Notification struct {
	ID      string    `json:"id"`
	UserID  string    `json:"user_id"`
	OrderID string    `json:"order_id,omitempty"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	SentAt  time.Time `json:"sent_at"`
}

// Outbox keeps the most recent notifications, oldest dropped first.
type Outbox struct {
	mu    sync.RWMutex
	items []Notification
	limit int
}

func NewOutbox(limit int) *Outbox {
	if limit <= 0 {
		limit = DefaultOutboxSize
	}
	return &Outbox{limit: limit}
}

func (o *Outbox) Add(n Notification) Notification {
	n.ID = uuid.NewString()
	if n.SentAt.IsZero() {
		n.SentAt = time.Now().UTC()
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.items = append(o.items, n)
	if over := len(o.items) - o.limit; over > 0 {
		o.items = append([]Notification(nil), o.items[over:]...)
	}
	return n
}

// List returns notifications newest first, optionally for one user.
func (o *Outbox) List(userID string) []Notification {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]Notification, 0, len(o.items))
	for i := len(o.items) - 1; i >= 0; i-- {
		if userID == "" || o.items[i].UserID == userID {
			out = append(out, o.items[i])
		}
	}
	return out
}
