package relay

import (
	"sync"

	"github.com/eapache/queue"

	"message-relay/internal/domain"
)

// Mailbox is an unbounded FIFO between broker delivery and the polling worker.
type Mailbox struct {
	mu sync.Mutex
	q  *queue.Queue
}

func NewMailbox() *Mailbox {
	return &Mailbox{q: queue.New()}
}

// Push appends msg.
func (m *Mailbox) Push(msg domain.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.q.Add(msg)
}

// Pop removes the oldest message. It never blocks.
func (m *Mailbox) Pop() (domain.Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.q.Length() == 0 {
		return domain.Message{}, false
	}
	return m.q.Remove().(domain.Message), true
}

func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.q.Length()
}
