package syncer

import (
	"log"
	"time"

	"github.com/ariefcatur/go-realtime-fulfillment/internal/orders"
)

// Event reports drain progress. Type is one of orders.EventSyncStarted,
// orders.EventSyncComplete or orders.EventSyncFailed.
type Event struct {
	Type     string    `json:"type"`
	ClientID string    `json:"client_id,omitempty"`
	OrderID  string    `json:"order_id,omitempty"`
	Existed  bool      `json:"existed,omitempty"`
	Attempts int       `json:"attempts,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	Pending  int       `json:"pending,omitempty"`
	At       time.Time `json:"at"`
}

// Subscribe returns a channel of sync events and a func that detaches it. A
// subscriber that falls behind loses events rather than stalling the drain.
func (m *Manager) Subscribe(buf int) (<-chan Event, func()) {
	if buf <= 0 {
		buf = 16
	}
	ch := make(chan Event, buf)
	m.subMu.Lock()
	m.subSeq++
	id := m.subSeq
	m.subs[id] = ch
	m.subMu.Unlock()

	return ch, func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		if _, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(ch)
		}
	}
}

func (m *Manager) publish(ev Event) {
	ev.At = m.now()
	m.subMu.RLock()
	defer m.subMu.RUnlock()
	for id, ch := range m.subs {
		select {
		case ch <- ev:
		default:
			log.Printf("sync: drop %s event for subscriber %d", ev.Type, id)
		}
	}
}

func completeEvent(clientID string, o orders.Order, existed bool) Event {
	return Event{Type: orders.EventSyncComplete, ClientID: clientID, OrderID: o.ID, Existed: existed}
}
