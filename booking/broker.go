package booking

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anjiri1684/rental_escrow/models"
)

// Update is published to subscribers of a booking after every committed
// transition.
type Update struct {
	BookingID     uuid.UUID            `json:"booking_id"`
	Event         Event                `json:"event"`
	Status        models.BookingStatus `json:"status"`
	PaymentStatus models.PaymentStatus `json:"payment_status"`
	Version       int64                `json:"version"`
	At            time.Time            `json:"at"`
}

const subscriberBuffer = 16

// Broker fans updates out per booking id. Publishing never blocks: a
// subscriber whose buffer is full misses the update and is expected to
// re-read the booking.
type Broker struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uuid.UUID]map[uint64]chan Update
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[uuid.UUID]map[uint64]chan Update)}
}

// Subscribe returns a channel of updates for bookingID and a cancel func
// that closes it. cancel is safe to call more than once.
func (b *Broker) Subscribe(bookingID uuid.UUID) (<-chan Update, func()) {
	ch := make(chan Update, subscriberBuffer)

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if b.subs[bookingID] == nil {
		b.subs[bookingID] = make(map[uint64]chan Update)
	}
	b.subs[bookingID][id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[bookingID], id)
			if len(b.subs[bookingID]) == 0 {
				delete(b.subs, bookingID)
			}
			close(ch)
		})
	}
}

func (b *Broker) Publish(u Update) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[u.BookingID] {
		select {
		case ch <- u:
		default:
		}
	}
}

func (b *Broker) Subscribers(bookingID uuid.UUID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[bookingID])
}
