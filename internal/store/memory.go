package store

import (
	"sort"
	"sync"
)

const subscriberBuffer = 100

// Outcome values counted by [MemoryStore.Totals].
const (
	OutcomeDelivered = "delivered"
	OutcomeAbandoned = "abandoned"
)

// MemoryStore is an in-memory [Store].
//
// Subscribers get records through channels buffered to 100 entries. Sends
// never block: a subscriber with a full buffer misses the record.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]DeliveryRecord
	totals  Totals

	subMu       sync.RWMutex
	subscribers map[chan DeliveryRecord]struct{}
}

// NewMemoryStore creates an empty [MemoryStore].
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:     make(map[string]DeliveryRecord),
		subscribers: make(map[chan DeliveryRecord]struct{}),
	}
}

// Update implements [Store].
func (m *MemoryStore) Update(record DeliveryRecord) {
	m.mu.Lock()
	m.records[record.Recipient] = record
	switch record.Outcome {
	case OutcomeDelivered:
		m.totals.Delivered++
	case OutcomeAbandoned:
		m.totals.Abandoned++
	}
	m.mu.Unlock()

	m.notifySubscribers(record)
}

// GetAll implements [Store].
func (m *MemoryStore) GetAll() []DeliveryRecord {
	m.mu.RLock()
	records := make([]DeliveryRecord, 0, len(m.records))
	for _, r := range m.records {
		records = append(records, r)
	}
	m.mu.RUnlock()

	sort.Slice(records, func(i, j int) bool {
		return records[i].Recipient < records[j].Recipient
	})
	return records
}

// Totals implements [Store].
func (m *MemoryStore) Totals() Totals {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totals
}

// Subscribe implements [Store].
func (m *MemoryStore) Subscribe() <-chan DeliveryRecord {
	ch := make(chan DeliveryRecord, subscriberBuffer)

	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()

	return ch
}

// Unsubscribe implements [Store].
func (m *MemoryStore) Unsubscribe(ch <-chan DeliveryRecord) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for subCh := range m.subscribers {
		if subCh == ch {
			delete(m.subscribers, subCh)
			close(subCh)
			break
		}
	}
}

func (m *MemoryStore) notifySubscribers(record DeliveryRecord) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for ch := range m.subscribers {
		select {
		case ch <- record:
		default:
			// slow subscriber
		}
	}
}
