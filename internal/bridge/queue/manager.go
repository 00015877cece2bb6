package queue

import (
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// IngestPolicy and DeliveryPolicy are the retry/retention tables for the
// ingest and delivery queues respectively.
var (
	IngestPolicy = Policy{
		Concurrency:    10,
		MaxRetries:     3,
		InitialBackoff: time.Second,
		KeepCompleted:  1000,
		KeepFailed:     5000,
	}
	DeliveryPolicy = Policy{
		Concurrency:    5,
		MaxRetries:     5,
		InitialBackoff: 2 * time.Second,
		KeepCompleted:  500,
		KeepFailed:     2000,
	}
)

// Manager owns the single ingest queue and lazily creates one delivery queue
// per (platform, channelID), memoizing instances by name so RouterWorker and
// WorkerSupervisor observe the same Queue for a given key.
type Manager struct {
	client *redis.Client

	mu       sync.Mutex
	ingest   *Queue
	delivery map[string]*Queue
}

// NewManager binds a Manager to client.
func NewManager(client *redis.Client) *Manager {
	return &Manager{
		client:   client,
		delivery: make(map[string]*Queue),
	}
}

// Ingest returns the single global ingest queue.
func (m *Manager) Ingest() *Queue {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ingest == nil {
		m.ingest = New(m.client, "ingest", IngestPolicy)
	}
	return m.ingest
}

// All returns every queue the manager has created so far (the ingest queue,
// if requested at least once, plus every memoized delivery queue). The
// JobReaper calls this each sweep so newly created delivery queues are
// picked up without a separate registration step.
func (m *Manager) All() []*Queue {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]*Queue, 0, len(m.delivery)+1)
	if m.ingest != nil {
		all = append(all, m.ingest)
	}
	for _, q := range m.delivery {
		all = append(all, q)
	}
	return all
}

// Delivery returns the per-channel delivery queue for (platform, channelID),
// creating it on first use. Name follows deliver:<platform>:<channelId> —
// load-bearing, since a delivery worker binds to exactly one queue name.
func (m *Manager) Delivery(platform, channelID string) *Queue {
	name := fmt.Sprintf("deliver:%s:%s", platform, channelID)

	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.delivery[name]
	if !ok {
		q = New(m.client, name, DeliveryPolicy)
		m.delivery[name] = q
	}
	return q
}
