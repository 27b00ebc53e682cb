package guards

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	saleredis "github.com/lanternetwork/saletracker/pkg/redis"
)

// IdempotencyRecord is the stored state for a key. A pending record means
// another request holds the key but has not finished; a finished record
// carries the prior outcome to replay.
type IdempotencyRecord struct {
	Pending   bool            `json:"pending"`
	Outcome   json.RawMessage `json:"outcome,omitempty"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// IdempotencyStore is a TTL-backed store of processed request keys. Reserve
// uses an atomic set-if-absent so a near-simultaneous duplicate request is
// very likely to observe the reservation; exact-once under true concurrent
// races is best-effort, a property of the backing store rather than a hard
// guarantee.
type IdempotencyStore interface {
	// Reserve claims key for the caller. When the claim fails the existing
	// record is returned so the caller can replay or reject.
	Reserve(ctx context.Context, key string) (bool, *IdempotencyRecord, error)
	// Store finalizes a reserved key with the outcome to replay for the
	// rest of the TTL window.
	Store(ctx context.Context, key string, outcome json.RawMessage) error
	// Release drops a reservation after a failed run so a retry can
	// execute.
	Release(ctx context.Context, key string) error
}

// MemoryIdempotencyStore is a process-local idempotency store
type MemoryIdempotencyStore struct {
	ttl     time.Duration
	mu      sync.Mutex
	records map[string]*IdempotencyRecord
	now     func() time.Time
}

// NewMemoryIdempotencyStore creates a new MemoryIdempotencyStore
func NewMemoryIdempotencyStore(ttl time.Duration) *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		ttl:     ttl,
		records: make(map[string]*IdempotencyRecord),
		now:     time.Now,
	}
}

func (m *MemoryIdempotencyStore) Reserve(_ context.Context, key string) (bool, *IdempotencyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if record, ok := m.records[key]; ok && now.Before(record.ExpiresAt) {
		copied := *record
		return false, &copied, nil
	}

	m.records[key] = &IdempotencyRecord{
		Pending:   true,
		ExpiresAt: now.Add(m.ttl),
	}
	return true, nil, nil
}

func (m *MemoryIdempotencyStore) Store(_ context.Context, key string, outcome json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[key]
	if !ok {
		record = &IdempotencyRecord{ExpiresAt: m.now().Add(m.ttl)}
		m.records[key] = record
	}
	record.Pending = false
	record.Outcome = outcome
	return nil
}

func (m *MemoryIdempotencyStore) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, key)
	return nil
}

// RedisIdempotencyStore is a shared idempotency store for multi-instance
// deployments
type RedisIdempotencyStore struct {
	client    *saleredis.Client
	ttl       time.Duration
	keyPrefix string
}

// NewRedisIdempotencyStore creates a new RedisIdempotencyStore
func NewRedisIdempotencyStore(client *saleredis.Client, ttl time.Duration, keyPrefix string) *RedisIdempotencyStore {
	if keyPrefix == "" {
		keyPrefix = "idempotency:"
	}
	return &RedisIdempotencyStore{
		client:    client,
		ttl:       ttl,
		keyPrefix: keyPrefix,
	}
}

func (r *RedisIdempotencyStore) Reserve(ctx context.Context, key string) (bool, *IdempotencyRecord, error) {
	record := IdempotencyRecord{
		Pending:   true,
		ExpiresAt: time.Now().UTC().Add(r.ttl),
	}
	body, err := json.Marshal(record)
	if err != nil {
		return false, nil, err
	}

	set, err := r.client.SetNX(ctx, r.keyPrefix+key, body, r.ttl)
	if err != nil {
		return false, nil, err
	}
	if set {
		return true, nil, nil
	}

	existing, err := r.client.Get(ctx, r.keyPrefix+key)
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			// Expired between SetNX and Get, treat as a lost race
			return false, &IdempotencyRecord{Pending: true}, nil
		}
		return false, nil, err
	}

	var found IdempotencyRecord
	if err := json.Unmarshal([]byte(existing), &found); err != nil {
		return false, nil, err
	}
	return false, &found, nil
}

func (r *RedisIdempotencyStore) Store(ctx context.Context, key string, outcome json.RawMessage) error {
	record := IdempotencyRecord{
		Outcome:   outcome,
		ExpiresAt: time.Now().UTC().Add(r.ttl),
	}
	body, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.keyPrefix+key, body, r.ttl)
}

func (r *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.keyPrefix+key)
}
