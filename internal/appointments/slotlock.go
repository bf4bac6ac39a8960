package appointments

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/practicekit/booking-engine/pkg/logging"
)

// SlotLock serializes the conflict-check/insert window for one practice-day.
// Without it, two requests for overlapping slots can both pass the conflict
// check before either inserts.
type SlotLock interface {
	Acquire(ctx context.Context, practiceID string, date time.Time) (release func(), err error)
}

// ErrSlotBusy is returned when another booking holds the practice-day lease.
// Callers should retry; the slot may still be clear.
var ErrSlotBusy = fmt.Errorf("appointments: slot lock held by concurrent booking")

// RedisSlotLock implements SlotLock with a Redis SET NX lease keyed on
// practice + date. The lease covers the whole day rather than the candidate
// interval: leases are held for milliseconds and a day key keeps the
// contention check trivially correct for any pair of overlapping intervals.
type RedisSlotLock struct {
	client *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

// NewRedisSlotLock creates a slot lock with the given lease TTL.
func NewRedisSlotLock(client *redis.Client, ttl time.Duration, logger *logging.Logger) *RedisSlotLock {
	if client == nil {
		panic("appointments: redis client required")
	}
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &RedisSlotLock{client: client, ttl: ttl, logger: logger}
}

// Acquire takes the practice-day lease. The returned release func must be
// called once the insert has committed (or failed).
func (l *RedisSlotLock) Acquire(ctx context.Context, practiceID string, date time.Time) (func(), error) {
	key := slotKey(practiceID, date)
	token := fmt.Sprintf("%d", time.Now().UnixNano())

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("appointments: slot lock acquire: %w", err)
	}
	if !ok {
		return nil, ErrSlotBusy
	}

	release := func() {
		// Compare-and-delete so an expired lease taken over by another
		// booking is never released from here.
		const script = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`
		if err := l.client.Eval(context.Background(), script, []string{key}, token).Err(); err != nil {
			l.logger.Warn("slot lock release failed", "key", key, "error", err)
		}
	}
	return release, nil
}

func slotKey(practiceID string, date time.Time) string {
	return fmt.Sprintf("bookingengine:slotlock:%s:%s", practiceID, date.Format(time.DateOnly))
}
