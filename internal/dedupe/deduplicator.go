// Package dedupe gates webhook processing so each (entity, event type) pair
// triggers downstream work at most once within a TTL window.
package dedupe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"engagement_backend/platform/logger"
	"engagement_backend/platform/metrics"

	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix = "dedupe"
	scanBatch = 200
)

// ErrStoreUnavailable is returned when Redis cannot be reached. CheckAndMark
// reports false alongside it so callers drop the event instead of reprocessing.
var ErrStoreUnavailable = errors.New("dedupe store unavailable")

// Record is an active dedupe key.
type Record struct {
	EntityID    string        `json:"entityId"`
	EventType   string        `json:"eventType"`
	FirstSeenAt time.Time     `json:"firstSeenAt"`
	TTL         time.Duration `json:"ttl"`
}

type Deduplicator struct {
	rdb     redis.UniversalClient
	ttl     time.Duration
	log     *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func New(rdb redis.UniversalClient, ttl time.Duration, log *logger.Logger, m *metrics.Metrics) *Deduplicator {
	return &Deduplicator{
		rdb:     rdb,
		ttl:     ttl,
		log:     log,
		metrics: m,
		now:     time.Now,
	}
}

// CheckAndMark atomically records the first delivery of an event. Only the
// caller that wins the SET NX race gets true.
func (d *Deduplicator) CheckAndMark(ctx context.Context, entityID, eventType string) (bool, error) {
	if entityID == "" || eventType == "" {
		return false, fmt.Errorf("entityId and eventType are required")
	}

	won, err := d.rdb.SetNX(ctx, key(entityID, eventType), d.now().UTC().Format(time.RFC3339Nano), d.ttl).Result()
	if err != nil {
		d.metrics.ObserveDedupeFailure()
		d.log.StoreError("redis", "dedupe_check_and_mark", err)
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return won, nil
}

// Release forgets a mark so a redelivery of the same event is processed again.
// Used when processing failed in a recoverable way after the mark was taken.
func (d *Deduplicator) Release(ctx context.Context, entityID, eventType string) error {
	if err := d.rdb.Del(ctx, key(entityID, eventType)).Err(); err != nil {
		d.log.StoreError("redis", "dedupe_release", err)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (d *Deduplicator) IsRecentlyProcessed(ctx context.Context, entityID, eventType string) (bool, error) {
	n, err := d.rdb.Exists(ctx, key(entityID, eventType)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n == 1, nil
}

// RemainingTTL returns how long the mark stays active, or 0 when absent.
func (d *Deduplicator) RemainingTTL(ctx context.Context, entityID, eventType string) (time.Duration, error) {
	ttl, err := d.rdb.PTTL(ctx, key(entityID, eventType)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// EnumerateActive lists active marks. Operational use only: it walks the
// keyspace with SCAN.
func (d *Deduplicator) EnumerateActive(ctx context.Context, limit int) ([]Record, error) {
	var (
		records []Record
		cursor  uint64
	)
	for {
		keys, next, err := d.rdb.Scan(ctx, cursor, keyPrefix+":*", scanBatch).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		for _, k := range keys {
			rec, ok, err := d.describe(ctx, k)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			records = append(records, rec)
			if limit > 0 && len(records) >= limit {
				return records, nil
			}
		}
		cursor = next
		if cursor == 0 {
			return records, nil
		}
	}
}

// ClearAll deletes every dedupe mark and returns how many were removed.
func (d *Deduplicator) ClearAll(ctx context.Context) (int, error) {
	var (
		cleared int
		cursor  uint64
	)
	for {
		keys, next, err := d.rdb.Scan(ctx, cursor, keyPrefix+":*", scanBatch).Result()
		if err != nil {
			return cleared, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if len(keys) > 0 {
			n, err := d.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return cleared, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}
			cleared += int(n)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	d.log.Warn("dedupe marks cleared", "count", cleared)
	return cleared, nil
}

func (d *Deduplicator) describe(ctx context.Context, k string) (Record, bool, error) {
	eventType, entityID, ok := parseKey(k)
	if !ok {
		return Record{}, false, nil
	}

	raw, err := d.rdb.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	ttl, err := d.rdb.PTTL(ctx, k).Result()
	if err != nil {
		return Record{}, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	firstSeen, _ := time.Parse(time.RFC3339Nano, raw)
	return Record{EntityID: entityID, EventType: eventType, FirstSeenAt: firstSeen, TTL: max(ttl, 0)}, true, nil
}

func key(entityID, eventType string) string {
	return keyPrefix + ":" + eventType + ":" + entityID
}

func parseKey(k string) (eventType, entityID string, ok bool) {
	parts := strings.SplitN(k, ":", 3)
	if len(parts) != 3 || parts[0] != keyPrefix {
		return "", "", false
	}
	return parts[1], parts[2], true
}
