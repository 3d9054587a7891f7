package ledger

import (
	"context"
	"encoding/json"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLedger stores records in per-direction sorted sets scored by
// creation time (unix millis), so windowed aggregation is a single
// ZRANGEBYSCORE. Members are the JSON-encoded records; amounts stay
// decimal strings end to end.
type RedisLedger struct {
	client *redis.Client
	prefix string
}

var _ Ledger = (*RedisLedger)(nil)

// NewRedisLedger creates a ledger over an existing redis client. The
// prefix namespaces keys; "x402:ledger" when empty.
func NewRedisLedger(client *redis.Client, prefix string) *RedisLedger {
	if prefix == "" {
		prefix = "x402:ledger"
	}
	return &RedisLedger{client: client, prefix: prefix}
}

func (l *RedisLedger) key(direction Direction) string {
	return l.prefix + ":" + string(direction)
}

func (l *RedisLedger) Record(ctx context.Context, rec Record) error {
	if err := normalize(&rec); err != nil {
		return err
	}
	member, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return l.client.ZAdd(ctx, l.key(rec.Direction), redis.Z{
		Score:  float64(rec.CreatedAt.UnixMilli()),
		Member: string(member),
	}).Err()
}

// rangeRecords fetches all records for a direction at or after since.
func (l *RedisLedger) rangeRecords(ctx context.Context, direction Direction, since time.Time, bounded bool) ([]Record, error) {
	min := "-inf"
	if bounded {
		min = strconv.FormatInt(since.UnixMilli(), 10)
	}
	members, err := l.client.ZRangeByScore(ctx, l.key(direction), &redis.ZRangeBy{
		Min: min,
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(members))
	for _, member := range members {
		var rec Record
		if err := json.Unmarshal([]byte(member), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (l *RedisLedger) Total(ctx context.Context, direction Direction, window time.Duration, counterparty string) (*big.Int, error) {
	since, bounded := windowStart(window)
	records, err := l.rangeRecords(ctx, direction, since, bounded)
	if err != nil {
		return nil, err
	}

	total := new(big.Int)
	for _, rec := range records {
		if !countsTowardTotals(rec.Status) {
			continue
		}
		if counterparty != "" && !strings.EqualFold(rec.Counterparty, counterparty) {
			continue
		}
		if amount, ok := new(big.Int).SetString(rec.Amount, 10); ok {
			total.Add(total, amount)
		}
	}
	return total, nil
}

func (l *RedisLedger) Count(ctx context.Context, direction Direction, window time.Duration) (int, error) {
	since, bounded := windowStart(window)
	records, err := l.rangeRecords(ctx, direction, since, bounded)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, rec := range records {
		if countsTowardTotals(rec.Status) {
			count++
		}
	}
	return count, nil
}

func (l *RedisLedger) Query(ctx context.Context, filter Filter) ([]Record, error) {
	directions := []Direction{Outgoing, Incoming}
	if filter.Direction != "" {
		directions = []Direction{filter.Direction}
	}

	matched := make([]Record, 0)
	for _, direction := range directions {
		records, err := l.rangeRecords(ctx, direction, filter.Since, !filter.Since.IsZero())
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			if filter.Status != "" && rec.Status != filter.Status {
				continue
			}
			if filter.Counterparty != "" && !strings.EqualFold(rec.Counterparty, filter.Counterparty) {
				continue
			}
			if filter.Network != "" && rec.Network != filter.Network {
				continue
			}
			matched = append(matched, rec)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []Record{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func (l *RedisLedger) Clear(ctx context.Context) error {
	return l.client.Del(ctx, l.key(Outgoing), l.key(Incoming)).Err()
}
