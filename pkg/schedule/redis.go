package schedule

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	resumptionKey = "convoflow:resumptions"
	scanBatchSize = 100
)

// RedisDelayStore keeps resumptions in a Redis sorted set scored by resume
// time. Members are popped with a guarded ZREM, so concurrent scheduler
// replicas each deliver a resumption at most once.
type RedisDelayStore struct {
	client *redis.Client
}

func NewRedisDelayStore(url string) (*RedisDelayStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	return &RedisDelayStore{client: redis.NewClient(opts)}, nil
}

func (s *RedisDelayStore) Schedule(ctx context.Context, resumption Resumption) error {
	member := encodeMember(resumption)

	err := s.client.ZAdd(ctx, resumptionKey, redis.Z{
		Score:  float64(resumption.ResumeAt.Unix()),
		Member: member,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to schedule resumption: %w", err)
	}

	return nil
}

func (s *RedisDelayStore) Due(ctx context.Context, now time.Time, limit int) ([]Resumption, error) {
	members, err := s.client.ZRangeByScore(ctx, resumptionKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.Unix(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query due resumptions: %w", err)
	}

	due := make([]Resumption, 0, len(members))

	for _, member := range members {
		removed, err := s.client.ZRem(ctx, resumptionKey, member).Result()
		if err != nil {
			return due, fmt.Errorf("failed to claim resumption: %w", err)
		}

		// Another replica claimed it first.
		if removed == 0 {
			continue
		}

		resumption, err := decodeMember(member)
		if err != nil {
			return due, err
		}

		due = append(due, resumption)
	}

	return due, nil
}

func (s *RedisDelayStore) Remove(ctx context.Context, tenantID, executionID string) error {
	match := tenantID + "|" + executionID + "|*"

	var cursor uint64

	for {
		members, next, err := s.client.ZScan(ctx, resumptionKey, cursor, match, scanBatchSize).Result()
		if err != nil {
			return fmt.Errorf("failed to scan resumptions: %w", err)
		}

		// ZScan interleaves members and scores.
		for i := 0; i < len(members); i += 2 {
			if err := s.client.ZRem(ctx, resumptionKey, members[i]).Err(); err != nil {
				return fmt.Errorf("failed to remove resumption: %w", err)
			}
		}

		if next == 0 {
			break
		}

		cursor = next
	}

	return nil
}

func (s *RedisDelayStore) Close() error {
	return s.client.Close()
}

func (s *RedisDelayStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func encodeMember(resumption Resumption) string {
	return strings.Join([]string{
		resumption.TenantID,
		resumption.ExecutionID,
		resumption.StepID,
		strconv.FormatInt(resumption.ResumeAt.Unix(), 10),
	}, "|")
}

func decodeMember(member string) (Resumption, error) {
	parts := strings.Split(member, "|")
	if len(parts) != 4 {
		return Resumption{}, fmt.Errorf("malformed resumption member %q", member)
	}

	unix, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return Resumption{}, fmt.Errorf("malformed resumption timestamp in %q: %w", member, err)
	}

	return Resumption{
		TenantID:    parts[0],
		ExecutionID: parts[1],
		StepID:      parts[2],
		ResumeAt:    time.Unix(unix, 0).UTC(),
	}, nil
}
