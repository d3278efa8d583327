package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"live-quiz-service/internal/domain"
)

// ViolationCounter keeps per-(participant, type) violation counters for a
// session in Redis hashes. HINCRBY makes every report an atomic increment.
//
//	violations:{session}          {participant}|{type} -> count
//	violations:{session}:first    {participant}|{type} -> unix nanos (HSETNX)
//	violations:{session}:last     {participant}|{type} -> unix nanos
type ViolationCounter struct {
	client *redis.Client
	ttl    time.Duration
}

func NewViolationCounter(client *redis.Client, ttl time.Duration) *ViolationCounter {
	return &ViolationCounter{client: client, ttl: ttl}
}

func (c *ViolationCounter) IncrementViolation(ctx context.Context, sessionID, participantID string, violationType domain.ViolationType, at time.Time) (domain.SecurityViolation, error) {
	field := participantID + "|" + string(violationType)
	countKey, firstKey, lastKey := c.keys(sessionID)
	stamp := at.UnixNano()

	pipe := c.client.TxPipeline()
	incr := pipe.HIncrBy(ctx, countKey, field, 1)
	pipe.HSetNX(ctx, firstKey, field, stamp)
	pipe.HSet(ctx, lastKey, field, stamp)
	first := pipe.HGet(ctx, firstKey, field)
	if c.ttl > 0 {
		pipe.Expire(ctx, countKey, c.ttl)
		pipe.Expire(ctx, firstKey, c.ttl)
		pipe.Expire(ctx, lastKey, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.SecurityViolation{}, fmt.Errorf("increment violation: %w", err)
	}

	count := int(incr.Val())
	detected := at
	if n, err := first.Int64(); err == nil {
		detected = time.Unix(0, n)
	}
	return domain.SecurityViolation{
		ID:             sessionID + "|" + field,
		SessionID:      sessionID,
		ParticipantID:  participantID,
		ViolationType:  violationType,
		ViolationCount: count,
		Severity:       domain.SeverityFor(count),
		DetectedAt:     detected,
		UpdatedAt:      at,
	}, nil
}

func (c *ViolationCounter) ListViolations(ctx context.Context, sessionID string) ([]domain.SecurityViolation, error) {
	countKey, firstKey, lastKey := c.keys(sessionID)
	pipe := c.client.Pipeline()
	counts := pipe.HGetAll(ctx, countKey)
	firsts := pipe.HGetAll(ctx, firstKey)
	lasts := pipe.HGetAll(ctx, lastKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("list violations: %w", err)
	}

	out := make([]domain.SecurityViolation, 0, len(counts.Val()))
	for field, raw := range counts.Val() {
		participantID, violationType, ok := strings.Cut(field, "|")
		if !ok {
			continue
		}
		count, err := strconv.Atoi(raw)
		if err != nil {
			continue
		}
		out = append(out, domain.SecurityViolation{
			ID:             sessionID + "|" + field,
			SessionID:      sessionID,
			ParticipantID:  participantID,
			ViolationType:  domain.ViolationType(violationType),
			ViolationCount: count,
			Severity:       domain.SeverityFor(count),
			DetectedAt:     parseStamp(firsts.Val()[field]),
			UpdatedAt:      parseStamp(lasts.Val()[field]),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ParticipantID != out[j].ParticipantID {
			return out[i].ParticipantID < out[j].ParticipantID
		}
		return out[i].ViolationType < out[j].ViolationType
	})
	return out, nil
}

func (c *ViolationCounter) keys(sessionID string) (string, string, string) {
	base := "violations:" + sessionID
	return base, base + ":first", base + ":last"
}

func parseStamp(raw string) time.Time {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(0, n)
}
