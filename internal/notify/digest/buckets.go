// Package digest aggregates matched content for non-immediate subscribers
// into per-user buckets and periodically assembles them into one digest
// notification. Buckets live in Redis; the read happens in the same pipeline
// as the clear, so an item is never sent twice.
package digest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "content-backoffice/internal/common/errors"
	"content-backoffice/internal/models"
)

const keyPrefix = "digest"

// Buckets is the pending-item store.
type Buckets struct {
	rdb *redis.Client
}

func NewBuckets(rdb *redis.Client) *Buckets {
	return &Buckets{rdb: rdb}
}

func bucketKey(digestType models.Frequency, userID string) string {
	return fmt.Sprintf("%s:%s:u:%s", keyPrefix, digestType, userID)
}

func markerKey(digestType models.Frequency, userID string) string {
	return bucketKey(digestType, userID) + ":start"
}

// Append pushes a content reference onto the user's pending bucket and stamps
// the period start if this is the first item.
func (b *Buckets) Append(ctx context.Context, userID string, digestType models.Frequency, item models.DigestItem) error {
	if digestType != models.FrequencyDaily && digestType != models.FrequencyWeekly {
		return apperrors.NewValidationError(fmt.Sprintf("digest type must be daily or weekly, got %q", digestType))
	}

	payload, err := json.Marshal(item)
	if err != nil {
		return apperrors.NewValidationError("digest item is not serializable")
	}

	pipe := b.rdb.TxPipeline()
	pipe.RPush(ctx, bucketKey(digestType, userID), payload)
	pipe.SetNX(ctx, markerKey(digestType, userID), time.Now().UTC().Format(time.RFC3339), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append digest item: %w", err)
	}
	return nil
}

// Drain atomically takes and clears a user's bucket. The LRange and Del run
// in one transaction pipeline, so concurrent builders cannot both see the
// same items.
func (b *Buckets) Drain(ctx context.Context, userID string, digestType models.Frequency) ([]models.DigestItem, error) {
	key := bucketKey(digestType, userID)

	pipe := b.rdb.TxPipeline()
	rangeCmd := pipe.LRange(ctx, key, 0, -1)
	pipe.Del(ctx, key, markerKey(digestType, userID))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("drain digest bucket: %w", err)
	}

	raw, err := rangeCmd.Result()
	if err != nil {
		return nil, fmt.Errorf("read drained items: %w", err)
	}

	items := make([]models.DigestItem, 0, len(raw))
	for _, r := range raw {
		var item models.DigestItem
		if err := json.Unmarshal([]byte(r), &item); err != nil {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// PendingUsers scans for users with a non-empty bucket of the given type.
func (b *Buckets) PendingUsers(ctx context.Context, digestType models.Frequency) ([]string, error) {
	pattern := fmt.Sprintf("%s:%s:u:*", keyPrefix, digestType)
	prefix := fmt.Sprintf("%s:%s:u:", keyPrefix, digestType)

	var users []string
	var cursor uint64
	for {
		keys, next, err := b.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan digest buckets: %w", err)
		}
		for _, key := range keys {
			if strings.HasSuffix(key, ":start") {
				continue
			}
			users = append(users, strings.TrimPrefix(key, prefix))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return users, nil
}
