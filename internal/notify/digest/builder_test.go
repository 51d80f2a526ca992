package digest

import (
	"context"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"content-backoffice/internal/common/logger"
	"content-backoffice/internal/models"
	"content-backoffice/internal/notify/notifications"
)

type staticChannels []string

func (s staticChannels) Channels(context.Context, string) ([]string, error) {
	return []string(s), nil
}

type capturingSender struct {
	sent []*models.Notification
}

func (c *capturingSender) Dispatch(_ context.Context, n *models.Notification) {
	c.sent = append(c.sent, n)
}

func TestBuildDue_OneDigestPerUser(t *testing.T) {
	buckets, _ := newTestBuckets(t)
	ctx := context.Background()

	// Two distinct items plus a duplicate of the first; the digest must
	// carry two.
	require.NoError(t, buckets.Append(ctx, "user-1", models.FrequencyDaily, testItem("art-1")))
	require.NoError(t, buckets.Append(ctx, "user-1", models.FrequencyDaily, testItem("art-2")))
	require.NoError(t, buckets.Append(ctx, "user-1", models.FrequencyDaily, testItem("art-1")))

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec(`INSERT INTO notifications`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	sender := &capturingSender{}
	b := NewBuilder(buckets, notifications.NewStore(db),
		staticChannels{models.ChannelInApp, models.ChannelEmail}, sender, logger.NewTestLogger(t))

	sent, err := b.BuildDue(ctx, models.FrequencyDaily)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	require.Len(t, sender.sent, 1)
	n := sender.sent[0]
	assert.Equal(t, "user-1", n.UserID)
	assert.Equal(t, models.NotificationDigest, n.Type)
	assert.Equal(t, "Your daily digest: 2 new publications", n.Title)
	assert.Equal(t, models.DeliveryPending, n.DeliveryStatus[models.ChannelEmail])

	items := n.Data["items"].([]interface{})
	assert.Len(t, items, 2)
	assert.NoError(t, mock.ExpectationsWereMet())

	// The bucket was drained; a second run sends nothing.
	sent, err = b.BuildDue(ctx, models.FrequencyDaily)
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Empty(t, sender.sent[1:])
}

func TestBuildDue_RequeuesOnInsertFailure(t *testing.T) {
	buckets, _ := newTestBuckets(t)
	ctx := context.Background()

	require.NoError(t, buckets.Append(ctx, "user-1", models.FrequencyDaily, testItem("art-1")))
	require.NoError(t, buckets.Append(ctx, "user-1", models.FrequencyDaily, testItem("art-2")))

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec(`INSERT INTO notifications`).
		WillReturnError(fmt.Errorf("connection reset"))

	sender := &capturingSender{}
	b := NewBuilder(buckets, notifications.NewStore(db),
		staticChannels{models.ChannelInApp}, sender, logger.NewTestLogger(t))

	sent, err := b.BuildDue(ctx, models.FrequencyDaily)
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.Empty(t, sender.sent)

	// The drained items went back in the bucket; the next run delivers them.
	mock.ExpectExec(`INSERT INTO notifications`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	sent, err = b.BuildDue(ctx, models.FrequencyDaily)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "Your daily digest: 2 new publications", sender.sent[0].Title)
	assert.NoError(t, mock.ExpectationsWereMet())
}

type failingChannels struct{}

func (failingChannels) Channels(context.Context, string) ([]string, error) {
	return nil, fmt.Errorf("preference store unavailable")
}

func TestBuildDue_RequeuesWhenChannelsUnavailable(t *testing.T) {
	buckets, _ := newTestBuckets(t)
	ctx := context.Background()

	require.NoError(t, buckets.Append(ctx, "user-1", models.FrequencyWeekly, testItem("art-1")))

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	b := NewBuilder(buckets, notifications.NewStore(db),
		failingChannels{}, &capturingSender{}, logger.NewTestLogger(t))

	sent, err := b.BuildDue(ctx, models.FrequencyWeekly)
	require.NoError(t, err)
	assert.Zero(t, sent)

	items, err := buckets.Drain(ctx, "user-1", models.FrequencyWeekly)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "art-1", items[0].ContentID)
}

func TestBuildDue_NoPendingBuckets(t *testing.T) {
	buckets, _ := newTestBuckets(t)

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	b := NewBuilder(buckets, notifications.NewStore(db),
		staticChannels{models.ChannelInApp}, &capturingSender{}, logger.NewTestLogger(t))

	sent, err := b.BuildDue(context.Background(), models.FrequencyWeekly)
	require.NoError(t, err)
	assert.Zero(t, sent)
}
