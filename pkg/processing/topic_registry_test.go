package processing

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	customlog "github.com/open-teleop/robotlink/pkg/log"
)

func TestTopicRegistryRecordsOutcomes(t *testing.T) {
	r := NewTopicRegistry()
	fixed := time.Unix(1700000000, 0)
	r.now = func() time.Time { return fixed }

	r.RecordPublished("odom", 40)
	r.RecordPublished("odom", 40)
	r.RecordFailed("event")

	info, ok := r.GetTopicInfo("odom")
	require.True(t, ok)
	assert.EqualValues(t, 2, info.Published)
	assert.EqualValues(t, 80, info.Bytes)
	assert.Equal(t, fixed, info.LastPublished)

	_, ok = r.GetTopicInfo("missing")
	assert.False(t, ok)

	stats := r.GetTopicStats()
	require.Len(t, stats, 2)
	assert.Equal(t, "event", stats[0].Topic)
	assert.EqualValues(t, 1, stats[0].Failed)
	assert.Equal(t, "odom", stats[1].Topic)
}

func TestPublishingResultHandlerFeedsRegistry(t *testing.T) {
	logger := customlog.NewNopLogger()
	r := NewTopicRegistry()
	ok := &recordingPublisher{}
	NewPublishingResultHandler(logger, ok).WithTopicRegistry(r).
		HandleResult(&ProcessResult{Topic: "odom", Payload: []byte{1, 2, 3}})

	failing := &recordingPublisher{err: errors.New("down")}
	NewPublishingResultHandler(logger, failing).WithTopicRegistry(r).
		HandleResult(&ProcessResult{Topic: "odom", Payload: []byte{1}})

	info, found := r.GetTopicInfo("odom")
	require.True(t, found)
	assert.EqualValues(t, 1, info.Published)
	assert.EqualValues(t, 1, info.Failed)
	assert.EqualValues(t, 3, info.Bytes)
}
