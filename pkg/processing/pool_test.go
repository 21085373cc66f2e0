package processing

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	customlog "github.com/open-teleop/robotlink/pkg/log"
	"github.com/open-teleop/robotlink/pkg/wire"
)

type recordingPublisher struct {
	mu       sync.Mutex
	messages map[string][][]byte
	err      error
}

func (r *recordingPublisher) PublishMessage(topic string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if r.messages == nil {
		r.messages = make(map[string][][]byte)
	}
	r.messages[topic] = append(r.messages[topic], data)
	return nil
}

func (r *recordingPublisher) count(topic string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages[topic])
}

func TestPoolProcessesAndPublishes(t *testing.T) {
	logger := customlog.NewNopLogger()
	pub := &recordingPublisher{}
	pool := NewProcessingPool("telemetry", 2, 8, logger)
	pool.SetProcessor(func(f *Frame) ([]byte, error) {
		return wire.EncodeOdometry(f.Odometry), nil
	})
	pool.SetResultHandler(NewPublishingResultHandler(logger, pub, nil).CreateHandlerFunc())
	pool.Start()

	for i := 0; i < 5; i++ {
		require.True(t, pool.Submit(&Frame{Topic: "odom", Odometry: wire.Odometry{X: float32(i)}}))
	}
	pool.Stop()

	assert.Equal(t, 5, pub.count("odom"))
	m := pool.GetMetrics()
	assert.EqualValues(t, 5, m.ProcessedCount)
	assert.EqualValues(t, 5, m.QueuedCount)
	assert.Zero(t, m.DroppedCount)
}

func TestPoolDropsWhenQueueFull(t *testing.T) {
	started := make(chan struct{}, 1)
	gate := make(chan struct{})
	pool := NewProcessingPool("telemetry", 1, 1, customlog.NewNopLogger())
	pool.SetProcessor(func(f *Frame) ([]byte, error) {
		started <- struct{}{}
		<-gate
		return nil, nil
	})
	pool.Start()

	require.True(t, pool.Submit(&Frame{Topic: "a"}))
	<-started
	require.True(t, pool.Submit(&Frame{Topic: "b"}))
	assert.False(t, pool.Submit(&Frame{Topic: "c"}))
	assert.EqualValues(t, 1, pool.GetMetrics().DroppedCount)

	close(gate)
	pool.Stop()
	assert.EqualValues(t, 2, pool.GetMetrics().ProcessedCount)
}

func TestPoolRejectsWhenNotRunning(t *testing.T) {
	pool := NewProcessingPool("telemetry", 1, 4, customlog.NewNopLogger())
	assert.False(t, pool.Submit(&Frame{}))

	pool.Start()
	pool.Stop()
	assert.False(t, pool.Submit(&Frame{}))

	// stopped pools stay stopped
	pool.Start()
	assert.False(t, pool.Submit(&Frame{}))
	pool.Stop()
}

func TestPoolCountsProcessorErrors(t *testing.T) {
	logger := customlog.NewNopLogger()
	pub := &recordingPublisher{}
	pool := NewProcessingPool("telemetry", 1, 4, logger)
	pool.SetProcessor(func(f *Frame) ([]byte, error) {
		return nil, errors.New("encode failed")
	})
	pool.SetResultHandler(NewPublishingResultHandler(logger, pub).CreateHandlerFunc())
	pool.Start()
	pool.Submit(&Frame{Topic: "odom"})
	pool.Stop()

	assert.EqualValues(t, 1, pool.GetMetrics().ErrorCount)
	assert.Zero(t, pub.count("odom"))
}

func TestPublishingResultHandlerContinuesPastFailures(t *testing.T) {
	logger := customlog.NewNopLogger()
	failing := &recordingPublisher{err: errors.New("socket closed")}
	ok := &recordingPublisher{}
	h := NewPublishingResultHandler(logger, failing, ok)

	h.HandleResult(&ProcessResult{Topic: "odom", Payload: []byte{1}, Timestamp: time.Now().UnixNano()})
	h.HandleResult(&ProcessResult{Topic: "odom"})
	h.CreateHandlerFunc()(nil)

	assert.Equal(t, 1, ok.count("odom"))
}
