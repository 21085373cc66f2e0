package processing

import (
	customlog "github.com/open-teleop/robotlink/pkg/log"
)

// MessagePublisher defines the interface for publishing messages
type MessagePublisher interface {
	PublishMessage(topic string, data []byte) error
}

// PublishingResultHandler forwards processed payloads to every publisher
type PublishingResultHandler struct {
	logger     customlog.Logger
	publishers []MessagePublisher
	registry   *TopicRegistry
}

// NewPublishingResultHandler creates a result handler. Nil publishers are
// skipped so optional outputs can be passed unconditionally.
func NewPublishingResultHandler(logger customlog.Logger, publishers ...MessagePublisher) *PublishingResultHandler {
	h := &PublishingResultHandler{logger: logger}
	for _, p := range publishers {
		if p != nil {
			h.publishers = append(h.publishers, p)
		}
	}
	return h
}

// WithTopicRegistry records publish outcomes in r
func (h *PublishingResultHandler) WithTopicRegistry(r *TopicRegistry) *PublishingResultHandler {
	h.registry = r
	return h
}

// HandleResult publishes a processed frame
func (h *PublishingResultHandler) HandleResult(result *ProcessResult) {
	if result.Error != nil {
		h.logger.Errorf("Error processing frame for topic '%s': %v", result.Topic, result.Error)
		return
	}
	if len(result.Payload) == 0 {
		return
	}

	delivered := 0
	for _, publisher := range h.publishers {
		if err := publisher.PublishMessage(result.Topic, result.Payload); err != nil {
			h.logger.Errorf("Failed to publish frame for topic '%s': %v", result.Topic, err)
			continue
		}
		delivered++
	}
	if h.registry != nil {
		if delivered > 0 {
			h.registry.RecordPublished(result.Topic, len(result.Payload))
		} else {
			h.registry.RecordFailed(result.Topic)
		}
	}
	h.logger.Debugf("Published %d bytes for topic '%s' to %d publishers",
		len(result.Payload), result.Topic, len(h.publishers))
}

// CreateHandlerFunc creates a ResultHandler function for the ProcessingPool
func (h *PublishingResultHandler) CreateHandlerFunc() ResultHandler {
	return func(processResult *ProcessResult) {
		if processResult == nil {
			h.logger.Errorf("Received nil ProcessResult")
			return
		}
		h.HandleResult(processResult)
	}
}
