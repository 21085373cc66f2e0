package processing

import (
	"sort"
	"sync"
	"time"
)

// TopicInfo holds publish statistics for a topic
type TopicInfo struct {
	Topic         string    `json:"topic"`
	Published     int64     `json:"published"`
	Failed        int64     `json:"failed"`
	Bytes         int64     `json:"bytes"`
	LastPublished time.Time `json:"last_published"`
}

// TopicRegistry tracks what the fan-out has published, per topic
type TopicRegistry struct {
	mu     sync.RWMutex
	topics map[string]*TopicInfo
	now    func() time.Time
}

// NewTopicRegistry creates an empty registry
func NewTopicRegistry() *TopicRegistry {
	return &TopicRegistry{
		topics: make(map[string]*TopicInfo),
		now:    time.Now,
	}
}

func (r *TopicRegistry) entry(topic string) *TopicInfo {
	info, exists := r.topics[topic]
	if !exists {
		info = &TopicInfo{Topic: topic}
		r.topics[topic] = info
	}
	return info
}

// RecordPublished counts a payload delivered to at least one publisher
func (r *TopicRegistry) RecordPublished(topic string, size int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	info := r.entry(topic)
	info.Published++
	info.Bytes += int64(size)
	info.LastPublished = r.now()
}

// RecordFailed counts a payload no publisher accepted
func (r *TopicRegistry) RecordFailed(topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entry(topic).Failed++
}

// GetTopicInfo returns a copy of the statistics for topic
func (r *TopicRegistry) GetTopicInfo(topic string) (TopicInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, exists := r.topics[topic]
	if !exists {
		return TopicInfo{}, false
	}
	return *info, true
}

// GetTopicStats returns all topics sorted by name
func (r *TopicRegistry) GetTopicStats() []TopicInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make([]TopicInfo, 0, len(r.topics))
	for _, info := range r.topics {
		stats = append(stats, *info)
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Topic < stats[j].Topic })
	return stats
}
