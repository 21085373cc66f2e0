// Package mqtt publishes telemetry and link events to an MQTT broker.
package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	customlog "github.com/open-teleop/robotlink/pkg/log"
)

var (
	ErrNotConnected   = errors.New("mqtt not connected")
	ErrPublishTimeout = errors.New("mqtt publish timeout")
	ErrClosed         = errors.New("mqtt publisher closed")
)

const defaultNetworkTimeout = 10 * time.Second

// Options configures a Publisher
type Options struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	TopicPrefix    string
	RobotID        string
	QoS            byte
	ConnectTimeout time.Duration
	// Routes maps internal topics to the suffix used under
	// <prefix>/<robot_id>/. Retained marks topics that keep their last value.
	Routes   map[string]string
	Retained map[string]bool
	// WillSuffix is where the retained OFFLINE will is left, "link" if empty.
	WillSuffix string
}

// client is the part of paho.Client the publisher uses
type client interface {
	Connect() paho.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// Publisher maps internal topics onto the broker's topic tree
type Publisher struct {
	opts   Options
	c      client
	logger customlog.Logger

	mu     sync.RWMutex
	robot  string
	stopCh chan struct{}
	closed bool
	wg     sync.WaitGroup
}

type pahoLogger struct {
	printf func(format string, args ...interface{})
}

func (l pahoLogger) Println(v ...interface{}) {
	l.printf("mqtt: %s", strings.TrimSpace(fmt.Sprintln(v...)))
}

func (l pahoLogger) Printf(format string, v ...interface{}) {
	l.printf("mqtt: "+format, v...)
}

// NewPublisher builds a paho client for opts. The link topic carries a
// retained OFFLINE will so subscribers see the controller disappear.
func NewPublisher(opts Options, logger customlog.Logger) *Publisher {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultNetworkTimeout
	}
	if opts.WillSuffix == "" {
		opts.WillSuffix = "link"
	}
	paho.ERROR = pahoLogger{printf: logger.Errorf}
	paho.CRITICAL = pahoLogger{printf: logger.Errorf}
	paho.WARN = pahoLogger{printf: logger.Warnf}

	p := &Publisher{opts: opts, logger: logger, robot: opts.RobotID, stopCh: make(chan struct{})}

	will, _ := json.Marshal(map[string]interface{}{
		"type":      "LINK_EVENT",
		"timestamp": float64(time.Now().Unix()),
		"data":      map[string]string{"type": "OFFLINE"},
	})

	mopt := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetClientID(opts.ClientID).
		SetConnectTimeout(opts.ConnectTimeout).
		SetMaxReconnectInterval(opts.ConnectTimeout).
		SetOrderMatters(false).
		SetWriteTimeout(opts.ConnectTimeout).
		SetBinaryWill(p.topicFor(opts.WillSuffix), will, opts.QoS, true)
	if opts.Username != "" {
		mopt.SetUsername(opts.Username)
		mopt.SetPassword(opts.Password)
	}
	mopt.SetOnConnectHandler(func(paho.Client) {
		logger.Infof("MQTT connected to %s", opts.Broker)
	})
	mopt.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Warnf("MQTT connection lost: %v", err)
	})

	p.c = paho.NewClient(mopt)
	return p
}

func newPublisherWithClient(opts Options, c client, logger customlog.Logger) *Publisher {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = defaultNetworkTimeout
	}
	return &Publisher{opts: opts, c: c, logger: logger, robot: opts.RobotID, stopCh: make(chan struct{})}
}

// Start connects in the background, retrying every second until Close
func (p *Publisher) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.online()
	}()
}

func (p *Publisher) online() {
	for p.isRunning() {
		if p.c.IsConnected() {
			return
		}
		t := p.c.Connect()
		if p.tokenWait(t, "connect") == nil {
			return
		}
		select {
		case <-p.stopCh:
			return
		case <-time.After(time.Second):
		}
	}
}

func (p *Publisher) isRunning() bool {
	select {
	case <-p.stopCh:
		return false
	default:
		return true
	}
}

// Close stops reconnecting and disconnects from the broker
func (p *Publisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
	if p.c.IsConnected() {
		p.c.Disconnect(uint(p.opts.ConnectTimeout / time.Millisecond))
	}
	p.logger.Infof("MQTT publisher closed")
}

// SetRobotID changes the robot segment of published topics
func (p *Publisher) SetRobotID(robotID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.robot = robotID
}

// PublishMessage publishes raw bytes for an internal topic
func (p *Publisher) PublishMessage(topic string, data []byte) error {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if !p.c.IsConnected() {
		return ErrNotConnected
	}

	suffix, ok := p.opts.Routes[topic]
	if !ok {
		suffix = strings.ReplaceAll(topic, ".", "/")
	}
	t := p.c.Publish(p.topicFor(suffix), p.opts.QoS, p.opts.Retained[topic], data)
	return p.tokenWait(t, "publish "+topic)
}

// PublishJSON publishes a typed JSON envelope, matching the ZeroMQ wire shape
func (p *Publisher) PublishJSON(topic string, messageType string, data interface{}) error {
	payload, err := json.Marshal(map[string]interface{}{
		"type":      messageType,
		"timestamp": float64(time.Now().UnixNano()) / 1e9,
		"data":      data,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", messageType, err)
	}
	return p.PublishMessage(topic, payload)
}

func (p *Publisher) topicFor(suffix string) string {
	p.mu.RLock()
	robot := p.robot
	p.mu.RUnlock()
	return fmt.Sprintf("%s/%s/%s", p.opts.TopicPrefix, robot, suffix)
}

func (p *Publisher) tokenWait(t paho.Token, tag string) error {
	if !t.WaitTimeout(p.opts.ConnectTimeout) {
		p.logger.Errorf("MQTT %s timeout", tag)
		return fmt.Errorf("%w: %s", ErrPublishTimeout, tag)
	}
	if err := t.Error(); err != nil {
		p.logger.Errorf("MQTT %s: %v", tag, err)
		return fmt.Errorf("%s: %w", tag, err)
	}
	return nil
}
