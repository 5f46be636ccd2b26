// Package mqtt publishes decoded readings to an MQTT broker with automatic
// reconnection and bounded buffering across outages.
package mqtt

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/martinkalmus/ha-timnet/internal/config"
	"github.com/martinkalmus/ha-timnet/internal/domain"
	"github.com/martinkalmus/ha-timnet/internal/metrics"
)

// Publisher publishes readings as retained JSON messages, one topic per
// reading key under the configured prefix.
type Publisher struct {
	config  config.MQTTConfig
	logger  zerolog.Logger
	metrics *metrics.Registry

	mu        sync.RWMutex
	client    pahomqtt.Client
	connected atomic.Bool

	buffer chan bufferedMessage
	done   chan struct{}
	wg     sync.WaitGroup
}

type bufferedMessage struct {
	topic    string
	payload  []byte
	buffered time.Time
}

// NewPublisher creates a publisher. Batches are buffered until a broker
// session is up; the drainer runs from construction so messages buffered
// before (or during a failed) Connect are still delivered once the broker
// appears.
func NewPublisher(cfg config.MQTTConfig, logger zerolog.Logger, metricsReg *metrics.Registry) *Publisher {
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	p := &Publisher{
		config:  cfg,
		logger:  logger.With().Str("component", "mqtt-publisher").Logger(),
		metrics: metricsReg,
		buffer:  make(chan bufferedMessage, bufferSize),
		done:    make(chan struct{}),
	}
	p.wg.Add(1)
	go p.processBuffer()
	return p
}

// Connect establishes the broker session. A broker that is down now is
// retried in the background until Disconnect; the error returned here only
// reports that the first attempt did not complete in time.
func (p *Publisher) Connect(ctx context.Context) error {
	retryDelay := p.config.ReconnectDelay
	if retryDelay <= 0 {
		retryDelay = 5 * time.Second
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(p.config.BrokerURL)
	opts.SetClientID(p.config.ClientID)
	opts.SetKeepAlive(p.config.KeepAlive)
	opts.SetConnectTimeout(p.config.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(retryDelay)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(retryDelay)
	opts.SetCleanSession(true)

	if p.config.Username != "" {
		opts.SetUsername(p.config.Username)
		opts.SetPassword(p.config.Password)
	}

	opts.SetOnConnectHandler(p.onConnect)
	opts.SetConnectionLostHandler(p.onConnectionLost)
	opts.SetReconnectingHandler(p.onReconnecting)

	p.mu.Lock()
	p.client = pahomqtt.NewClient(opts)
	client := p.client
	p.mu.Unlock()

	p.logger.Info().Str("broker", p.config.BrokerURL).Msg("Connecting to MQTT broker")

	token := client.Connect()
	connectDone := make(chan bool, 1)
	go func() {
		connectDone <- token.WaitTimeout(p.config.ConnectTimeout)
	}()

	select {
	case success := <-connectDone:
		if !success {
			return fmt.Errorf("%w: connection timeout", domain.ErrMQTTConnectionFailed)
		}
		if token.Error() != nil {
			return fmt.Errorf("%w: %v", domain.ErrMQTTConnectionFailed, token.Error())
		}
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", domain.ErrMQTTConnectionFailed, ctx.Err())
	}

	p.connected.Store(true)
	p.logger.Info().Msg("Connected to MQTT broker")
	return nil
}

// Disconnect drains the publisher and closes the broker session.
func (p *Publisher) Disconnect() {
	select {
	case <-p.done:
	default:
		close(p.done)
	}
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
	p.connected.Store(false)
	p.logger.Info().Msg("Disconnected from MQTT broker")
}

// PublishBatch publishes one reading per topic. While the broker is away
// messages are buffered and delivered on reconnect.
func (p *Publisher) PublishBatch(ctx context.Context, readings []domain.Reading) error {
	var firstErr error
	for i := range readings {
		if err := p.publishReading(ctx, &readings[i]); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *Publisher) publishReading(ctx context.Context, reading *domain.Reading) error {
	payload, err := reading.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to serialize reading %s: %w", reading.Key, err)
	}
	topic := p.Topic(reading.Key)

	if !p.connected.Load() {
		return p.bufferMessage(topic, payload)
	}
	return p.publishRaw(ctx, topic, payload)
}

// Topic returns the full topic for a reading key.
func (p *Publisher) Topic(key string) string {
	return p.config.TopicPrefix + "/" + key
}

func (p *Publisher) publishRaw(ctx context.Context, topic string, payload []byte) error {
	p.mu.RLock()
	client := p.client
	p.mu.RUnlock()

	if client == nil {
		return domain.ErrMQTTNotConnected
	}

	token := client.Publish(topic, p.config.QoS, p.config.Retain, payload)
	publishDone := make(chan bool, 1)
	go func() {
		publishDone <- token.WaitTimeout(p.config.PublishTimeout)
	}()

	select {
	case success := <-publishDone:
		if !success {
			p.recordFailure()
			return fmt.Errorf("%w: publish timeout", domain.ErrMQTTPublishFailed)
		}
		if token.Error() != nil {
			p.recordFailure()
			return fmt.Errorf("%w: %v", domain.ErrMQTTPublishFailed, token.Error())
		}
	case <-ctx.Done():
		p.recordFailure()
		return fmt.Errorf("%w: %v", domain.ErrMQTTPublishFailed, ctx.Err())
	}

	if p.metrics != nil {
		p.metrics.MQTTMessagesPublished.Inc()
	}
	return nil
}

func (p *Publisher) recordFailure() {
	if p.metrics != nil {
		p.metrics.MQTTMessagesFailed.Inc()
	}
}

// bufferMessage queues a message for delivery on reconnect. When the buffer
// is full the oldest message is dropped; readings are retained state, so the
// newest value always wins.
func (p *Publisher) bufferMessage(topic string, payload []byte) error {
	msg := bufferedMessage{topic: topic, payload: payload, buffered: time.Now()}
	select {
	case p.buffer <- msg:
		return nil
	default:
		select {
		case <-p.buffer:
			p.logger.Warn().Msg("Buffer full, dropping oldest message")
		default:
		}
		select {
		case p.buffer <- msg:
			return nil
		default:
			return fmt.Errorf("%w: buffer full", domain.ErrMQTTPublishFailed)
		}
	}
}

// processBuffer delivers buffered messages whenever the session is up.
func (p *Publisher) processBuffer() {
	defer p.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			if !p.connected.Load() {
				continue
			}
			p.drainBuffer()
		}
	}
}

func (p *Publisher) drainBuffer() {
	for {
		select {
		case msg := <-p.buffer:
			ctx, cancel := context.WithTimeout(context.Background(), p.config.PublishTimeout)
			err := p.publishRaw(ctx, msg.topic, msg.payload)
			cancel()
			if err != nil {
				p.logger.Warn().Err(err).Str("topic", msg.topic).Msg("Failed to publish buffered message")
				return
			}
		default:
			return
		}
	}
}

func (p *Publisher) onConnect(client pahomqtt.Client) {
	p.connected.Store(true)
	p.logger.Info().Msg("MQTT session established")
}

func (p *Publisher) onConnectionLost(client pahomqtt.Client, err error) {
	p.connected.Store(false)
	p.logger.Warn().Err(err).Msg("MQTT connection lost")
}

func (p *Publisher) onReconnecting(client pahomqtt.Client, opts *pahomqtt.ClientOptions) {
	if p.metrics != nil {
		p.metrics.MQTTReconnects.Inc()
	}
	p.logger.Info().Msg("Reconnecting to MQTT broker")
}

// IsConnected reports whether the broker session is up.
func (p *Publisher) IsConnected() bool {
	return p.connected.Load()
}

// BufferedMessages returns the current number of queued messages.
func (p *Publisher) BufferedMessages() int {
	return len(p.buffer)
}

// HealthCheck reports unhealthy while the broker session is down.
func (p *Publisher) HealthCheck(ctx context.Context) error {
	if !p.connected.Load() {
		return domain.ErrMQTTNotConnected
	}
	return nil
}
